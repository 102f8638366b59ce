package orchestrate

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"atomic-deploy/internal/jobconfig"
	"atomic-deploy/internal/vfs"
)

// fakeDir is a small in-memory Dir used to exercise the orchestrator's
// directory-management and cleanup logic without touching a real
// filesystem or SSH session.
type fakeDir struct {
	files map[string]string
	dirs  map[string]bool
}

func newFakeDir() *fakeDir {
	return &fakeDir{files: map[string]string{}, dirs: map[string]bool{"": true}}
}

func (f *fakeDir) Exists(p string) bool { return f.dirs[p] || hasFile(f.files, p) }
func hasFile(files map[string]string, p string) bool { _, ok := files[p]; return ok }
func (f *fakeDir) IsFile(p string) bool              { return hasFile(f.files, p) }
func (f *fakeDir) IsDir(p string) bool               { return f.dirs[p] }
func (f *fakeDir) Stat(p string) (vfs.FileInfo, error) {
	return vfs.FileInfo{IsDir: f.dirs[p]}, nil
}
func (f *fakeDir) Chmod(p string, mode uint32) error { return nil }
func (f *fakeDir) GetAbs(p string) (string, error)   { return "/abs/" + p, nil }
func (f *fakeDir) Open(p string, mode string, fn func(io.ReadWriteCloser) error) error {
	rw := &fakeFile{dir: f, path: p}
	return fn(rw)
}
func (f *fakeDir) MakeDirs(p string) error { f.dirs[p] = true; return nil }
func (f *fakeDir) Remove(p string) error   { delete(f.files, p); return nil }
func (f *fakeDir) RmTree(p string) error {
	delete(f.dirs, p)
	prefix := p + "/"
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			delete(f.files, k)
		}
	}
	for k := range f.dirs {
		if strings.HasPrefix(k, prefix) {
			delete(f.dirs, k)
		}
	}
	return nil
}
func (f *fakeDir) Rename(p, newBasename string) error {
	dir := ""
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		dir = p[:idx]
	}
	target := dir
	if target != "" {
		target += "/"
	}
	target += newBasename
	if content, ok := f.files[p]; ok {
		delete(f.files, p)
		f.files[target] = content
	}
	return nil
}
func (f *fakeDir) Copy(inPath, outPath string) error           { return nil }
func (f *fakeDir) CopyFrom(localSource string, p string) error { return nil }
func (f *fakeDir) CopyTo(p string, localTarget string) error   { return nil }
func (f *fakeDir) Glob(pattern string) ([]string, error) {
	matches, err := vfs.GlobWalk("", pattern, f.walkLevel)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
func (f *fakeDir) IterDir(p string) ([]string, error) { return nil, nil }
func (f *fakeDir) walkLevel(dir string) (subdirs, files []string, err error) {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]bool{}
	for k := range f.dirs {
		if k == "" || k == dir {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			rest := strings.TrimPrefix(k, prefix)
			if !strings.Contains(rest, "/") && !seen[rest] {
				subdirs = append(subdirs, rest)
				seen[rest] = true
			}
		}
	}
	for k := range f.files {
		if strings.HasPrefix(k, prefix) {
			rest := strings.TrimPrefix(k, prefix)
			if !strings.Contains(rest, "/") {
				files = append(files, rest)
			}
		}
	}
	return subdirs, files, nil
}
func (f *fakeDir) ExecCmnd(ctx context.Context, cmnd string, p string, raiseOnError bool, timeout time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeDir) Close() error { return nil }

type fakeFile struct {
	dir  *fakeDir
	path string
}

func (rw *fakeFile) Read(p []byte) (int, error) {
	content := rw.dir.files[rw.path]
	copy(p, content)
	if len(content) == 0 {
		return 0, io.EOF
	}
	return len(content), io.EOF
}
func (rw *fakeFile) Write(p []byte) (int, error) {
	rw.dir.files[rw.path] = rw.dir.files[rw.path] + string(p)
	return len(p), nil
}
func (rw *fakeFile) Close() error { return nil }

func TestApplyExistencePolicyAbort(t *testing.T) {
	d := newFakeDir()
	d.dirs["1_run"] = true
	if err := applyExistencePolicy(d, "1_run", PolicyAbort); err == nil {
		t.Fatal("expected abort policy to fail on existing directory")
	}
}

func TestApplyExistencePolicyRemove(t *testing.T) {
	d := newFakeDir()
	d.dirs["1_run"] = true
	d.files["1_run/stale.txt"] = "old"
	if err := applyExistencePolicy(d, "1_run", PolicyRemove); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Exists("1_run/stale.txt") {
		t.Fatal("expected stale file to be removed")
	}
	if !d.dirs["1_run"] {
		t.Fatal("expected directory to be recreated")
	}
}

func TestApplyRemoveIgnoresMissing(t *testing.T) {
	d := newFakeDir()
	d.dirs["1_run"] = true
	if err := applyRemove(d, "1_run", []string{"nope.txt"}); err != nil {
		t.Fatalf("unexpected error for missing path: %v", err)
	}
}

func TestApplyRenameSubstring(t *testing.T) {
	d := newFakeDir()
	d.dirs["1_run"] = true
	d.files["1_run/result_old.txt"] = "data"

	pairs := []jobconfig.RenamePair{{Old: "old", New: "new"}}
	if err := applyRename(d, "1_run", pairs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := d.files["1_run/result_new.txt"]; !ok {
		t.Fatalf("expected renamed file, got files: %v", d.files)
	}
}

func TestParseRunSelector(t *testing.T) {
	set, err := ParseRunSelector("1,5-6,7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []int{1, 5, 6, 7} {
		if !set[id] {
			t.Fatalf("expected id %d selected", id)
		}
	}
	if set[2] {
		t.Fatal("expected id 2 not selected")
	}
}
