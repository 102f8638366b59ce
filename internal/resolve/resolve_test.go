package resolve

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atomic-deploy/internal/jobconfig"
	"atomic-deploy/internal/vfs"
)

// memDir is a minimal in-memory vfs.Dir fake for exercising the resolver
// without touching the real filesystem, in the spirit of
// internal/config/config_test.go's use of a scratch temp dir.
type memDir struct {
	files map[string]string
	modes map[string]uint32
}

func newMemDir(files map[string]string) *memDir {
	modes := map[string]uint32{}
	for k := range files {
		modes[k] = 0o644
	}
	return &memDir{files: files, modes: modes}
}

func (m *memDir) Exists(p string) bool { _, ok := m.files[p]; return ok }
func (m *memDir) IsFile(p string) bool { _, ok := m.files[p]; return ok }
func (m *memDir) IsDir(p string) bool  { return false }
func (m *memDir) Stat(p string) (vfs.FileInfo, error) {
	return vfs.FileInfo{Mode: m.modes[p], Size: int64(len(m.files[p]))}, nil
}
func (m *memDir) Chmod(p string, mode uint32) error { m.modes[p] = mode; return nil }
func (m *memDir) GetAbs(p string) (string, error)   { return p, nil }
func (m *memDir) Open(p string, mode string, fn func(io.ReadWriteCloser) error) error {
	return fn(&memFile{strings.NewReader(m.files[p])})
}
func (m *memDir) MakeDirs(p string) error                    { return nil }
func (m *memDir) Remove(p string) error                      { return nil }
func (m *memDir) RmTree(p string) error                       { return nil }
func (m *memDir) Rename(p, newBasename string) error         { return nil }
func (m *memDir) Copy(inPath, outPath string) error           { return nil }
func (m *memDir) CopyFrom(localSource string, p string) error { return nil }
func (m *memDir) CopyTo(p string, localTarget string) error   { return nil }
func (m *memDir) Glob(pattern string) ([]string, error)       { return nil, nil }
func (m *memDir) IterDir(p string) ([]string, error)          { return nil, nil }
func (m *memDir) ExecCmnd(ctx context.Context, cmnd string, p string, raiseOnError bool, timeout time.Duration) (bool, error) {
	return true, nil
}
func (m *memDir) Close() error { return nil }

type memFile struct{ *strings.Reader }

func (memFile) Write(p []byte) (int, error) { return len(p), nil }
func (memFile) Close() error                { return nil }

func TestResolveS1HappyPath(t *testing.T) {
	dir := newMemDir(map[string]string{
		"script.in":      "test @v{var1} @f{frag1}",
		filepath.Join("input", "frag.in"): "replace frag",
	})

	run := &jobconfig.Run{
		Environment: jobconfig.EnvUnix,
		Input: &jobconfig.Input{
			Scripts:   []string{"script.in"},
			Files:     map[string]string{"frag1": filepath.Join("input", "frag.in")},
			Variables: map[string]string{"var1": "value"},
		},
	}
	run.Process.Unix.Run = []string{
		"echo test_echo > output.txt",
		"cat script.in > output2.txt",
	}

	resolved, err := Resolve(dir, run)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := resolved.Scripts["script.in"].Content; got != "test value replace frag" {
		t.Fatalf("expected expanded script content, got %q", got)
	}
	if _, ok := resolved.Files["frag.in"]; !ok {
		t.Fatalf("expected frag.in to be recorded under its basename")
	}
	if len(resolved.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(resolved.Commands))
	}
}

func TestResolveMissingVariable(t *testing.T) {
	dir := newMemDir(map[string]string{"script.in": "needs @v{missing}"})
	run := &jobconfig.Run{
		Environment: jobconfig.EnvUnix,
		Input:       &jobconfig.Input{Scripts: []string{"script.in"}},
	}

	_, err := Resolve(dir, run)
	if err == nil {
		t.Fatal("expected VarMissing error")
	}
	if !strings.Contains(err.Error(), "VarMissing") {
		t.Fatalf("expected VarMissing error, got %v", err)
	}
}

func TestResolveBasenameCollision(t *testing.T) {
	dir := newMemDir(map[string]string{
		filepath.Join("a", "dup.in"): "one",
		filepath.Join("b", "dup.in"): "two",
	})
	run := &jobconfig.Run{
		Environment: jobconfig.EnvUnix,
		Input: &jobconfig.Input{
			Scripts: []string{filepath.Join("a", "dup.in"), filepath.Join("b", "dup.in")},
		},
	}

	_, err := Resolve(dir, run)
	if err == nil {
		t.Fatal("expected NameCollision error")
	}
	if !strings.Contains(err.Error(), "NameCollision") {
		t.Fatalf("expected NameCollision error, got %v", err)
	}
}

func TestResolveFileTagNotExpandedInCommands(t *testing.T) {
	dir := newMemDir(map[string]string{
		filepath.Join("input", "frag.in"): "frag body",
	})
	run := &jobconfig.Run{
		Environment: jobconfig.EnvUnix,
		Input: &jobconfig.Input{
			Files: map[string]string{"frag1": filepath.Join("input", "frag.in")},
		},
	}
	run.Process.Unix.Run = []string{"echo @f{frag1}"}

	resolved, err := Resolve(dir, run)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Commands[0] != "echo @f{frag1}" {
		t.Fatalf("expected @f{} left untouched in command line, got %q", resolved.Commands[0])
	}
}
