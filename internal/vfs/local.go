package vfs

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"atomic-deploy/internal/joberrors"
	"atomic-deploy/internal/joblog"
)

// LocalDir implements Dir over the host filesystem, rooted at an absolute
// path. Grounded on original_source/atomic_hpc/context_folder/local.py,
// with the streamed two-goroutine stdout/stderr drain adapted from the
// teacher's internal/devsync command-exec patterns
// (internal/devsync/sshclient/client.go's RunCommandWithStream).
type LocalDir struct {
	root string
}

// OpenLocal roots a LocalDir at root, creating it if it does not exist.
func OpenLocal(root string) (*LocalDir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, joberrors.Wrap(joberrors.NotFound, err, "resolving local root %s", root)
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, joberrors.Wrap(joberrors.Permission, err, "creating local root %s", abs)
		}
	} else if err != nil {
		return nil, joberrors.Wrap(joberrors.NotFound, err, "stat local root %s", abs)
	} else if !info.IsDir() {
		return nil, joberrors.New(joberrors.NotFound, "local root %s is not a directory", abs)
	}
	return &LocalDir{root: abs}, nil
}

func (l *LocalDir) abs(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(cleanRelative(p)))
}

func (l *LocalDir) Exists(p string) bool {
	_, err := os.Stat(l.abs(p))
	return err == nil
}

func (l *LocalDir) IsFile(p string) bool {
	info, err := os.Stat(l.abs(p))
	return err == nil && !info.IsDir()
}

func (l *LocalDir) IsDir(p string) bool {
	info, err := os.Stat(l.abs(p))
	return err == nil && info.IsDir()
}

func (l *LocalDir) Stat(p string) (FileInfo, error) {
	info, err := os.Stat(l.abs(p))
	if err != nil {
		return FileInfo{}, joberrors.Wrap(joberrors.NotFound, err, "stat %s", p)
	}
	return FileInfo{
		Mode:    uint32(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (l *LocalDir) Chmod(p string, mode uint32) error {
	if err := os.Chmod(l.abs(p), os.FileMode(mode)); err != nil {
		if os.IsNotExist(err) {
			return joberrors.Wrap(joberrors.NotFound, err, "chmod %s", p)
		}
		return joberrors.Wrap(joberrors.Permission, err, "chmod %s", p)
	}
	return nil
}

func (l *LocalDir) GetAbs(p string) (string, error) {
	return l.abs(p), nil
}

func (l *LocalDir) Open(p string, mode string, fn func(io.ReadWriteCloser) error) error {
	flags, err := openFlags(mode)
	if err != nil {
		return err
	}
	full := l.abs(p)
	if flags&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return joberrors.Wrap(joberrors.Permission, err, "creating parent dir for %s", p)
		}
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return joberrors.Wrap(joberrors.NotFound, err, "open %s", p)
		}
		return joberrors.Wrap(joberrors.Permission, err, "open %s", p)
	}
	defer f.Close()
	return fn(f)
}

func openFlags(mode string) (int, error) {
	switch mode {
	case "r", "rb":
		return os.O_RDONLY, nil
	case "w", "wb":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, nil
	case "a", "ab":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, nil
	default:
		return 0, joberrors.New(joberrors.Permission, "unsupported open mode %q", mode)
	}
}

func (l *LocalDir) MakeDirs(p string) error {
	if err := os.MkdirAll(l.abs(p), 0o755); err != nil {
		return joberrors.Wrap(joberrors.Permission, err, "makedirs %s", p)
	}
	return nil
}

func (l *LocalDir) Remove(p string) error {
	full := l.abs(p)
	info, err := os.Stat(full)
	if err != nil {
		return joberrors.Wrap(joberrors.NotFound, err, "remove %s", p)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(full)
		if err != nil {
			return joberrors.Wrap(joberrors.Permission, err, "reading %s", p)
		}
		if len(entries) > 0 {
			return joberrors.New(joberrors.NonEmpty, "directory not empty: %s", p)
		}
	}
	if err := os.Remove(full); err != nil {
		return joberrors.Wrap(joberrors.Permission, err, "remove %s", p)
	}
	return nil
}

func (l *LocalDir) RmTree(p string) error {
	full := l.abs(p)
	if sameFile(full, l.root) {
		return joberrors.New(joberrors.UnsupportedPattern, "refusing to remove the session root")
	}
	info, err := os.Stat(full)
	if err != nil {
		return joberrors.Wrap(joberrors.NotFound, err, "rmtree %s", p)
	}
	if !info.IsDir() {
		return joberrors.New(joberrors.NotFound, "%s is not a directory", p)
	}
	if err := os.RemoveAll(full); err != nil {
		return joberrors.Wrap(joberrors.Permission, err, "rmtree %s", p)
	}
	return nil
}

func sameFile(a, b string) bool {
	ai, aerr := os.Stat(a)
	bi, berr := os.Stat(b)
	if aerr != nil || berr != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func (l *LocalDir) Rename(p, newBasename string) error {
	full := l.abs(p)
	target := filepath.Join(filepath.Dir(full), newBasename)
	if err := os.Rename(full, target); err != nil {
		return joberrors.Wrap(joberrors.Permission, err, "rename %s -> %s", p, newBasename)
	}
	return nil
}

func (l *LocalDir) Copy(inPath, outPath string) error {
	inFull := l.abs(inPath)
	outFull := l.abs(outPath)
	if _, err := os.Stat(inFull); err != nil {
		return joberrors.Wrap(joberrors.NotFound, err, "copy source %s", inPath)
	}
	outInfo, err := os.Stat(outFull)
	if err != nil {
		return joberrors.Wrap(joberrors.NotFound, err, "copy destination %s", outPath)
	}
	if !outInfo.IsDir() {
		return joberrors.New(joberrors.NotFound, "copy destination %s is not a directory", outPath)
	}
	return copyPath(inFull, filepath.Join(outFull, filepath.Base(inFull)))
}

func (l *LocalDir) CopyFrom(localSource string, p string) error {
	if !l.Exists(p) {
		return joberrors.New(joberrors.NotFound, "copyFrom destination %s does not exist", p)
	}
	info, err := os.Stat(localSource)
	if err != nil {
		return joberrors.Wrap(joberrors.NotFound, err, "copyFrom source %s", localSource)
	}
	dest := filepath.Join(l.abs(p), filepath.Base(localSource))
	_ = info
	return copyPath(localSource, dest)
}

func (l *LocalDir) CopyTo(p string, localTarget string) error {
	full := l.abs(p)
	if !l.Exists(p) {
		return joberrors.New(joberrors.NotFound, "copyTo source %s does not exist", p)
	}
	if _, err := os.Stat(localTarget); err != nil {
		return joberrors.Wrap(joberrors.NotFound, err, "copyTo target %s", localTarget)
	}
	dest := filepath.Join(localTarget, filepath.Base(full))
	return copyPath(full, dest)
}

func copyPath(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return joberrors.Wrap(joberrors.NotFound, err, "stat %s", src)
	}
	if info.IsDir() {
		if err := os.MkdirAll(dest, info.Mode().Perm()); err != nil {
			return joberrors.Wrap(joberrors.Permission, err, "mkdir %s", dest)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return joberrors.Wrap(joberrors.Permission, err, "readdir %s", src)
		}
		for _, e := range entries {
			if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return joberrors.Wrap(joberrors.Permission, err, "open %s", src)
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return joberrors.Wrap(joberrors.Permission, err, "create %s", dest)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return joberrors.Wrap(joberrors.Permission, err, "copy %s -> %s", src, dest)
	}
	return nil
}

func (l *LocalDir) Glob(pattern string) ([]string, error) {
	return GlobWalk("", pattern, l.walkLevel)
}

func (l *LocalDir) IterDir(p string) ([]string, error) {
	subdirs, files, err := l.walkLevel(p)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(subdirs)+len(files))
	for _, d := range subdirs {
		out = append(out, joinRel(p, d))
	}
	for _, f := range files {
		out = append(out, joinRel(p, f))
	}
	sort.Strings(out)
	return out, nil
}

func (l *LocalDir) walkLevel(dir string) (subdirs, files []string, err error) {
	entries, err := os.ReadDir(l.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, joberrors.Wrap(joberrors.Permission, err, "readdir %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		} else {
			files = append(files, e.Name())
		}
	}
	return subdirs, files, nil
}

// ExecCmnd spawns cmnd through the host shell with cwd set to p, draining
// stdout/stderr concurrently through a single ordered channel so the
// logger sees lines in the order they were produced, per spec §4.3/§5.
func (l *LocalDir) ExecCmnd(ctx context.Context, cmnd string, p string, raiseOnError bool, timeout time.Duration) (bool, error) {
	if risk := checkCmndlineSecurity(cmnd); risk != "" {
		if raiseOnError {
			return false, joberrors.New(joberrors.SecurityRejected, "command line contains security risk: %s", risk)
		}
		joblog.Error("command line contains security risk: %s", risk)
		return false, nil
	}

	runDir := l.abs(p)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cmnd)
	cmd.Dir = runDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return false, joberrors.Wrap(joberrors.ExecFailed, err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return false, joberrors.Wrap(joberrors.ExecFailed, err, "stderr pipe")
	}

	joblog.Exec("%s (in %s)", cmnd, runDir)
	if err := cmd.Start(); err != nil {
		return false, joberrors.Wrap(joberrors.ExecFailed, err, "starting command")
	}

	type line struct{ text string }
	lines := make(chan line, 256)
	var drain sync.WaitGroup
	drain.Add(2)
	go func() {
		defer drain.Done()
		scan := bufio.NewScanner(stdout)
		for scan.Scan() {
			lines <- line{scan.Text()}
		}
	}()
	go func() {
		defer drain.Done()
		scan := bufio.NewScanner(stderr)
		for scan.Scan() {
			lines <- line{"ERR:" + scan.Text()}
		}
	}()
	go func() {
		drain.Wait()
		close(lines)
	}()
	for ln := range lines {
		if len(ln.text) >= 4 && ln.text[:4] == "ERR:" {
			joblog.Warn("%s", ln.text[4:])
		} else {
			joblog.Info("%s", ln.text)
		}
	}

	err = cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		if raiseOnError {
			return false, joberrors.New(joberrors.ExecTimeout, "command exceeded timeout: %s", cmnd)
		}
		joblog.Error("command exceeded timeout: %s", cmnd)
		return false, nil
	}
	if err != nil {
		msg := "the following line caused an error: " + cmnd
		if raiseOnError {
			return false, joberrors.Wrap(joberrors.ExecFailed, err, "%s", msg)
		}
		joblog.Error("%s: %v", msg, err)
		return false, nil
	}
	return true, nil
}

func (l *LocalDir) Close() error { return nil }
