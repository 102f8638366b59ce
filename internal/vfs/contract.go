// Package vfs implements the virtual-directory abstraction: a uniform set
// of filesystem and command-execution operations backed either by the
// local host filesystem or by an SSH/SFTP session, grounded on
// original_source/atomic_hpc/context_folder/{local,remote,abstract}.py.
package vfs

import (
	"context"
	"io"
	"time"
)

// FileInfo mirrors the subset of stat(2) the engine needs from either
// backend: permission bits, size and modification time.
type FileInfo struct {
	Mode    uint32
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// ExecResult carries the outcome of a streamed command execution.
type ExecResult struct {
	Success  bool
	ExitCode int
}

// Dir is the capability set every backend (local, remote) implements
// identically — spec §4.1 / §8 item 1 (backend coherence).
type Dir interface {
	Exists(path string) bool
	IsFile(path string) bool
	IsDir(path string) bool

	Stat(path string) (FileInfo, error)
	Chmod(path string, mode uint32) error
	GetAbs(path string) (string, error)

	// Open acquires path for reading/writing in the given mode ("r", "w",
	// "a", each optionally with a trailing "b" for binary) and invokes fn
	// with the resulting stream; the stream is always released before
	// Open returns, even if fn panics or returns an error.
	Open(path string, mode string, fn func(io.ReadWriteCloser) error) error

	MakeDirs(path string) error
	Remove(path string) error
	RmTree(path string) error
	Rename(path, newBasename string) error
	Copy(inPath, outPath string) error
	CopyFrom(localSource string, path string) error
	CopyTo(path string, localTarget string) error

	// Glob walks the whole tree and returns every path relative to the
	// session root that matches pattern (see globmatch.go for **
	// semantics).
	Glob(pattern string) ([]string, error)
	IterDir(path string) ([]string, error)

	ExecCmnd(ctx context.Context, cmnd string, path string, raiseOnError bool, timeout time.Duration) (bool, error)

	// Close releases any transport held by the backend. Safe to call
	// multiple times.
	Close() error
}
