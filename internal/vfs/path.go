package vfs

import (
	"path"
	"strings"
)

// splitComponents splits a slash-separated path into its components,
// stripping a leading "./" — grounded on
// original_source/atomic_hpc/utils.py's splitall, adapted to the
// forward-slash-only relative paths the engine deals in (both backends
// normalize to "/" regardless of host OS, since remote targets are always
// reached over SSH).
func splitComponents(p string) []string {
	p = strings.TrimPrefix(p, "./")
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

func joinComponents(parts []string) string {
	return strings.Join(parts, "/")
}

// cleanRelative cleans a relative path without letting it escape upward
// (no "..").
func cleanRelative(p string) string {
	// Cleaning as a rooted path drops any ".." that would climb past the
	// top, so the result always stays inside the session root.
	p = path.Clean("/" + strings.TrimPrefix(p, "./"))
	return strings.TrimPrefix(p, "/")
}
