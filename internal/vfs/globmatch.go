package vfs

import (
	"path/filepath"
	"strings"

	"atomic-deploy/internal/joberrors"
)

// matchPattern reports whether relPath (relative to the session root)
// matches pattern, under the semantics of spec §4.2:
//   - "*" matches any single-component substring (shell wildcard).
//   - "**" is a separate component matching zero or more intermediate
//     directories; at most one per pattern.
//   - A leading "./" is stripped.
//   - A trailing "**" matches directories only, never a file.
//   - With no "**", component counts must match exactly.
//   - With one "**", the prefix before it anchors from the front, the
//     suffix after it anchors from the back, and the middle is absorbed.
//
// Grounded on original_source/atomic_hpc/utils.py's fnmatch_path, using
// the standard library path/filepath.Match per component instead of
// Python's fnmatch (directly equivalent: both implement shell-style
// single-component glob matching).
func matchPattern(relPath, pattern string, isFile bool) (bool, error) {
	if pattern == "" {
		return false, joberrors.New(joberrors.UnsupportedPattern, "empty pattern")
	}

	pathParts := splitComponents(relPath)
	patternParts := splitComponents(pattern)
	if len(patternParts) == 0 {
		return false, joberrors.New(joberrors.UnsupportedPattern, "empty pattern after normalization: %q", pattern)
	}

	if patternParts[len(patternParts)-1] == "**" && isFile {
		return false, nil
	}

	dblIndex := -1
	dblCount := 0
	for i, part := range patternParts {
		if part == "**" {
			dblCount++
			dblIndex = i
		} else if containsDoubleStar(part) {
			return false, joberrors.New(joberrors.UnsupportedPattern, "** must be a separate path component: %q", pattern)
		}
	}
	if dblCount > 1 {
		return false, joberrors.New(joberrors.UnsupportedPattern, "at most one ** allowed per pattern: %q", pattern)
	}

	if dblCount == 0 {
		if len(pathParts) != len(patternParts) {
			return false, nil
		}
		for i, part := range patternParts {
			ok, err := filepath.Match(part, pathParts[i])
			if err != nil {
				return false, joberrors.Wrap(joberrors.UnsupportedPattern, err, "invalid pattern component %q", part)
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	if len(pathParts) < len(patternParts)-1 {
		return false, nil
	}

	prefix := patternParts[:dblIndex]
	for i, part := range prefix {
		ok, err := filepath.Match(part, pathParts[i])
		if err != nil {
			return false, joberrors.Wrap(joberrors.UnsupportedPattern, err, "invalid pattern component %q", part)
		}
		if !ok {
			return false, nil
		}
	}

	suffix := patternParts[dblIndex+1:]
	suffixLen := len(suffix)
	pathTail := pathParts[len(pathParts)-suffixLen:]
	for i, part := range suffix {
		ok, err := filepath.Match(part, pathTail[i])
		if err != nil {
			return false, joberrors.Wrap(joberrors.UnsupportedPattern, err, "invalid pattern component %q", part)
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func containsDoubleStar(part string) bool {
	return part != "**" && strings.Contains(part, "**")
}

// Walker lists the immediate children of dir, split into subdirectories
// and files — the single-level primitive each backend implements (os.
// ReadDir locally, sftp.ReadDir remotely). GlobWalk drives the recursion,
// the pluggable shape original_source/atomic_hpc/utils.py's walk_path
// generalizes, so the matcher never needs to know which backend it walks.
type Walker func(dir string) (subdirs, files []string, err error)

// WalkEntry is one (dir, subdirs, files) tuple relative to the session root.
type WalkEntry struct {
	Dir     string
	SubDirs []string
	Files   []string
}

// GlobWalk drives pattern matching over a Walker, yielding every relative
// path under start that matches pattern.
func GlobWalk(start, pattern string, walk Walker) ([]string, error) {
	entries, err := walkAll(start, walk)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, entry := range entries {
		for _, f := range entry.Files {
			p := joinRel(entry.Dir, f)
			ok, err := matchPattern(p, pattern, true)
			if err != nil {
				return nil, err
			}
			if ok {
				matches = append(matches, p)
			}
		}
		for _, d := range entry.SubDirs {
			p := joinRel(entry.Dir, d)
			ok, err := matchPattern(p, pattern, false)
			if err != nil {
				return nil, err
			}
			if ok {
				matches = append(matches, p)
			}
		}
	}
	return matches, nil
}

func walkAll(start string, walk Walker) ([]WalkEntry, error) {
	subdirs, files, err := walk(start)
	if err != nil {
		return nil, err
	}
	all := []WalkEntry{{Dir: start, SubDirs: subdirs, Files: files}}
	for _, d := range subdirs {
		sub, err := walkAll(joinRel(start, d), walk)
		if err != nil {
			return nil, err
		}
		all = append(all, sub...)
	}
	return all, nil
}

func joinRel(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return dir + "/" + name
}
