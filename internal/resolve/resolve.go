// Package resolve implements the input-resolution and template-expansion
// engine (§4.6): it reads a run's referenced files and scripts from the
// input virtual directory, expands @v{}/@f{} tags, and assembles the
// per-environment command list, grounded on
// original_source/atomic_hpc/deploy_runs.py's input-gathering section of
// deploy_single_run.
package resolve

import (
	"io"
	"path/filepath"
	"regexp"
	"sort"

	"atomic-deploy/internal/joberrors"
	"atomic-deploy/internal/jobconfig"
	"atomic-deploy/internal/vfs"
)

// tagPattern matches both @v{NAME} and @f{NAME}, captured separately so a
// single pass can classify and replace each occurrence — spec §9's
// "regex-based template substitution" with NAME matching [^}]+.
var tagPattern = regexp.MustCompile(`@([vf])\{([^}]+)\}`)

// Blob is one resolved file or script: its expanded content and the
// permission bits it should be materialized with.
type Blob struct {
	Content string
	Mode    uint32
}

// Resolved is the output of Resolve: the file and script blobs keyed by
// basename, and the expanded per-environment command list.
type Resolved struct {
	Files    map[string]Blob
	Scripts  map[string]Blob
	Commands []string
}

// Resolve implements §4.6 end to end against an already-open input
// directory (the caller owns opening/closing it per §4.5).
func Resolve(input vfs.Dir, run *jobconfig.Run) (*Resolved, error) {
	variables := map[string]string{}
	if run.Input != nil {
		for k, v := range run.Input.Variables {
			variables[k] = v
		}
	}

	files := map[string]Blob{}
	filesByID := map[string]Blob{}
	if run.Input != nil {
		// Iterate in sorted logical-id order so "first binds the name"
		// behavior (step 3) is deterministic across runs.
		ids := make([]string, 0, len(run.Input.Files))
		for id := range run.Input.Files {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			path := run.Input.Files[id]
			if !input.IsFile(path) {
				return nil, joberrors.New(joberrors.InputMissing, "input file %q (logical id %q) does not exist or is not a regular file", path, id)
			}
			info, err := input.Stat(path)
			if err != nil {
				return nil, joberrors.Wrap(joberrors.InputMissing, err, "stat input file %q", path)
			}
			content, err := readAll(input, path)
			if err != nil {
				return nil, err
			}
			base := filepath.Base(path)
			if _, bound := variables[id]; !bound {
				variables[id] = base
			}
			blob := Blob{Content: content, Mode: info.Mode}
			files[base] = blob
			filesByID[id] = blob
		}
	}

	scripts := map[string]Blob{}
	if run.Input != nil {
		for _, scriptPath := range run.Input.Scripts {
			if !input.IsFile(scriptPath) {
				return nil, joberrors.New(joberrors.InputMissing, "input script %q does not exist or is not a regular file", scriptPath)
			}
			info, err := input.Stat(scriptPath)
			if err != nil {
				return nil, joberrors.Wrap(joberrors.InputMissing, err, "stat input script %q", scriptPath)
			}
			raw, err := readAll(input, scriptPath)
			if err != nil {
				return nil, err
			}
			expanded, err := expand(raw, variables, filesByID, true)
			if err != nil {
				return nil, err
			}
			base := filepath.Base(scriptPath)
			if _, dup := scripts[base]; dup {
				return nil, joberrors.New(joberrors.NameCollision, "script basename %q collides with another script", base)
			}
			if _, dup := files[base]; dup {
				return nil, joberrors.New(joberrors.NameCollision, "script basename %q collides with an input file", base)
			}
			scripts[base] = Blob{Content: expanded, Mode: info.Mode}
		}
	}

	var runLines []string
	switch run.Environment {
	case jobconfig.EnvWindows:
		runLines = run.Process.Windows.Run
	case jobconfig.EnvQsub:
		runLines = run.Process.Qsub.Run
	default:
		runLines = run.Process.Unix.Run
	}

	commands := make([]string, 0, len(runLines))
	for _, line := range runLines {
		expanded, err := expand(line, variables, filesByID, false)
		if err != nil {
			return nil, err
		}
		commands = append(commands, expanded)
	}

	return &Resolved{Files: files, Scripts: scripts, Commands: commands}, nil
}

func readAll(dir vfs.Dir, path string) (string, error) {
	var out string
	err := dir.Open(path, "r", func(rwc io.ReadWriteCloser) error {
		b, err := io.ReadAll(rwc)
		if err != nil {
			return err
		}
		out = string(b)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// expand performs a single pass over text, replacing every @v{NAME} with
// variables[NAME] and, when allowFileTags is true, every @f{NAME} with
// files[NAME].Content, files being keyed by logical file id exactly as
// deploy_runs.py's run["files"][var] is — not by basename. @f{} in command
// lines is never expanded (step 5); callers building a command list pass
// allowFileTags=false.
func expand(text string, variables map[string]string, files map[string]Blob, allowFileTags bool) (string, error) {
	var firstErr error
	result := tagPattern.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := tagPattern.FindStringSubmatch(match)
		kind, name := sub[1], sub[2]
		switch kind {
		case "v":
			val, ok := variables[name]
			if !ok {
				firstErr = joberrors.New(joberrors.VarMissing, "variable %q referenced but not defined", name)
				return match
			}
			return val
		case "f":
			if !allowFileTags {
				return match
			}
			blob, ok := files[name]
			if !ok {
				firstErr = joberrors.New(joberrors.FileMissing, "file %q referenced but not defined", name)
				return match
			}
			return blob.Content
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}
