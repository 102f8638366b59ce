// Package orchestrate implements the run orchestrator (§4.7) and the
// scheduler-script generator (§4.8): for every configured run it
// resolves inputs, materializes the output directory, executes the run's
// commands (or submits a qsub job), and applies the remove/rename
// cleanup directives, aggregating any failures into a terminal
// RunsFailed error. Grounded on
// original_source/atomic_hpc/deploy_runs.py's deploy_runs/deploy_run_local,
// generalized to the remote/qsub paths that file left unimplemented.
package orchestrate

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"atomic-deploy/internal/joberrors"
	"atomic-deploy/internal/jobconfig"
	"atomic-deploy/internal/joblog"
	"atomic-deploy/internal/resolve"
	"atomic-deploy/internal/vfs"
)

// ExistencePolicy is the per-run behavior when the output directory
// already exists (spec §4.7 step 3).
type ExistencePolicy string

const (
	PolicyAbort  ExistencePolicy = "abort"
	PolicyRemove ExistencePolicy = "remove"
	PolicyUse    ExistencePolicy = "use"
)

// configDumpVersion is bumped whenever the dumped record's shape changes
// in a way that would break a reader expecting an older layout.
const configDumpVersion = 1

// Options configures one orchestration pass over a set of runs.
type Options struct {
	BasePath    string
	IfExists    ExistencePolicy
	TestRun     bool
	FailFast    bool
	RunIDs      map[int]bool // nil or empty means "all runs"
	Timeout     time.Duration
	NowRFC3339  string // injected creation timestamp, so callers control clock access
}

// Run executes every run in docs.Runs (filtered by opts.RunIDs) in
// configuration order, sequentially, and returns a RunsFailed error
// naming every run that failed. A nil return means every selected run
// succeeded.
func Run(ctx context.Context, docs []jobconfig.Run, opts Options) error {
	var failed []string
	var agg *multierror.Error

	for _, run := range docs {
		run := run
		if len(opts.RunIDs) > 0 && !opts.RunIDs[run.ID] {
			continue
		}

		joblog.Info("starting run %d: %s", run.ID, run.Name)
		if err := runOne(ctx, &run, opts); err != nil {
			joblog.Error("run %d:%s failed: %v", run.ID, run.Name, err)
			failed = append(failed, fmt.Sprintf("%d:%s", run.ID, run.Name))
			agg = multierror.Append(agg, err)
			continue
		}
		joblog.Info("run %d: %s completed", run.ID, run.Name)
	}

	if len(failed) > 0 {
		return joberrors.Wrap(joberrors.RunsFailed, agg.ErrorOrNil(), "runs failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func runOne(ctx context.Context, run *jobconfig.Run, opts Options) error {
	inputPath := ""
	var inputConn *jobconfig.Connection
	if run.Input != nil {
		inputPath = run.Input.Path
		inputConn = run.Input.Remote
	}
	inputDir, err := vfs.OpenSession(inputConn, path.Join(opts.BasePath, inputPath))
	if err != nil {
		return err
	}
	defer inputDir.Close()

	resolved, err := resolve.Resolve(inputDir, run)
	if err != nil {
		return err
	}
	if err := checkNoCollision(resolved); err != nil {
		return err
	}

	outputDir, err := vfs.OpenSession(run.Output.Remote, path.Join(opts.BasePath, run.Output.Path))
	if err != nil {
		return err
	}
	defer outputDir.Close()

	runDirName := fmt.Sprintf("%d_%s", run.ID, run.Name)
	if err := applyExistencePolicy(outputDir, runDirName, opts.IfExists); err != nil {
		return err
	}

	if err := writeConfigDump(outputDir, runDirName, run, opts); err != nil {
		return err
	}

	if err := materializeOutputs(outputDir, runDirName, resolved); err != nil {
		return err
	}

	if !opts.TestRun {
		if err := execute(ctx, outputDir, runDirName, run, resolved, opts); err != nil {
			return err
		}
	}

	if err := applyRemove(outputDir, runDirName, run.Output.Remove); err != nil {
		return err
	}
	if err := applyRename(outputDir, runDirName, run.Output.Rename); err != nil {
		return err
	}

	return nil
}

func checkNoCollision(resolved *resolve.Resolved) error {
	for base := range resolved.Files {
		if _, dup := resolved.Scripts[base]; dup {
			return joberrors.New(joberrors.NameCollision, "basename %q collides between input files and scripts", base)
		}
	}
	return nil
}

func applyExistencePolicy(outDir vfs.Dir, runDirName string, policy ExistencePolicy) error {
	if policy == "" {
		policy = PolicyAbort
	}
	if !outDir.Exists(runDirName) {
		return outDir.MakeDirs(runDirName)
	}
	switch policy {
	case PolicyAbort:
		return joberrors.New(joberrors.NonEmpty, "output directory already exists: %s", runDirName)
	case PolicyRemove:
		joblog.Info("removing existing output: %s", runDirName)
		if err := outDir.RmTree(runDirName); err != nil {
			return err
		}
		return outDir.MakeDirs(runDirName)
	case PolicyUse:
		return nil
	default:
		return joberrors.New(joberrors.ConfigInvalid, "unknown existence policy: %s", policy)
	}
}

// writeConfigDump writes config_<id>.yaml (or config_<id> (1).yaml, … on
// collision) into the run directory, annotated with config_version and a
// creation timestamp — spec §4.7 step 4.
func writeConfigDump(outDir vfs.Dir, runDirName string, run *jobconfig.Run, opts Options) error {
	dump := struct {
		ConfigVersion int           `yaml:"config_version"`
		Created       string        `yaml:"created"`
		Run           jobconfig.Run `yaml:"run"`
	}{
		ConfigVersion: configDumpVersion,
		Created:       opts.NowRFC3339,
		Run:           *run,
	}

	body, err := yaml.Marshal(dump)
	if err != nil {
		return joberrors.Wrap(joberrors.ConfigInvalid, err, "marshaling config dump for run %d", run.ID)
	}

	name := freeConfigName(outDir, runDirName, run.ID)
	return outDir.Open(path.Join(runDirName, name), "w", func(w io.ReadWriteCloser) error {
		_, err := w.Write(body)
		return err
	})
}

func freeConfigName(outDir vfs.Dir, runDirName string, id int) string {
	base := fmt.Sprintf("config_%d.yaml", id)
	if !outDir.Exists(path.Join(runDirName, base)) {
		return base
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("config_%d (%d).yaml", id, n)
		if !outDir.Exists(path.Join(runDirName, candidate)) {
			return candidate
		}
	}
}

func materializeOutputs(outDir vfs.Dir, runDirName string, resolved *resolve.Resolved) error {
	write := func(name string, blob resolve.Blob) error {
		target := path.Join(runDirName, name)
		err := outDir.Open(target, "w", func(rwc io.ReadWriteCloser) error {
			_, err := rwc.Write([]byte(blob.Content))
			return err
		})
		if err != nil {
			return err
		}
		if blob.Mode != 0 {
			return outDir.Chmod(target, blob.Mode)
		}
		return nil
	}

	names := sortedKeys(resolved.Files)
	for _, name := range names {
		if err := write(name, resolved.Files[name]); err != nil {
			return err
		}
	}
	names = sortedKeys(resolved.Scripts)
	for _, name := range names {
		if err := write(name, resolved.Scripts[name]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]resolve.Blob) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func execute(ctx context.Context, outDir vfs.Dir, runDirName string, run *jobconfig.Run, resolved *resolve.Resolved, opts Options) error {
	switch run.Environment {
	case jobconfig.EnvQsub:
		return executeQsub(ctx, outDir, runDirName, run, resolved, opts)
	default:
		return executeCommands(ctx, outDir, runDirName, resolved.Commands, opts)
	}
}

func executeCommands(ctx context.Context, outDir vfs.Dir, runDirName string, commands []string, opts Options) error {
	for _, cmnd := range commands {
		ok, err := outDir.ExecCmnd(ctx, cmnd, runDirName, true, opts.Timeout)
		if err != nil {
			if opts.FailFast {
				return err
			}
			joblog.Error("command failed (continuing): %v", err)
			continue
		}
		if !ok && opts.FailFast {
			return joberrors.New(joberrors.ExecFailed, "command failed: %s", cmnd)
		}
	}
	return nil
}

func executeQsub(ctx context.Context, outDir vfs.Dir, runDirName string, run *jobconfig.Run, resolved *resolve.Resolved, opts Options) error {
	workDir, err := outDir.GetAbs(runDirName)
	if err != nil {
		return err
	}

	script, err := renderQsubScript(run, resolved.Commands, workDir)
	if err != nil {
		return err
	}

	scriptPath := path.Join(runDirName, "run.qsub")
	if err := outDir.Open(scriptPath, "w", func(rwc io.ReadWriteCloser) error {
		_, err := rwc.Write([]byte(script))
		return err
	}); err != nil {
		return err
	}
	if err := outDir.Chmod(scriptPath, 0o755); err != nil {
		return err
	}

	submit := `bash -l -c "qsub run.qsub"`
	ok, err := outDir.ExecCmnd(ctx, submit, runDirName, true, opts.Timeout)
	if err != nil {
		if opts.FailFast {
			return err
		}
		joblog.Error("qsub submission failed (continuing): %v", err)
		return nil
	}
	if !ok && opts.FailFast {
		return joberrors.New(joberrors.ExecFailed, "qsub submission failed")
	}
	return nil
}

// applyRemove implements spec §4.7 step 7: each pattern is joined onto
// the run directory and glob-expanded; matches are deleted (rmtree for
// directories, remove for files), missing paths ignored.
func applyRemove(outDir vfs.Dir, runDirName string, patterns []string) error {
	for _, pattern := range patterns {
		full := path.Join(runDirName, pattern)
		matches, err := outDir.Glob(full)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if !outDir.Exists(m) {
				continue
			}
			joblog.Debug("removing %s from output", m)
			if outDir.IsDir(m) {
				err = outDir.RmTree(m)
			} else {
				err = outDir.Remove(m)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// applyRename implements spec §4.7 step 8: for each (old, new) pair, in
// insertion order, glob "<outDir>/**/*<old>*" and substring-replace old
// with new in every match's basename.
func applyRename(outDir vfs.Dir, runDirName string, pairs []jobconfig.RenamePair) error {
	for _, pair := range pairs {
		if pair.Old == "" {
			continue
		}
		pattern := path.Join(runDirName, "**", "*"+pair.Old+"*")
		matches, err := outDir.Glob(pattern)
		if err != nil {
			return err
		}
		for _, m := range matches {
			base := path.Base(m)
			newName := strings.ReplaceAll(base, pair.Old, pair.New)
			joblog.Debug("renaming %s to %s", m, newName)
			if err := outDir.Rename(m, newName); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParseRunSelector parses the -r/--runs flag syntax (comma-delimited int
// list with dash ranges, e.g. "1,5-6,7") into a membership set.
func ParseRunSelector(s string) (map[int]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.Index(part, "-"); dash > 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, joberrors.New(joberrors.ConfigInvalid, "invalid run range %q", part)
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, joberrors.New(joberrors.ConfigInvalid, "invalid run range %q", part)
			}
			for i := lo; i <= hi; i++ {
				out[i] = true
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, joberrors.New(joberrors.ConfigInvalid, "invalid run id %q", part)
		}
		out[n] = true
	}
	return out, nil
}
