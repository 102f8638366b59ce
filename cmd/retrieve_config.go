package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"atomic-deploy/internal/joberrors"
	"atomic-deploy/internal/jobconfig"
	"atomic-deploy/internal/joblog"
	"atomic-deploy/internal/orchestrate"
	"atomic-deploy/internal/vfs"
)

// newRetrieveConfigCmd mirrors run-config's flag surface but only copies
// each selected run's output directory back to a local outpath, grounded
// on original_source/atomic_hpc/frontend/retrieve_config.py.
func newRetrieveConfigCmd() *cobra.Command {
	var (
		basePath string
		outPath  string
		runsFlag string
		ifExists string
		logLevel string
	)

	c := &cobra.Command{
		Use:   "retrieve-config configpath",
		Short: "Copy each run's output directory back to a local path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := args[0]

			level, ok := joblog.ParseLevel(logLevel)
			if !ok {
				return joberrors.New(joberrors.ConfigInvalid, "invalid --log-level %q", logLevel)
			}
			joblog.Setup(level)

			policy := orchestrate.ExistencePolicy(ifExists)
			switch policy {
			case orchestrate.PolicyAbort, orchestrate.PolicyRemove, orchestrate.PolicyUse:
			default:
				return joberrors.New(joberrors.ConfigInvalid, "invalid --if-exists %q", ifExists)
			}

			runIDs, err := orchestrate.ParseRunSelector(runsFlag)
			if err != nil {
				return err
			}

			doc, err := jobconfig.Load(configPath, basePath)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return joberrors.Wrap(joberrors.Permission, err, "creating outpath %s", outPath)
			}
			localOut, err := vfs.OpenLocal(outPath)
			if err != nil {
				return err
			}
			defer localOut.Close()

			for _, run := range doc.Runs {
				if len(runIDs) > 0 && !runIDs[run.ID] {
					continue
				}

				outputDir, err := vfs.OpenSession(run.Output.Remote, filepath.Join(doc.BasePath, run.Output.Path))
				if err != nil {
					joblog.Error("run %d:%s: %v", run.ID, run.Name, err)
					continue
				}

				runDirName := fmt.Sprintf("%d_%s", run.ID, run.Name)
				if !outputDir.Exists(runDirName) {
					joblog.Warn("run %d:%s: output directory %s does not exist, skipping", run.ID, run.Name, runDirName)
					outputDir.Close()
					continue
				}

				localTarget := filepath.Join(outPath, runDirName)
				switch policy {
				case orchestrate.PolicyAbort:
					if _, err := os.Stat(localTarget); err == nil {
						outputDir.Close()
						return joberrors.New(joberrors.NonEmpty, "local output %s already exists", localTarget)
					}
				case orchestrate.PolicyRemove:
					os.RemoveAll(localTarget)
				case orchestrate.PolicyUse:
				}

				abs, err := outputDir.GetAbs(runDirName)
				if err != nil {
					outputDir.Close()
					return err
				}
				joblog.Info("retrieving run %d:%s from %s", run.ID, run.Name, abs)
				if err := outputDir.CopyTo(runDirName, outPath); err != nil {
					outputDir.Close()
					return err
				}
				outputDir.Close()
			}

			return nil
		},
	}

	defaultBasePath, _ := os.Getwd()
	defaultOutPath := filepath.Join(defaultBasePath, "outputs")

	c.Flags().StringVarP(&outPath, "outpath", "o", defaultOutPath, "base path to copy run outputs to")
	c.Flags().StringVarP(&basePath, "basepath", "b", defaultBasePath, "path to use when resolving relative paths in the config")
	c.Flags().StringVarP(&runsFlag, "runs", "r", "", "comma-delimited run id list with dash ranges, e.g. 1,5-6,7")
	c.Flags().StringVarP(&ifExists, "if-exists", "", string(orchestrate.PolicyAbort), "existence policy for an already-populated local output directory: abort, remove or use")
	c.Flags().StringVarP(&logLevel, "log-level", "", "info", "log level: debug_full, debug, info, exec, warning, error")

	return c
}
