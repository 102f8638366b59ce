package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"atomic-deploy/internal/joberrors"
	"atomic-deploy/internal/jobconfig"
	"atomic-deploy/internal/joblog"
	"atomic-deploy/internal/orchestrate"
)

func newRunConfigCmd() *cobra.Command {
	var (
		basePath    string
		runsFlag    string
		ifExists    string
		logLevel    string
		testRun     bool
		nonInteract bool
	)

	c := &cobra.Command{
		Use:   "run-config configpath",
		Short: "Deploy every run described in a YAML run-set configuration file",
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

			if !nonInteract && (policy == orchestrate.PolicyRemove || policy == orchestrate.PolicyUse) {
				if !confirmDestructive(policy) {
					return joberrors.New(joberrors.ConfigInvalid, "aborted by user")
				}
			}

			opts := orchestrate.Options{
				BasePath:   doc.BasePath,
				IfExists:   policy,
				TestRun:    testRun,
				FailFast:   true,
				RunIDs:     runIDs,
				NowRFC3339: time.Now().UTC().Format(time.RFC3339),
			}

			return orchestrate.Run(cmd.Context(), doc.Runs, opts)
		},
	}

	defaultBasePath, _ := os.Getwd()

	c.Flags().StringVarP(&basePath, "basepath", "b", defaultBasePath, "base path used to resolve relative paths in the config (default: current working directory)")
	c.Flags().StringVarP(&runsFlag, "runs", "r", "", "comma-delimited run id list with dash ranges, e.g. 1,5-6,7")
	c.Flags().StringVarP(&ifExists, "if-exists", "", string(orchestrate.PolicyAbort), "existence policy for an already-populated output directory: abort, remove or use")
	c.Flags().StringVarP(&logLevel, "log-level", "", "info", "log level: debug_full, debug, info, exec, warning, error")
	c.Flags().BoolVar(&testRun, "test-run", false, "skip command execution; directories are still populated")
	c.Flags().BoolVar(&nonInteract, "non-interactive", false, "skip the interactive confirmation for destructive existence policies")

	return c
}

// confirmDestructive prompts for interactive confirmation before a
// destructive existence policy runs, mirroring the teacher's use of
// promptui.Select for menu-style choices (cmd/root.go's direct-access
// menu).
func confirmDestructive(policy orchestrate.ExistencePolicy) bool {
	prompt := promptui.Select{
		Label: fmt.Sprintf("if-exists=%s will modify existing output directories. Continue?", policy),
		Items: []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		return false
	}
	return result == "Yes"
}
