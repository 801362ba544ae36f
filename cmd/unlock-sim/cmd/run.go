package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/keyguardkit/autounlock/scenario"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var runFormat string

var runCmd = &cobra.Command{
	Use:   "run <scenario glob>...",
	Short: "Run scenario files against the unlock engine",
	Long: `Loads every scenario YAML file matching the given patterns, runs its steps against
a fresh engine driven by a simulated clock and reports the expectations that failed.

Exits non-zero if any expectation fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScenarios,
}

func init() {
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "text", "output format (text|json)")
	rootCmd.AddCommand(runCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	var paths []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return errors.Wrapf(err, "invalid pattern [%s]", pattern)
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return errors.Errorf("no scenario files match %v", args)
	}

	var results []*scenario.RunResult
	for _, path := range paths {
		result, err := scenario.LoadAndRun(path)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	switch runFormat {
	case "json":
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), scenario.FormatText(results))
	}

	failed := 0
	for _, result := range results {
		if result.Failed > 0 {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d scenarios failed", failed, len(results))
	}
	return nil
}
