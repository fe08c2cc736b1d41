package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/datakit/internal/harness"
)

// ScenarioReport is the JSON form of one scenario run.
type ScenarioReport struct {
	Name   string          `json:"name"`
	File   string          `json:"file"`
	Result *harness.Result `json:"result"`
}

// NewScenarioCommand creates the scenario command group.
func NewScenarioCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run store scenarios",
	}

	var keep bool
	run := &cobra.Command{
		Use:   "run <file...>",
		Short: "Run scenario files and print their traces",
		Long: `Run each scenario file against fresh stores in a temporary directory
and print its trace. The command fails if any step misses its expectation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := root.formatter(cmd)
			var reports []ScenarioReport
			failed := 0

			for _, file := range args {
				s, err := harness.LoadScenario(file)
				if err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("load %s", file), err)
				}
				if s.Driver == "" {
					s.Driver = root.Config.Driver
				}

				result, err := runScenario(cmd, f, s, keep)
				if err != nil {
					return WrapExitError(ExitFailure, fmt.Sprintf("run %s", file), err)
				}
				if !result.Pass {
					failed++
				}

				if root.Format == "json" {
					reports = append(reports, ScenarioReport{Name: s.Name, File: file, Result: result})
					continue
				}
				out := cmd.OutOrStdout()
				out.Write(result.TraceText(s.Name))
				for _, e := range result.Errors {
					fmt.Fprintf(out, "FAIL %s\n", e)
				}
			}

			if root.Format == "json" {
				if err := f.Success(reports); err != nil {
					return err
				}
			}
			if failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(args)))
			}
			return nil
		},
	}
	run.Flags().BoolVar(&keep, "keep", false, "keep the scenario directories")

	cmd.AddCommand(run)
	return cmd
}

func runScenario(cmd *cobra.Command, f *OutputFormatter, s *harness.Scenario, keep bool) (*harness.Result, error) {
	dir, err := os.MkdirTemp("", "datakit-scenario-")
	if err != nil {
		return nil, err
	}
	if keep {
		f.VerboseLog("scenario %s kept in %s", s.Name, dir)
	} else {
		defer os.RemoveAll(dir)
	}
	f.VerboseLog("running %s", s.Name)
	return harness.Run(cmd.Context(), s, dir, harness.WithLogger(slog.Default()))
}
