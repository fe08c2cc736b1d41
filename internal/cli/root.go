// Package cli implements the datakit command tree.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/datakit/internal/config"
	"github.com/roach88/datakit/internal/metrics"
)

// RootOptions holds global flags and the configuration they resolve to.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Metrics bool

	// Config is loaded before any subcommand runs.
	Config *config.Config

	viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the datakit CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "datakit",
		Short: "datakit - local key-value preferences and SQLite stores",
		Long: `Inspect and manage datakit preferences files and relational stores.

Configuration is read from built-in defaults, the --config file (.cue,
.yaml or .yml), a .env file in the working directory, DATAKIT_* environment
variables and finally command line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(cmd, opts.Verbose)
			return opts.loadConfig(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Metrics {
				return nil
			}
			return metrics.WriteText(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.BoolVar(&opts.Metrics, "metrics", false, "dump prometheus metrics to stderr on exit")
	flags.String(config.KeyConfig, "", "config file (.cue, .yaml or .yml)")
	flags.String(config.KeyDataDir, "", "root directory for preferences and databases")
	flags.String(config.KeyDriver, "", "SQL driver (sqlite3|sqlite)")

	cmd.AddCommand(NewPrefsCommand(opts))
	cmd.AddCommand(NewRDBCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

func setupLogging(cmd *cobra.Command, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
}

func (o *RootOptions) loadConfig(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return WrapExitError(ExitCommandError, "load .env", err)
	}
	if err := o.viper.BindPFlags(cmd.Flags()); err != nil {
		return WrapExitError(ExitCommandError, "bind flags", err)
	}
	cfg, err := config.Load(o.viper.GetString(config.KeyConfig))
	if err != nil {
		return o.fail(cmd, err)
	}
	cfg.Override(o.viper)
	if err := cfg.Validate(); err != nil {
		return o.fail(cmd, err)
	}
	o.Config = cfg
	slog.Debug("config loaded", "data_dir", cfg.DataDir, "driver", cfg.Driver)
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// fail prints err through the formatter and returns it marked as reported.
func (o *RootOptions) fail(cmd *cobra.Command, err error) error {
	if ferr := o.formatter(cmd).Error(err); ferr != nil {
		return ferr
	}
	return &ExitError{Code: GetExitCode(err), Err: err, Reported: true}
}
