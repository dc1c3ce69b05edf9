// Package cli provides the command-line interface for the Extruct enrichment tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shpitdev/extruct-enrichment/internal/config"
	"github.com/shpitdev/extruct-enrichment/internal/enrich"
	"github.com/shpitdev/extruct-enrichment/internal/version"
	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/redact"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// usageError marks configuration and usage problems (exit code 2).
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFile    string
	baseURL    string
}

// runtime is the state shared by the commands of one invocation.
type runtime struct {
	flags  globalFlags
	cfg    config.Config
	logger *slog.Logger
	close  func() error

	stdout io.Writer
	stderr io.Writer
	lookup func(string) (string, bool)
}

// NewRootCmd builds the command tree. lookupEnv may be nil.
func NewRootCmd(stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) *cobra.Command {
	root, _ := newRoot(stdout, stderr, lookupEnv)
	return root
}

func newRoot(stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) (*cobra.Command, *runtime) {
	rt := &runtime{stdout: stdout, stderr: stderr, lookup: lookupEnv, close: func() error { return nil }}

	root := &cobra.Command{
		Use:   "extruct",
		Short: "Enrich companies through Extruct tables",
		Long: `extruct adds companies to Extruct tables, waits for the table run to finish,
and returns the enriched rows.

Configuration is read from extruct.yaml, .env and the environment
(EXTRUCT_API_TOKEN, EXTRUCT_BASE_URL, EXTRUCT_POLL_INTERVAL, EXTRUCT_MAX_WAIT, ...).`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "ping" {
				return nil
			}
			return rt.init(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&rt.flags.configPath, "config", "", "YAML config file (default extruct.yaml when present)")
	pf.StringVar(&rt.flags.envFile, "env-file", "", "dotenv file (default .env when present)")
	pf.StringVar(&rt.flags.logLevel, "log-level", "", "debug, info, warn or error (env: LOG_LEVEL)")
	pf.StringVar(&rt.flags.logFile, "log-file", "", "also write JSON logs to this file (env: LOG_FILE)")
	pf.StringVar(&rt.flags.baseURL, "base-url", "", "Extruct API base URL (env: EXTRUCT_BASE_URL)")

	root.AddCommand(
		newEnrichCmd(rt),
		newEnrichCompanyCmd(rt),
		newTableCmd(rt),
		newCredentialsCmd(rt),
		newPingCmd(rt),
		newVersionCmd(rt),
	)
	return root, rt
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) int {
	root, rt := newRoot(stdout, stderr, lookupEnv)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := rt.close(); cerr != nil && err == nil {
		err = fmt.Errorf("close log file: %w", cerr)
	}
	if err == nil {
		return ExitOK
	}
	_, _ = fmt.Fprintf(stderr, "error: %s\n", redact.Error(err))

	var ue *usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return ExitUsage
	}
	return ExitFailure
}

func (rt *runtime) init(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{
		ConfigPath: rt.flags.configPath,
		EnvFile:    rt.flags.envFile,
		LookupEnv:  rt.lookup,
	})
	if err != nil {
		return &usageError{err: err}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = rt.flags.logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = rt.flags.logFile
	}
	if cmd.Flags().Changed("base-url") {
		cfg.BaseURL = rt.flags.baseURL
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return &usageError{err: err}
	}
	logger, closeFn := config.SetupLogger(rt.stderr, cfg.LogFile, level)
	rt.cfg = cfg
	rt.logger = logger
	rt.close = closeFn
	return nil
}

// enricher validates the configuration and builds the API-backed enricher.
func (rt *runtime) enricher() (*enrich.Enricher, error) {
	if err := rt.cfg.Validate(); err != nil {
		return nil, &usageError{err: err}
	}
	client, err := extruct.NewClient(rt.cfg.Credentials(), rt.cfg.ClientOptions(rt.logger))
	if err != nil {
		return nil, &usageError{err: err}
	}
	rt.logger.Debug("extruct client ready", "base_url", client.BaseURL())
	return enrich.New(client, rt.cfg.EnrichOptions(rt.logger)), nil
}
