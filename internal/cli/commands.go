package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shpitdev/extruct-enrichment/internal/app"
	"github.com/shpitdev/extruct-enrichment/internal/enrich"
	"github.com/shpitdev/extruct-enrichment/internal/version"
	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/io/local"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/schema"
)

type waitFlags struct {
	pollInterval time.Duration
	maxWait      time.Duration
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", 0, "time between run status checks (env: EXTRUCT_POLL_INTERVAL, default 5s)")
	cmd.Flags().DurationVar(&f.maxWait, "max-wait", 0, "give up waiting for a run after this long (env: EXTRUCT_MAX_WAIT, default 15m)")
}

func (f *waitFlags) apply(cmd *cobra.Command, rt *runtime) {
	if cmd.Flags().Changed("poll-interval") {
		rt.cfg.PollInterval = f.pollInterval
	}
	if cmd.Flags().Changed("max-wait") {
		rt.cfg.MaxWait = f.maxWait
	}
}

func newEnrichCmd(rt *runtime) *cobra.Command {
	var (
		inputPath      string
		outputPath     string
		tableID        string
		format         string
		workers        int
		maxRetries     int
		rateLimitRPS   float64
		continueOnFail bool
		wait           waitFlags
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich every company of a CSV file",
		Long: `Reads a CSV with a "company" column (and optionally "table_id"), adds each company
to its Extruct table, waits for the enrichment run and writes one record per input row.`,
		Example: "  extruct enrich --input companies.csv --table-id tbl_123 --output enriched.jsonl",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inputPath) == "" {
				return usageErrorf("enrich requires --input")
			}
			wait.apply(cmd, rt)
			if cmd.Flags().Changed("workers") {
				rt.cfg.Workers = workers
			}
			if cmd.Flags().Changed("max-retries") {
				rt.cfg.MaxRetries = maxRetries
			}
			if cmd.Flags().Changed("rate-limit-rps") {
				rt.cfg.RateLimitRPS = rateLimitRPS
			}
			if cmd.Flags().Changed("continue-on-fail") {
				rt.cfg.ContinueOnFail = continueOnFail
			}

			outFormat := schema.FormatForPath(outputPath)
			if cmd.Flags().Changed("format") {
				f, err := schema.NormalizeFormat(format)
				if err != nil {
					return &usageError{err: err}
				}
				outFormat = f
			}

			e, err := rt.enricher()
			if err != nil {
				return err
			}

			in := &local.CSVInput{Path: inputPath, DefaultTableID: tableID, Reader: os.Stdin}
			out := &local.FileOutput{Path: outputPath, Format: outFormat, Writer: rt.stdout}
			sum, err := app.RunBatch(cmd.Context(), e, app.BatchOptions{
				Input:  in,
				Output: out,
				Worker: rt.cfg.WorkerOptions(),
				Logger: rt.logger,
			})
			if err != nil {
				return err
			}
			if sum.Failed > 0 {
				rt.logger.Warn("some items failed", "failed", sum.Failed, "total", sum.Total, "run", sum.RunID)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&inputPath, "input", "", `input CSV path, "-" for stdin`)
	f.StringVar(&outputPath, "output", "-", `output path, "-" for stdout`)
	f.StringVar(&tableID, "table-id", "", "table for rows without a table_id column value")
	f.StringVar(&format, "format", "", "jsonl or csv (default from the output extension)")
	f.IntVar(&workers, "workers", 1, "items processed concurrently (env: WORKERS)")
	f.IntVar(&maxRetries, "max-retries", 2, "resubmissions of an item the API refused (env: MAX_RETRIES)")
	f.Float64Var(&rateLimitRPS, "rate-limit-rps", 0, "global item start rate, 0 disables (env: RATE_LIMIT_RPS)")
	f.BoolVar(&continueOnFail, "continue-on-fail", false, "record failed items and keep going (env: CONTINUE_ON_FAIL)")
	wait.register(cmd)
	return cmd
}

func newEnrichCompanyCmd(rt *runtime) *cobra.Command {
	var (
		tableID string
		company string
		wait    waitFlags
	)
	cmd := &cobra.Command{
		Use:     "enrich-company",
		Short:   "Add one company to a table and print the enriched row",
		Example: "  extruct enrich-company --table-id tbl_123 --company stripe.com",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(tableID) == "" || strings.TrimSpace(company) == "" {
				return usageErrorf("enrich-company requires --table-id and --company")
			}
			wait.apply(cmd, rt)
			e, err := rt.enricher()
			if err != nil {
				return err
			}
			return app.RunEnrichCompany(cmd.Context(), e, enrich.Item{TableID: tableID, Company: company}, rt.stdout)
		},
	}
	cmd.Flags().StringVar(&tableID, "table-id", "", "Extruct table id")
	cmd.Flags().StringVar(&company, "company", "", "company name or website")
	wait.register(cmd)
	return cmd
}

func newTableCmd(rt *runtime) *cobra.Command {
	var (
		tableID string
		q       extruct.DataQuery
	)
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Print the current content of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(tableID) == "" {
				return usageErrorf("table requires --table-id")
			}
			if q.Offset < 0 || q.Limit < 0 {
				return usageErrorf("--offset and --limit must be >= 0")
			}
			e, err := rt.enricher()
			if err != nil {
				return err
			}
			return app.RunFetchTable(cmd.Context(), e, tableID, q, rt.stdout)
		},
	}
	cmd.Flags().StringVar(&tableID, "table-id", "", "Extruct table id")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum rows, 0 for the API default")
	return cmd
}

func newCredentialsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage Extruct API credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Check that the configured API token is accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds := rt.cfg.Credentials()
			if err := creds.Validate(); err != nil {
				return &usageError{err: fmt.Errorf("%w (set EXTRUCT_API_TOKEN)", err)}
			}
			if err := creds.Test(cmd.Context(), rt.cfg.ClientOptions(rt.logger)); err != nil {
				if extruct.IsUnauthorized(err) {
					return fmt.Errorf("credential test failed: token rejected by %s: %w", rt.cfg.BaseURL, err)
				}
				return fmt.Errorf("credential test failed: %w", err)
			}
			_, err := fmt.Fprintln(rt.stdout, "credentials OK")
			return err
		},
	})
	return cmd
}

func newPingCmd(rt *runtime) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Echo a message with a timestamp",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return app.RunPing(rt.stdout, message, time.Now())
		},
	}
	cmd.Flags().StringVar(&message, "message", "Hello from extruct", "message to echo")
	return cmd
}

func newVersionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(rt.stdout, version.Current)
			return err
		},
	}
}
