package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/shpitdev/extruct-enrichment/pkg/mockextruct"
)

func main() {
	addr := defaultString("MOCK_EXTRUCT_ADDR", ":8080")
	token := defaultString("MOCK_EXTRUCT_TOKEN", "")
	tables := defaultString("MOCK_EXTRUCT_TABLES", "")
	runPolls := defaultInt("MOCK_EXTRUCT_RUN_POLLS", 2)

	cmd := &cobra.Command{
		Use:           "mock-extruct",
		Short:         "Serve an in-memory Extruct-like table API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			srv := mockextruct.New()
			srv.RequireBearerToken(token)
			srv.SetRunPolls(runPolls)
			for _, id := range splitCSV(tables) {
				srv.CreateTable(id, id)
			}

			logger.Info("mock-extruct listening", "addr", addr, "run_polls", runPolls, "auth", token != "")
			hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", addr, "listen address (env: MOCK_EXTRUCT_ADDR)")
	f.StringVar(&token, "token", token, "require this bearer token, empty disables (env: MOCK_EXTRUCT_TOKEN)")
	f.StringVar(&tables, "tables", tables, "comma-separated table ids to pre-create (env: MOCK_EXTRUCT_TABLES)")
	f.IntVar(&runPolls, "run-polls", runPolls, "status reads that report running after a run starts, -1 never finishes (env: MOCK_EXTRUCT_RUN_POLLS)")

	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(envVar string, fallback int) int {
	n, err := strconv.Atoi(defaultString(envVar, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return n
}
