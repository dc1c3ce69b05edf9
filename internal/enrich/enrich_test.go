package enrich_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/extruct-enrichment/internal/enrich"
	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
	"github.com/shpitdev/extruct-enrichment/pkg/jobwait"
	"github.com/shpitdev/extruct-enrichment/pkg/mockextruct"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/core"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/worker"
)

func newEnricher(t *testing.T, srv *mockextruct.Server, maxWait time.Duration) *enrich.Enricher {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := extruct.NewClient(extruct.Credentials{APIToken: "tok", BaseURL: ts.URL}, extruct.ClientOptions{Retries: -1})
	require.NoError(t, err)
	return enrich.New(client, enrich.Options{PollInterval: 5 * time.Millisecond, MaxWait: maxWait})
}

func TestEnrichCompany_WaitsForRunAndReturnsRow(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.SetRunPolls(3)
	e := newEnricher(t, srv, 2*time.Second)

	out, err := e.EnrichCompany(context.Background(), enrich.Item{Index: 4, TableID: "tbl", Company: "https://linear.app"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.RowID)
	assert.Equal(t, jobwait.Status("idle"), out.RunStatus)
	assert.Equal(t, 4, out.Item.Index)
	assert.Equal(t, "Linear", out.Data()["company_name"])
	assert.Equal(t, "linear.app", out.Data()["domain"])

	assert.Equal(t, 1, srv.CallCount(http.MethodPost, "/v1/tables/tbl/rows"))
	assert.Equal(t, 4, exactCalls(srv, http.MethodGet, "/v1/tables/tbl"), "three running polls and one idle poll")
}

func exactCalls(srv *mockextruct.Server, method, path string) int {
	n := 0
	for _, c := range srv.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func TestEnrichCompany_TimeoutIsPermanent(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.SetRunPolls(-1)
	e := newEnricher(t, srv, 20*time.Millisecond)

	out, err := e.EnrichCompany(context.Background(), enrich.Item{TableID: "tbl", Company: "acme.com"})
	require.Error(t, err)
	assert.NotEmpty(t, out.RowID)

	var te *jobwait.TimeoutError
	require.ErrorAs(t, err, &te)
	var pe *core.PermanentError
	require.ErrorAs(t, err, &pe)
	assert.False(t, worker.IsTransient(err))
	assert.Contains(t, err.Error(), "check table tbl manually")
}

func TestEnrichCompany_RefusedSubmitIsTransient(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.FailNext(http.MethodPost, "/v1/tables/tbl/rows", http.StatusServiceUnavailable)
	e := newEnricher(t, srv, time.Second)

	_, err := e.EnrichCompany(context.Background(), enrich.Item{TableID: "tbl", Company: "acme.com"})
	require.Error(t, err)
	var tr *core.TransientError
	require.ErrorAs(t, err, &tr)
	assert.True(t, worker.IsTransient(err))

	// The injected failure is consumed; a resubmission succeeds.
	_, err = e.EnrichCompany(context.Background(), enrich.Item{TableID: "tbl", Company: "acme.com"})
	require.NoError(t, err)
}

func TestEnrichCompany_FetchErrorStopsWait(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.SetRunPolls(5)
	srv.FailNext(http.MethodGet, "/v1/tables/tbl", http.StatusInternalServerError)
	e := newEnricher(t, srv, time.Second)

	_, err := e.EnrichCompany(context.Background(), enrich.Item{TableID: "tbl", Company: "acme.com"})
	require.Error(t, err)
	var fe *jobwait.FetchError
	require.ErrorAs(t, err, &fe)
	var he *extruct.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.StatusCode)
	assert.Equal(t, 1, exactCalls(srv, http.MethodGet, "/v1/tables/tbl"))
}

func TestEnrichCompany_UnknownTable(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.AutoCreateTables(false)
	e := newEnricher(t, srv, time.Second)

	_, err := e.EnrichCompany(context.Background(), enrich.Item{TableID: "missing", Company: "acme.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table missing not found")
	assert.True(t, extruct.IsNotFound(err))
	assert.False(t, worker.IsTransient(err))
}

func TestEnrichCompany_ValidatesItem(t *testing.T) {
	t.Parallel()

	e := enrich.New(stubAPI{}, enrich.Options{})
	_, err := e.EnrichCompany(context.Background(), enrich.Item{Company: "x"})
	require.Error(t, err)
	_, err = e.EnrichCompany(context.Background(), enrich.Item{TableID: "t"})
	require.Error(t, err)
}

func TestEnrichCompany_CanceledDuringWait(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.SetRunPolls(-1)
	e := newEnricher(t, srv, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := e.EnrichCompany(ctx, enrich.Item{TableID: "tbl", Company: "acme.com"})
	require.Error(t, err)
	var te *jobwait.TimeoutError
	assert.False(t, errors.As(err, &te))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchTable(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.SetRunPolls(0)
	e := newEnricher(t, srv, time.Second)
	ctx := context.Background()

	for _, c := range []string{"a.com", "b.com"} {
		_, err := e.EnrichCompany(ctx, enrich.Item{TableID: "tbl", Company: c})
		require.NoError(t, err)
	}

	data, err := e.FetchTable(ctx, "tbl", extruct.DataQuery{})
	require.NoError(t, err)
	assert.Len(t, data.Rows, 2)

	_, err = e.FetchTable(ctx, " ", extruct.DataQuery{})
	require.Error(t, err)
}

func TestEnrichCompany_AddRowsWithoutID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rows []extruct.Row
	}{
		{name: "no rows"},
		{name: "empty id", rows: []extruct.Row{{ID: ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := &rowsAPI{rows: tt.rows}
			e := enrich.New(api, enrich.Options{PollInterval: time.Millisecond, MaxWait: time.Second})
			out, err := e.EnrichCompany(context.Background(), enrich.Item{TableID: "tbl", Company: "acme.com"})

			require.ErrorIs(t, err, extruct.ErrMissingRowID)
			var pe *core.PermanentError
			require.ErrorAs(t, err, &pe)
			assert.False(t, worker.IsTransient(err))
			assert.Empty(t, out.RowID)
			assert.Zero(t, api.statusCalls, "no polling without a row id")
		})
	}
}

// rowsAPI returns fixed add-rows results and counts status polls.
type rowsAPI struct {
	stubAPI
	rows        []extruct.Row
	statusCalls int
}

func (a *rowsAPI) AddRows(context.Context, string, []string, bool) ([]extruct.Row, error) {
	return a.rows, nil
}

func (a *rowsAPI) RunStatus(context.Context, string) (jobwait.Status, error) {
	a.statusCalls++
	return "idle", nil
}

func TestOutputData(t *testing.T) {
	t.Parallel()

	assert.Nil(t, enrich.Output{}.Data())
	flat := enrich.Output{Record: extruct.Record{"company_name": "Acme"}}
	assert.Equal(t, "Acme", flat.Data()["company_name"])
}

type stubAPI struct{}

func (stubAPI) AddRows(context.Context, string, []string, bool) ([]extruct.Row, error) {
	return nil, errors.New("unexpected call")
}

func (stubAPI) RunStatus(context.Context, string) (jobwait.Status, error) {
	return "", errors.New("unexpected call")
}

func (stubAPI) GetRow(context.Context, string, string) (extruct.Record, error) {
	return nil, errors.New("unexpected call")
}

func (stubAPI) GetTableData(context.Context, string, extruct.DataQuery) (extruct.TableData, error) {
	return extruct.TableData{}, errors.New("unexpected call")
}
