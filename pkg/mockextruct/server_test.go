package mockextruct_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
	"github.com/shpitdev/extruct-enrichment/pkg/jobwait"
	"github.com/shpitdev/extruct-enrichment/pkg/mockextruct"
)

func newClient(t *testing.T, url, token string) *extruct.Client {
	t.Helper()
	client, err := extruct.NewClient(extruct.Credentials{APIToken: token, BaseURL: url}, extruct.ClientOptions{Retries: -1})
	if err != nil {
		t.Fatalf("new extruct client: %v", err)
	}
	return client
}

func TestMockExtruct_RunReportsRunningThenIdle(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.SetRunPolls(2)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := newClient(t, ts.URL, "dummy-token")
	ctx := context.Background()

	rows, err := client.AddRows(ctx, "tbl-1", []string{"https://www.acme.com"}, true)
	if err != nil {
		t.Fatalf("add rows: %v", err)
	}
	if len(rows) != 1 || rows[0].ID == "" {
		t.Fatalf("expected one row with an id, got %#v", rows)
	}

	want := []jobwait.Status{"running", "running", "idle", "idle"}
	for i, w := range want {
		got, err := client.RunStatus(ctx, "tbl-1")
		if err != nil {
			t.Fatalf("poll %d: %v", i+1, err)
		}
		if got != w {
			t.Fatalf("poll %d: got status %q, want %q", i+1, got, w)
		}
	}

	rec, err := client.GetRow(ctx, "tbl-1", rows[0].ID)
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	data, _ := rec["data"].(map[string]any)
	if data["company_name"] != "Acme" || data["domain"] != "acme.com" {
		t.Fatalf("unexpected enrichment: %#v", data)
	}
	if rec["status"] != "done" {
		t.Fatalf("expected row status done, got %v", rec["status"])
	}
}

func TestMockExtruct_RejectsWrongToken(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.RequireBearerToken("secret")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, err := newClient(t, ts.URL, "wrong").ListTables(context.Background())
	if !extruct.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}

	if _, err := newClient(t, ts.URL, "secret").ListTables(context.Background()); err != nil {
		t.Fatalf("list tables with valid token: %v", err)
	}
}

func TestMockExtruct_UnknownTableWithoutAutoCreate(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.AutoCreateTables(false)
	srv.CreateTable("known", "Known table")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := newClient(t, ts.URL, "dummy-token")
	if _, err := client.GetTable(context.Background(), "missing"); !extruct.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	tbl, err := client.GetTable(context.Background(), "known")
	if err != nil {
		t.Fatalf("get known table: %v", err)
	}
	if tbl.Name != "Known table" || tbl.RunStatus != "idle" {
		t.Fatalf("unexpected table: %#v", tbl)
	}
}

func TestMockExtruct_FailNextIsConsumedOnce(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	srv.FailNext(http.MethodGet, "/v1/tables/t1", http.StatusServiceUnavailable)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := newClient(t, ts.URL, "dummy-token")
	ctx := context.Background()

	_, err := client.GetTable(ctx, "t1")
	if !extruct.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, err := client.GetTable(ctx, "t1"); err != nil {
		t.Fatalf("second get should succeed: %v", err)
	}
	if n := srv.CallCount(http.MethodGet, "/v1/tables/t1"); n != 2 {
		t.Fatalf("expected 2 recorded calls, got %d", n)
	}
}

func TestMockExtruct_TableDataPaging(t *testing.T) {
	t.Parallel()

	srv := mockextruct.New()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := newClient(t, ts.URL, "dummy-token")
	ctx := context.Background()

	if _, err := client.AddRows(ctx, "t2", []string{"a.com", "b.com", "c.com"}, false); err != nil {
		t.Fatalf("add rows: %v", err)
	}

	all, err := client.GetTableData(ctx, "t2", extruct.DataQuery{})
	if err != nil {
		t.Fatalf("get all data: %v", err)
	}
	if len(all.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all.Rows))
	}

	page, err := client.GetTableData(ctx, "t2", extruct.DataQuery{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(page.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(page.Rows))
	}
	data, _ := page.Rows[0]["data"].(map[string]any)
	if data["input"] != "b.com" {
		t.Fatalf("expected second row, got %#v", page.Rows[0])
	}
}

func TestDefaultEnrich(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, name, domain string
	}{
		{"https://www.stripe.com/about", "Stripe", "stripe.com"},
		{"notion.so", "Notion", "notion.so"},
		{"Acme Corp", "Acme Corp", ""},
	}
	for _, tc := range cases {
		got := mockextruct.DefaultEnrich(tc.in)
		if got["company_name"] != tc.name || got["domain"] != tc.domain {
			t.Fatalf("DefaultEnrich(%q) = %#v", tc.in, got)
		}
	}
}
