package consumer

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shpitdev/extruct-enrichment/pkg/extruct"
	"github.com/shpitdev/extruct-enrichment/pkg/jobwait"
	"github.com/shpitdev/extruct-enrichment/pkg/mockextruct"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/core"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/schema"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/worker"
)

func TestPublicPackagesCompose(t *testing.T) {
	t.Parallel()

	_ = schema.OutputContract{Fields: schema.ResultFields}

	srv := mockextruct.New()
	srv.SetRunPolls(1)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client, err := extruct.NewClient(extruct.Credentials{APIToken: "t", BaseURL: ts.URL}, extruct.ClientOptions{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	submitAndWait := core.ProcessFunc[string, jobwait.Status](func(ctx context.Context, company string) (jobwait.Status, error) {
		if _, err := client.AddRows(ctx, "tbl", []string{company}, true); err != nil {
			return "", err
		}
		return jobwait.Wait(ctx, client.RunStatusFunc("tbl"), jobwait.Options{
			Interval: 5 * time.Millisecond,
			Deadline: time.Second,
		})
	})

	out, err := worker.ProcessAll(context.Background(), []string{"acme.com"}, submitAndWait.Process, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if len(out) != 1 || out[0].Err != nil || out[0].Output != "idle" {
		t.Fatalf("unexpected output: %#v", out)
	}
}
