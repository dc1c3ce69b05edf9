package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shpitdev/extruct-enrichment/internal/enrich"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/core"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/io/local"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/redact"
	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/worker"
)

// CompanyEnricher runs one enrichment. *enrich.Enricher implements it.
type CompanyEnricher interface {
	EnrichCompany(ctx context.Context, item enrich.Item) (enrich.Output, error)
}

var _ CompanyEnricher = (*enrich.Enricher)(nil)

// BatchOptions configures RunBatch.
type BatchOptions struct {
	Input  core.InputAdapter[local.Item]
	Output core.OutputAdapter[local.OutputRecord]
	Worker worker.Options
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Summary counts the outcome of a batch run.
type Summary struct {
	RunID  string
	Total  int
	OK     int
	Failed int
}

// RunBatch enriches every input item and stores one output record per item, in input order.
//
// With worker.FailurePolicyStop the first failed item aborts the run and nothing is stored.
// With worker.FailurePolicyContinue failed items are stored with status "error".
func RunBatch(ctx context.Context, enricher CompanyEnricher, opts BatchOptions) (Summary, error) {
	if enricher == nil {
		return Summary{}, errors.New("enricher is required")
	}
	if opts.Input == nil || opts.Output == nil {
		return Summary{}, errors.New("input and output adapters are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sum := Summary{RunID: uuid.NewString()}
	log := logger.With("run", sum.RunID)
	runStart := time.Now()

	inputs, err := opts.Input.Load(ctx)
	if err != nil {
		return sum, fmt.Errorf("load input: %w", err)
	}
	sum.Total = len(inputs)
	items := make([]enrich.Item, len(inputs))
	for i, in := range inputs {
		items[i] = enrich.Item{Index: i, TableID: in.TableID, Company: in.Company}
	}

	log.Info("batch start",
		"items", len(items),
		"workers", opts.Worker.Workers,
		"max_retries", opts.Worker.MaxRetries,
		"rate_limit_rps", opts.Worker.RateLimitRPS,
		"continue_on_fail", opts.Worker.FailurePolicy == worker.FailurePolicyContinue,
	)

	traced := newTracedProcessor(core.ProcessFunc[enrich.Item, enrich.Output](enricher.EnrichCompany), log)
	var firstFailed *worker.Result[enrich.Item, enrich.Output]
	completed := 0
	onResult := func(res worker.Result[enrich.Item, enrich.Output]) error {
		completed++
		if res.Err != nil {
			if firstFailed == nil && !errors.Is(res.Err, context.Canceled) {
				r := res
				firstFailed = &r
			}
			return nil
		}
		log.Debug("item progress", "completed", completed, "total", len(items))
		return nil
	}

	results, err := worker.ProcessAllWithCallback(ctx, items, traced.Process, onResult, opts.Worker)
	if err != nil {
		if firstFailed != nil {
			err = fmt.Errorf("item %d (%s): %w", firstFailed.Index, firstFailed.Input.Company, firstFailed.Err)
		}
		log.Error("batch aborted", "completed", completed, "err", redact.Error(err))
		return sum, err
	}

	records := make([]local.OutputRecord, 0, len(results))
	for _, res := range results {
		rec := toRecord(res.Input, res.Output, res.Err)
		if res.Err != nil {
			sum.Failed++
		} else {
			sum.OK++
		}
		records = append(records, rec)
	}

	if err := opts.Output.Store(ctx, records); err != nil {
		return sum, fmt.Errorf("store output: %w", err)
	}

	log.Info("batch complete",
		"total", sum.Total,
		"ok", sum.OK,
		"failed", sum.Failed,
		"duration", time.Since(runStart).Round(time.Millisecond),
	)
	return sum, nil
}

func toRecord(item enrich.Item, out enrich.Output, err error) local.OutputRecord {
	rec := local.OutputRecord{
		Item:      item.Index,
		TableID:   item.TableID,
		Company:   item.Company,
		RowID:     out.RowID,
		RunStatus: string(out.RunStatus),
		Status:    local.StatusOK,
		Data:      out.Data(),
	}
	if err != nil {
		rec.Status = local.StatusError
		rec.Error = redact.Error(err)
		rec.Data = nil
	}
	return rec
}

// tracedProcessor logs one line per attempt start and finish.
type tracedProcessor struct {
	next core.Processor[enrich.Item, enrich.Output]
	log  *slog.Logger

	mu       sync.Mutex
	attempts map[int]int
}

var _ core.Processor[enrich.Item, enrich.Output] = (*tracedProcessor)(nil)

func newTracedProcessor(next core.Processor[enrich.Item, enrich.Output], log *slog.Logger) *tracedProcessor {
	return &tracedProcessor{next: next, log: log, attempts: make(map[int]int)}
}

func (t *tracedProcessor) Process(ctx context.Context, item enrich.Item) (enrich.Output, error) {
	attempt := t.nextAttempt(item.Index)
	log := t.log.With("item", item.Index, "table_id", item.TableID, "attempt", attempt)
	log.Info("enrich start", "company", item.Company)

	start := time.Now()
	out, err := t.next.Process(ctx, item)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		log.Warn("enrich failed",
			"row_id", out.RowID,
			"elapsed", elapsed,
			"retryable", worker.IsTransient(err),
			"err", redact.Error(err),
		)
		return out, err
	}
	log.Info("enrich done", "row_id", out.RowID, "status", string(out.RunStatus), "elapsed", elapsed)
	return out, nil
}

func (t *tracedProcessor) nextAttempt(idx int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[idx]++
	return t.attempts[idx]
}
