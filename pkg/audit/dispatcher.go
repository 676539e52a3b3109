package audit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/firm-audit/pkg/client"
	"github.com/Sternrassler/firm-audit/pkg/firm"
	"github.com/Sternrassler/firm-audit/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for the audit pass.
var (
	entitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firm_audit_entities_total",
		Help: "Audited firms by outcome",
	}, []string{"outcome"}) // "missing", "clean", "error"

	workersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "firm_audit_workers_busy",
		Help: "Workers currently processing a firm",
	})
)

// DetailPath is the registry's per-firm endpoint.
const DetailPath = "/api/firm/"

// DefaultWorkers is the default worker pool size.
const DefaultWorkers = 10

// progressEvery controls how often the collector logs progress.
const progressEvery = 100

// DetailFetcher fetches a URL and decodes its JSON body into v.
type DetailFetcher interface {
	FetchJSON(ctx context.Context, rawURL string, v any) error
}

// Dispatcher audits firms concurrently over a fixed-size worker pool.
type Dispatcher struct {
	fetcher    DetailFetcher
	baseURL    string
	workers    int
	classifier *Classifier
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher. Non-positive workers uses DefaultWorkers.
func NewDispatcher(fetcher DetailFetcher, baseURL string, workers int, classifier *Classifier) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	return &Dispatcher{
		fetcher:    fetcher,
		baseURL:    strings.TrimRight(baseURL, "/"),
		workers:    workers,
		classifier: classifier,
		logger:     logging.NewLogger("dispatcher"),
	}
}

// DetailURL builds the detail URL for a firm id.
func DetailURL(baseURL, id string) string {
	q := url.Values{}
	q.Set("id", id)
	return strings.TrimRight(baseURL, "/") + DetailPath + "?" + q.Encode()
}

type task struct {
	seq       int
	firstSeen int
	summary   firm.Summary
}

type outcome struct {
	missing *MissingFieldRow
	err     *ErrorRow
}

// AuditAll fetches and classifies every entity with an identifier. At most
// workers detail fetches are in flight at once. One firm's failure never stops
// the others; it becomes an ErrorRow. When ctx is cancelled no further firms
// are dispatched, in-flight fetches observe the cancellation, and the partial
// outcomes are returned together with ctx.Err().
func (d *Dispatcher) AuditAll(ctx context.Context, entities []firm.Summary) (*Outcomes, error) {
	start := time.Now()
	out := &Outcomes{}

	firstSeen := make(map[string]int, len(entities))
	tasksToRun := make([]task, 0, len(entities))
	for i, e := range entities {
		if e.ID == "" {
			out.Skipped++
			d.logger.Warn().Int("seq", i).Msg("Listing row without firm_id skipped")
			continue
		}
		if _, ok := firstSeen[e.ID]; !ok {
			firstSeen[e.ID] = i
		}
		tasksToRun = append(tasksToRun, task{seq: i, firstSeen: firstSeen[e.ID], summary: e})
	}

	d.logger.Info().
		Int("firms", len(tasksToRun)).
		Int("workers", d.workers).
		Msg("Starting detail audit")

	queue := make(chan task)
	results := make(chan outcome, d.workers)

	var g errgroup.Group

	// Feeder stops handing out work once ctx is done
	dispatched := 0
	g.Go(func() error {
		defer close(queue)
		stopped := func() error {
			d.logger.Warn().
				Int("dispatched", dispatched).
				Int("remaining", len(tasksToRun)-dispatched).
				Msg("Dispatch stopped (context cancelled)")
			return nil
		}
		for _, t := range tasksToRun {
			if ctx.Err() != nil {
				return stopped()
			}
			select {
			case queue <- t:
				dispatched++
			case <-ctx.Done():
				return stopped()
			}
		}
		return nil
	})

	for i := 0; i < d.workers; i++ {
		workerID := i
		g.Go(func() error {
			d.worker(ctx, workerID, queue, results)
			return nil
		})
	}

	// Close results channel when all workers done
	go func() {
		_ = g.Wait()
		close(results)
	}()

	// The collector is the only writer of out
	processed := 0
	for r := range results {
		processed++
		switch {
		case r.err != nil:
			out.Errors = append(out.Errors, *r.err)
			entitiesTotal.WithLabelValues("error").Inc()
		case r.missing != nil:
			out.Missing = append(out.Missing, *r.missing)
			entitiesTotal.WithLabelValues("missing").Inc()
		default:
			out.Clean++
			entitiesTotal.WithLabelValues("clean").Inc()
		}

		if processed%progressEvery == 0 {
			d.logger.Info().
				Int("processed", processed).
				Int("total", len(tasksToRun)).
				Float64("progress_pct", float64(processed)/float64(len(tasksToRun))*100).
				Msg("Audit progress")
		}
	}
	// results is closed only after g.Wait, so dispatched is final here
	out.Dispatched = dispatched

	d.logger.Info().
		Int("dispatched", out.Dispatched).
		Int("missing", len(out.Missing)).
		Int("errors", len(out.Errors)).
		Int("clean", out.Clean).
		Dur("duration", time.Since(start)).
		Msg("Detail audit complete")

	// Cancellation is reported even when every firm was already in flight
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// worker processes firms from the queue until it is closed.
func (d *Dispatcher) worker(ctx context.Context, workerID int, queue <-chan task, results chan<- outcome) {
	processed := 0
	for t := range queue {
		workersBusy.Inc()
		results <- d.auditOne(ctx, t)
		workersBusy.Dec()
		processed++
	}

	if processed > 0 {
		d.logger.Debug().
			Int("worker_id", workerID).
			Int("firms_processed", processed).
			Msg("Worker completed")
	}
}

// auditOne fetches and classifies a single firm.
func (d *Dispatcher) auditOne(ctx context.Context, t task) outcome {
	id := t.summary.ID

	var body map[string]any
	err := d.fetcher.FetchJSON(ctx, DetailURL(d.baseURL, id), &body)
	if err == nil {
		var fields map[string]any
		fields, err = unwrapRecord(body)
		if err == nil {
			return d.classify(t, firm.Detail{ID: id, Fields: fields})
		}
	}

	d.logger.Warn().
		Err(err).
		Str("firm_id", id).
		Str("error_class", string(client.ClassifyError(err))).
		Msg("Firm audit failed")

	return outcome{err: &ErrorRow{
		Seq:       t.seq,
		FirstSeen: t.firstSeen,
		ID:        id,
		Message:   err.Error(),
		Class:     client.ClassifyError(err),
	}}
}

func (d *Dispatcher) classify(t task, detail firm.Detail) outcome {
	missing, values := d.classifier.Classify(detail)
	if len(missing) == 0 {
		return outcome{}
	}
	return outcome{missing: &MissingFieldRow{
		Seq:           t.seq,
		FirstSeen:     t.firstSeen,
		ID:            detail.ID,
		Name:          detail.Name(),
		Website:       detail.Website(),
		MissingFields: missing,
		Values:        values,
	}}
}

// unwrapRecord extracts the firm record from a detail payload. The record is
// either nested under "firm" or inlined at the top level.
func unwrapRecord(body map[string]any) (map[string]any, error) {
	if raw, ok := body["firm"]; ok {
		rec, isObject := raw.(map[string]any)
		if !isObject || len(rec) == 0 {
			return nil, fmt.Errorf("%w: firm field is %s", client.ErrEmptyRecord, describe(raw))
		}
		return rec, nil
	}
	if len(body) == 0 {
		return nil, client.ErrEmptyRecord
	}
	return body, nil
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an empty object"
	default:
		return fmt.Sprintf("a %T", v)
	}
}

// IsCancelled reports whether err came from caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
