package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/firm-audit/pkg/logging"
	"github.com/Sternrassler/firm-audit/pkg/pagination"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds auditor configuration.
type Config struct {
	// BaseURL of the registry (e.g., "https://gtixt.com")
	BaseURL string

	// Limit caps the number of firms audited; 0 means all
	Limit int

	// PageSize for the listing pass
	PageSize int

	// Workers is the detail fetch concurrency
	Workers int

	// Checklist overrides the audited fields; nil uses Checklist
	Checklist []Field
}

// Fetcher is what the auditor needs from the HTTP client.
type Fetcher interface {
	FetchJSON(ctx context.Context, rawURL string, v any) error
}

// Auditor runs a full audit pass: listing, detail dispatch, then assembly.
type Auditor struct {
	config     Config
	paginator  *pagination.Paginator
	dispatcher *Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

// NewAuditor wires a paginator and a dispatcher around fetcher.
func NewAuditor(fetcher Fetcher, cfg Config) *Auditor {
	pcfg := pagination.DefaultConfig(cfg.BaseURL)
	pcfg.Limit = cfg.Limit
	if cfg.PageSize > 0 {
		pcfg.PageSize = cfg.PageSize
	}

	return &Auditor{
		config:     cfg,
		paginator:  pagination.NewPaginator(fetcher, pcfg),
		dispatcher: NewDispatcher(fetcher, cfg.BaseURL, cfg.Workers, NewClassifier(cfg.Checklist)),
		logger:     logging.NewLogger("auditor"),
		now:        time.Now,
	}
}

// Run audits the registry. A listing failure aborts the run with no report.
// If ctx is cancelled during the detail pass the partial report is returned
// along with the context error.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	start := a.now()
	runID := uuid.NewString()
	logger := a.logger.With().Str("run_id", runID).Logger()

	logger.Info().
		Str("base_url", a.config.BaseURL).
		Int("limit", a.config.Limit).
		Msg("Audit started")

	firms, err := a.paginator.ListAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Listing failed")
		return nil, fmt.Errorf("list firms: %w", err)
	}

	out, dispatchErr := a.dispatcher.AuditAll(ctx, firms)

	report := Assemble(out.Missing, out.Errors, len(firms), start,
		WithRunID(runID),
		WithOutcomeCounts(out),
		WithClock(a.now),
	)

	event := logger.Info()
	if dispatchErr != nil {
		event = logger.Warn().Err(dispatchErr)
	}
	event.
		Int("firms_seen", report.Totals.FirmsSeen).
		Int("missing", report.Totals.MissingCount).
		Int("errors", report.Totals.ErrorCount).
		Int("clean", report.Totals.CleanCount).
		Dur("elapsed", report.Totals.Elapsed).
		Msg("Audit finished")

	if dispatchErr != nil {
		return report, fmt.Errorf("audit interrupted: %w", dispatchErr)
	}
	return report, nil
}
