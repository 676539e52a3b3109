package audit

import (
	"sort"
	"time"
)

// Totals summarizes one audit pass.
type Totals struct {
	FirmsSeen    int           `json:"firms_seen"`
	MissingCount int           `json:"missing_count"`
	ErrorCount   int           `json:"error_count"`
	CleanCount   int           `json:"clean_count"`
	Dispatched   int           `json:"dispatched"`
	Skipped      int           `json:"skipped"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Report is the assembled result of one audit pass. It is not modified after
// Assemble returns.
type Report struct {
	RunID     string            `json:"run_id,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	Missing   []MissingFieldRow `json:"missing"`
	Errors    []ErrorRow        `json:"errors"`
	Totals    Totals            `json:"totals"`
}

// AssembleOption customizes Assemble.
type AssembleOption func(*assembleOptions)

type assembleOptions struct {
	runID    string
	now      func() time.Time
	outcomes *Outcomes
}

// WithRunID tags the report with a run identifier.
func WithRunID(id string) AssembleOption {
	return func(o *assembleOptions) { o.runID = id }
}

// WithOutcomeCounts copies the dispatcher's clean, dispatched and skipped
// counts into the report totals.
func WithOutcomeCounts(out *Outcomes) AssembleOption {
	return func(o *assembleOptions) { o.outcomes = out }
}

// WithClock overrides the clock used to compute Elapsed.
func WithClock(now func() time.Time) AssembleOption {
	return func(o *assembleOptions) { o.now = now }
}

// Assemble builds the final report. Rows are ordered by the listing position
// of their firm's first occurrence, then by their own position, so the order
// does not depend on which worker finished first. The input slices are copied.
func Assemble(missing []MissingFieldRow, errs []ErrorRow, totalFirms int, start time.Time, opts ...AssembleOption) *Report {
	o := assembleOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	m := make([]MissingFieldRow, len(missing))
	copy(m, missing)
	sort.SliceStable(m, func(i, j int) bool {
		return less(m[i].FirstSeen, m[i].Seq, m[j].FirstSeen, m[j].Seq)
	})

	e := make([]ErrorRow, len(errs))
	copy(e, errs)
	sort.SliceStable(e, func(i, j int) bool {
		return less(e[i].FirstSeen, e[i].Seq, e[j].FirstSeen, e[j].Seq)
	})

	elapsed := o.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	totals := Totals{
		FirmsSeen:    totalFirms,
		MissingCount: len(m),
		ErrorCount:   len(e),
		Elapsed:      elapsed,
	}
	if o.outcomes != nil {
		totals.CleanCount = o.outcomes.Clean
		totals.Dispatched = o.outcomes.Dispatched
		totals.Skipped = o.outcomes.Skipped
	}

	return &Report{
		RunID:     o.runID,
		StartedAt: start,
		Missing:   m,
		Errors:    e,
		Totals:    totals,
	}
}

func less(firstA, seqA, firstB, seqB int) bool {
	if firstA != firstB {
		return firstA < firstB
	}
	return seqA < seqB
}
