package audit

import (
	"github.com/Sternrassler/firm-audit/pkg/client"
)

// MissingFieldRow is a firm with at least one missing required field.
type MissingFieldRow struct {
	// Seq is the row's position in the listing pass.
	Seq int
	// FirstSeen is the listing position of the first row carrying ID.
	FirstSeen int

	ID            string
	Name          string
	Website       string
	MissingFields []string
	Values        []FieldValue
}

// ErrorRow is a firm whose detail record could not be audited.
type ErrorRow struct {
	Seq       int
	FirstSeen int

	ID      string
	Message string
	Class   client.ErrorClass
}

// Outcomes is everything the dispatcher collected in one pass.
type Outcomes struct {
	Missing []MissingFieldRow
	Errors  []ErrorRow

	// Clean counts firms with every required field present.
	Clean int
	// Dispatched counts firms handed to a worker.
	Dispatched int
	// Skipped counts listing rows without an identifier.
	Skipped int
}
