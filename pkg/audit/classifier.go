// Package audit classifies firm records for missing required fields, fans
// detail fetches out over a bounded worker pool, and assembles the results
// into a deterministic report.
package audit

import (
	"strings"

	"github.com/Sternrassler/firm-audit/pkg/firm"
)

// Placeholder is the glyph the registry renders for an unknown value.
const Placeholder = "—"

// Field is one required attribute and the keys that may carry it, in priority order.
type Field struct {
	Name string
	Keys []string
}

// Checklist is the ordered set of required fields audited per firm.
var Checklist = []Field{
	{Name: "payout_frequency", Keys: []string{"payout_frequency"}},
	{Name: "max_drawdown_rule", Keys: []string{"max_drawdown_rule", "max_drawdown"}},
	{Name: "daily_drawdown_rule", Keys: []string{"daily_drawdown_rule", "daily_drawdown"}},
	{Name: "jurisdiction_tier", Keys: []string{"jurisdiction_tier"}},
}

// FieldValue is the resolved raw value of one audited field.
type FieldValue struct {
	Name  string
	Value any
}

// IsMissing reports whether v counts as absent: nil, a blank string, or the
// placeholder glyph. Numeric zero and false are present values.
func IsMissing(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(val)
		return trimmed == "" || trimmed == Placeholder
	default:
		return false
	}
}

// Resolve returns the value of the first key of f that holds a non-missing
// value. When every key is missing it returns the primary key's raw value.
func (f Field) Resolve(fields map[string]any) any {
	for _, key := range f.Keys {
		if v := fields[key]; !IsMissing(v) {
			return v
		}
	}
	if len(f.Keys) == 0 {
		return nil
	}
	return firm.Lookup(fields, f.Keys...)
}

// Classifier checks records against a checklist.
type Classifier struct {
	checklist []Field
}

// NewClassifier creates a classifier; a nil checklist uses Checklist.
func NewClassifier(checklist []Field) *Classifier {
	if checklist == nil {
		checklist = Checklist
	}
	return &Classifier{checklist: checklist}
}

// Classify returns the names of missing fields in checklist order, and the
// resolved value of every audited field.
func (c *Classifier) Classify(detail firm.Detail) ([]string, []FieldValue) {
	missing := []string{}
	values := make([]FieldValue, 0, len(c.checklist))

	for _, f := range c.checklist {
		v := f.Resolve(detail.Fields)
		values = append(values, FieldValue{Name: f.Name, Value: v})
		if IsMissing(v) {
			missing = append(missing, f.Name)
		}
	}
	return missing, values
}

// Fields returns the checklist field names in order.
func (c *Classifier) Fields() []string {
	names := make([]string, len(c.checklist))
	for i, f := range c.checklist {
		names[i] = f.Name
	}
	return names
}
