// Package firm defines the records exchanged with the firm registry API and
// typed helpers for reading loosely structured JSON fields.
package firm

import (
	"encoding/json"
	"strconv"
)

// IDKeys are the listing/detail keys that may carry a firm identifier, in priority order.
var IDKeys = []string{"firm_id", "id"}

// Summary is one row from the listing endpoint.
type Summary struct {
	// ID is the firm identifier. Empty when the row carried no usable identifier.
	ID string

	// Raw holds the listing row exactly as decoded.
	Raw map[string]any
}

// Detail is the full record fetched for a single firm.
type Detail struct {
	ID     string
	Fields map[string]any
}

// NewSummary builds a Summary from a decoded listing row.
func NewSummary(raw map[string]any) Summary {
	id, _ := StringValue(Lookup(raw, IDKeys...))
	return Summary{ID: id, Raw: raw}
}

// Lookup returns the value of the first key in keys that is present in fields.
// A key whose value is JSON null counts as absent.
func Lookup(fields map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := fields[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// StringValue renders scalar JSON values as strings. It reports false for
// nil, objects and arrays.
func StringValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// Name returns the display name of a record.
func (d Detail) Name() string {
	return firstString(d.Fields, "name", "firm_name")
}

// Website returns the website root of a record.
func (d Detail) Website() string {
	return firstString(d.Fields, "website_root")
}

// firstString mirrors the registry's "first non-empty" convention for display columns.
func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := StringValue(fields[key]); ok && s != "" {
			return s
		}
	}
	return ""
}
