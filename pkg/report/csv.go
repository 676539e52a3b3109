// Package report writes audit results as CSV files.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/firm-audit/pkg/audit"
	"github.com/Sternrassler/firm-audit/pkg/firm"
	"github.com/rs/zerolog/log"
)

// MissingHeaders are the fixed leading columns of the missing-fields CSV.
// One column per audited field follows.
var MissingHeaders = []string{"firm_id", "name", "website_root", "missing_fields"}

// ErrorHeaders are the columns of the errors CSV.
var ErrorHeaders = []string{"firm_id", "error"}

// newlines are flattened so every record stays on one physical line.
var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// WriteMissing writes one row per firm with missing fields. fields names the
// audited columns in order; nil uses the default checklist.
func WriteMissing(w io.Writer, rows []audit.MissingFieldRow, fields []string) error {
	if fields == nil {
		fields = audit.NewClassifier(nil).Fields()
	}

	cw := csv.NewWriter(w)
	header := append(append([]string{}, MissingHeaders...), fields...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range rows {
		values := make(map[string]any, len(row.Values))
		for _, v := range row.Values {
			values[v.Name] = v.Value
		}

		record := []string{
			clean(row.ID),
			clean(row.Name),
			clean(row.Website),
			clean(strings.Join(row.MissingFields, ",")),
		}
		for _, name := range fields {
			record = append(record, FormatValue(values[name]))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %s: %w", row.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteErrors writes one row per firm that could not be audited.
func WriteErrors(w io.Writer, rows []audit.ErrorRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ErrorHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write([]string{clean(row.ID), clean(row.Message)}); err != nil {
			return fmt.Errorf("write row %s: %w", row.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatValue renders a raw field value for a CSV cell. Null becomes empty,
// scalars use their JSON text, and objects or arrays are JSON encoded.
func FormatValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := firm.StringValue(v); ok {
		return clean(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return clean(fmt.Sprint(v))
	}
	return clean(string(b))
}

func clean(s string) string {
	return newlines.Replace(s)
}

// WriteFile creates path (and its parent directory) and fills it with write.
// The file is written to a temporary sibling first and renamed into place.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}

	log.Debug().Str("path", path).Msg("Report written")
	return nil
}

// WriteMissingFile writes the missing-fields CSV to path.
func WriteMissingFile(path string, rows []audit.MissingFieldRow, fields []string) error {
	return WriteFile(path, func(w io.Writer) error {
		return WriteMissing(w, rows, fields)
	})
}

// WriteErrorsFile writes the errors CSV to path.
func WriteErrorsFile(path string, rows []audit.ErrorRow) error {
	return WriteFile(path, func(w io.Writer) error {
		return WriteErrors(w, rows)
	})
}
