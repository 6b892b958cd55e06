// Package export shapes reconciled rows into the final document: merging
// row-sets, choosing, ordering and renaming keys, and encoding JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
)

// DefaultFileName is the download name of an exported document.
const DefaultFileName = "dataforge_output.json"

// KeyConfig selects one key for the output.
type KeyConfig struct {
	Name     string `json:"name" yaml:"name"`
	Included bool   `json:"included" yaml:"included"`
	Rename   string `json:"rename,omitempty" yaml:"rename,omitempty"`
}

// OutputName is the key written to the document.
func (k KeyConfig) OutputName() string {
	if rename := strings.TrimSpace(k.Rename); rename != "" {
		return rename
	}
	return k.Name
}

// Options drive Restructure. Keys not listed are kept, after the listed
// ones, only when IncludeUnlisted is set.
type Options struct {
	Keys            []KeyConfig `json:"keys" yaml:"keys"`
	IncludeUnlisted bool        `json:"includeUnlisted" yaml:"includeUnlisted"`
}

// Project returns the user data of every row that has not been deselected.
// Provenance never reaches the output.
func Project(rows []domain.ProcessedRow) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		if row.Provenance.Deselected {
			continue
		}
		out = append(out, row.Data)
	}
	return out
}

// Merge concatenates row-sets in order.
func Merge(sets ...[]domain.Row) []domain.Row {
	var total int
	for _, set := range sets {
		total += len(set)
	}
	merged := make([]domain.Row, 0, total)
	for _, set := range sets {
		merged = append(merged, set...)
	}
	return merged
}

// DefaultKeys lists every key of rows, in first-seen order, all included.
func DefaultKeys(rows []domain.Row) []KeyConfig {
	names := domain.SourceFile{Rows: rows}.Headers()
	keys := make([]KeyConfig, len(names))
	for i, name := range names {
		keys[i] = KeyConfig{Name: name, Included: true}
	}
	return keys
}

// Restructure reorders, filters and renames the keys of every row.
func Restructure(rows []domain.Row, opts Options) ([]domain.Row, error) {
	listed := make(map[string]struct{}, len(opts.Keys))
	outputs := make(map[string]string, len(opts.Keys))
	for _, key := range opts.Keys {
		if _, dup := listed[key.Name]; dup {
			return nil, fmt.Errorf("key %q listed twice", key.Name)
		}
		listed[key.Name] = struct{}{}
		if !key.Included {
			continue
		}
		name := key.OutputName()
		if previous, taken := outputs[name]; taken {
			return nil, fmt.Errorf("keys %q and %q both map to %q", previous, key.Name, name)
		}
		outputs[name] = key.Name
	}

	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		fields := make([]domain.Field, 0, row.Len())
		for _, key := range opts.Keys {
			if !key.Included {
				continue
			}
			if value, ok := row.Get(key.Name); ok {
				fields = append(fields, domain.F(key.OutputName(), value))
			}
		}
		if opts.IncludeUnlisted {
			for _, field := range row.Fields() {
				if _, ok := listed[field.Name]; ok {
					continue
				}
				if _, clash := outputs[field.Name]; clash {
					continue
				}
				fields = append(fields, field)
			}
		}
		out = append(out, domain.NewRow(fields...))
	}
	return out, nil
}

// WriteJSON writes rows as an array indented by two spaces.
func WriteJSON(w io.Writer, rows []domain.Row) error {
	if rows == nil {
		rows = []domain.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}

// WriteCSV writes rows with the union of their keys as header.
func WriteCSV(w io.Writer, rows []domain.Row) error {
	headers := domain.SourceFile{Rows: rows}.Headers()
	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, name := range headers {
			value, _ := row.Get(name)
			record[i] = domain.FormatValue(value)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
