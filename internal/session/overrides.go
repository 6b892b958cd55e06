package session

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rpattn/dataforge/internal/domain"
	"github.com/rpattn/dataforge/internal/export"
)

// OverridesFile is the YAML form of operator input used by batch runs.
//
//	projections:
//	  "survey.csv#1": 43N
//	  "survey.csv#2":
//	    projection: 43N
//	    easting: "500000"
//	    northing: "490571.1103"
//	group_values:
//	  Bar: http://bar
//	deselected: ["survey.csv#4"]
type OverridesFile struct {
	Projections map[string]projectionEntry `yaml:"projections"`
	GroupValues map[string]string          `yaml:"group_values"`
	Deselected  []string                   `yaml:"deselected"`
	Export      *export.Options            `yaml:"export"`
}

// projectionEntry accepts either a bare projection string or a mapping.
type projectionEntry struct {
	Projection string  `yaml:"projection"`
	Easting    *string `yaml:"easting"`
	Northing   *string `yaml:"northing"`
}

func (p *projectionEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Projection = node.Value
		return nil
	}
	type plain projectionEntry
	return node.Decode((*plain)(p))
}

// Overrides is the decoded, validated form of an OverridesFile.
type Overrides struct {
	Projections domain.ProjectionOverrides
	GroupValues domain.GroupValueOverrides
	Deselected  map[domain.RowUID]bool
	Export      *export.Options
}

// LoadOverrides decodes and validates a YAML overrides document.
func LoadOverrides(r io.Reader) (Overrides, error) {
	var file OverridesFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return Overrides{}, fmt.Errorf("%w: decode overrides: %v", ErrInvalidInput, err)
	}

	out := Overrides{
		Projections: domain.ProjectionOverrides{},
		GroupValues: domain.GroupValueOverrides{},
		Deselected:  map[domain.RowUID]bool{},
		Export:      file.Export,
	}
	for key, entry := range file.Projections {
		uid, err := domain.ParseRowUID(key)
		if err != nil {
			return Overrides{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		spec, err := domain.ParseProjectionSpec(entry.Projection)
		if err != nil {
			return Overrides{}, fmt.Errorf("%w: row %s: %v", ErrInvalidInput, key, err)
		}
		if spec.IsZero() {
			return Overrides{}, fmt.Errorf("%w: row %s: projection is required", ErrInvalidInput, key)
		}
		out.Projections[uid] = domain.ProjectionOverride{
			Projection: spec,
			Easting:    entry.Easting,
			Northing:   entry.Northing,
		}
	}
	for key, value := range file.GroupValues {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out.GroupValues[key] = value
	}
	for _, raw := range file.Deselected {
		uid, err := domain.ParseRowUID(raw)
		if err != nil {
			return Overrides{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		out.Deselected[uid] = true
	}
	return out, nil
}

// MarkDeselected flags rows of result that appear in deselected.
func MarkDeselected(result *domain.Result, deselected map[domain.RowUID]bool) {
	for i := range result.Rows {
		if deselected[result.Rows[i].Provenance.RowUID] {
			result.Rows[i].Provenance.Deselected = true
		}
	}
}
