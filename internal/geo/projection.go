package geo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
)

// ErrUnsupportedProjection is returned when a projection cannot be turned into
// a usable definition string.
var ErrUnsupportedProjection = errors.New("unsupported projection")

// ProjectionTable maps "{zone}{hemisphere}" keys to PROJ definition strings.
type ProjectionTable map[string]string

// DefaultProjectionTable returns the built-in zones. Callers may add entries
// to the returned copy.
func DefaultProjectionTable() ProjectionTable {
	return ProjectionTable{
		"42N": utmDefinition(42, domain.HemisphereNorth),
		"43N": utmDefinition(43, domain.HemisphereNorth),
		"43S": utmDefinition(43, domain.HemisphereSouth),
		"44N": utmDefinition(44, domain.HemisphereNorth),
		"44S": utmDefinition(44, domain.HemisphereSouth),
	}
}

// With returns a copy of the table extended by extra. Keys are normalized
// through domain.ParseUTMZone; invalid keys are reported.
func (t ProjectionTable) With(extra map[string]string) (ProjectionTable, error) {
	merged := make(ProjectionTable, len(t)+len(extra))
	for key, def := range t {
		merged[key] = def
	}
	for key, def := range extra {
		zone, err := domain.ParseUTMZone(key)
		if err != nil {
			return nil, fmt.Errorf("projection table key %q: %w", key, err)
		}
		def = strings.TrimSpace(def)
		if def == "" {
			return nil, fmt.Errorf("projection table key %q: empty definition", key)
		}
		merged[zone.Key()] = def
	}
	return merged, nil
}

// ResolveDefinition turns a projection specifier into a PROJ definition.
// Tabulated zones use the table entry, other valid zones get a generated UTM
// definition and opaque definitions are returned verbatim.
func (t ProjectionTable) ResolveDefinition(spec domain.ProjectionSpec) (string, error) {
	switch {
	case spec.Zone != nil:
		if err := spec.Zone.Validate(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedProjection, err)
		}
		if def, ok := t[spec.Zone.Key()]; ok {
			return def, nil
		}
		return utmDefinition(spec.Zone.Number, spec.Zone.Hemisphere), nil
	case strings.TrimSpace(spec.Definition) != "":
		return strings.TrimSpace(spec.Definition), nil
	default:
		return "", fmt.Errorf("%w: no zone or definition supplied", ErrUnsupportedProjection)
	}
}

func utmDefinition(zone int, hemisphere domain.Hemisphere) string {
	var b strings.Builder
	fmt.Fprintf(&b, "+proj=utm +zone=%d", zone)
	if hemisphere == domain.HemisphereSouth {
		b.WriteString(" +south")
	}
	b.WriteString(" +datum=WGS84 +units=m +no_defs")
	return b.String()
}
