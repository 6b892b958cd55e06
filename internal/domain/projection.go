package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Hemisphere of a UTM zone.
type Hemisphere string

const (
	HemisphereNorth Hemisphere = "N"
	HemisphereSouth Hemisphere = "S"
)

// UTMZone is a zone number plus hemisphere, e.g. 43N.
type UTMZone struct {
	Number     int        `json:"zone" yaml:"zone"`
	Hemisphere Hemisphere `json:"hemisphere" yaml:"hemisphere"`
}

// Key renders the zone as "{zone}{hemisphere}".
func (z UTMZone) Key() string {
	return fmt.Sprintf("%d%s", z.Number, z.Hemisphere)
}

// Validate checks the zone number range and hemisphere letter.
func (z UTMZone) Validate() error {
	if z.Number < 1 || z.Number > 60 {
		return fmt.Errorf("utm zone %d out of range 1-60", z.Number)
	}
	if z.Hemisphere != HemisphereNorth && z.Hemisphere != HemisphereSouth {
		return fmt.Errorf("utm hemisphere %q must be N or S", z.Hemisphere)
	}
	return nil
}

var zonePattern = regexp.MustCompile(`^(\d{1,2})\s*([NnSs])$`)

// ParseUTMZone parses forms like "43N", "43 s".
func ParseUTMZone(value string) (UTMZone, error) {
	match := zonePattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return UTMZone{}, fmt.Errorf("invalid utm zone %q", value)
	}
	number, _ := strconv.Atoi(match[1])
	zone := UTMZone{Number: number, Hemisphere: Hemisphere(strings.ToUpper(match[2]))}
	if err := zone.Validate(); err != nil {
		return UTMZone{}, err
	}
	return zone, nil
}

// ProjectionSpec is either a structured zone or an opaque PROJ definition.
type ProjectionSpec struct {
	Zone       *UTMZone
	Definition string
}

// ZoneProjection builds a zone-based spec.
func ZoneProjection(number int, hemisphere Hemisphere) ProjectionSpec {
	return ProjectionSpec{Zone: &UTMZone{Number: number, Hemisphere: hemisphere}}
}

// DefinitionProjection builds a spec from a PROJ definition string.
func DefinitionProjection(definition string) ProjectionSpec {
	return ProjectionSpec{Definition: strings.TrimSpace(definition)}
}

// ParseProjectionSpec accepts a zone ("43N") or treats the text as a definition.
func ParseProjectionSpec(value string) (ProjectionSpec, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ProjectionSpec{}, nil
	}
	if zonePattern.MatchString(value) {
		zone, err := ParseUTMZone(value)
		if err != nil {
			return ProjectionSpec{}, err
		}
		return ProjectionSpec{Zone: &zone}, nil
	}
	return DefinitionProjection(value), nil
}

// IsZero reports whether no projection was supplied.
func (p ProjectionSpec) IsZero() bool {
	return p.Zone == nil && strings.TrimSpace(p.Definition) == ""
}

// Label is the human-readable projection identifier.
func (p ProjectionSpec) Label() string {
	if p.Zone != nil {
		return p.Zone.Key()
	}
	return p.Definition
}

// MarshalJSON writes zones as objects and definitions as strings.
func (p ProjectionSpec) MarshalJSON() ([]byte, error) {
	switch {
	case p.Zone != nil:
		return json.Marshal(p.Zone)
	case p.Definition != "":
		return json.Marshal(p.Definition)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, a string or a {"zone","hemisphere"} object.
func (p *ProjectionSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*p = ProjectionSpec{}
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		spec, err := ParseProjectionSpec(s)
		if err != nil {
			return err
		}
		*p = spec
		return nil
	case trimmed[0] == '{':
		var zone UTMZone
		if err := json.Unmarshal(trimmed, &zone); err != nil {
			return err
		}
		zone.Hemisphere = Hemisphere(strings.ToUpper(string(zone.Hemisphere)))
		if err := zone.Validate(); err != nil {
			return err
		}
		*p = ProjectionSpec{Zone: &zone}
		return nil
	default:
		return errors.New("projection must be a zone object or a definition string")
	}
}

// ProjectionOverride is externally supplied data for one row.
type ProjectionOverride struct {
	Projection ProjectionSpec `json:"projection"`
	Easting    *string        `json:"easting,omitempty"`
	Northing   *string        `json:"northing,omitempty"`
}

// ProjectionOverrides maps rows to their externally supplied projection data.
type ProjectionOverrides map[RowUID]ProjectionOverride

// GroupValueOverrides maps a group key (e.g. an island name) to a value (e.g. a URL).
type GroupValueOverrides map[string]string
