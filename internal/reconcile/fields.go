// Package reconcile implements the coordinate reconciliation engine: it turns
// ingested row-sets plus caller-owned override maps into provenance-tagged
// rows and a complete, ordered transformation log.
package reconcile

// Canonical names written when a file has no column for a converted value.
const (
	FieldLatitude   = "Lat"
	FieldLongitude  = "Long"
	FieldEasting    = "Easting/m"
	FieldNorthing   = "Northing/m"
	FieldGroupKey   = "Island"
	FieldGroupValue = "URL"
)

// Aliases lists the accepted header names per logical field, in preference
// order. Matching is exact and case-sensitive.
type Aliases struct {
	Latitude   []string `mapstructure:"latitude" yaml:"latitude"`
	Longitude  []string `mapstructure:"longitude" yaml:"longitude"`
	Easting    []string `mapstructure:"easting" yaml:"easting"`
	Northing   []string `mapstructure:"northing" yaml:"northing"`
	GroupKey   []string `mapstructure:"group_key" yaml:"group_key"`
	GroupValue []string `mapstructure:"group_value" yaml:"group_value"`
}

// DefaultAliases returns the header names used by the survey exports.
func DefaultAliases() Aliases {
	return Aliases{
		Latitude:   []string{FieldLatitude},
		Longitude:  []string{FieldLongitude},
		Easting:    []string{FieldEasting, "Easting"},
		Northing:   []string{FieldNorthing, "Northing"},
		GroupKey:   []string{FieldGroupKey},
		GroupValue: []string{FieldGroupValue},
	}
}

// withDefaults fills empty alias lists from DefaultAliases.
func (a Aliases) withDefaults() Aliases {
	d := DefaultAliases()
	if len(a.Latitude) == 0 {
		a.Latitude = d.Latitude
	}
	if len(a.Longitude) == 0 {
		a.Longitude = d.Longitude
	}
	if len(a.Easting) == 0 {
		a.Easting = d.Easting
	}
	if len(a.Northing) == 0 {
		a.Northing = d.Northing
	}
	if len(a.GroupKey) == 0 {
		a.GroupKey = d.GroupKey
	}
	if len(a.GroupValue) == 0 {
		a.GroupValue = d.GroupValue
	}
	return a
}

// FieldMap is the result of header inspection for one file. An empty name
// means the file has no column for that logical field.
type FieldMap struct {
	Latitude   string
	Longitude  string
	Easting    string
	Northing   string
	GroupKey   string
	GroupValue string
}

// Resolve inspects a file's headers once and picks the column for each field.
func (a Aliases) Resolve(headers []string) FieldMap {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}
	pick := func(candidates []string) string {
		for _, c := range candidates {
			if _, ok := present[c]; ok {
				return c
			}
		}
		return ""
	}
	return FieldMap{
		Latitude:   pick(a.Latitude),
		Longitude:  pick(a.Longitude),
		Easting:    pick(a.Easting),
		Northing:   pick(a.Northing),
		GroupKey:   pick(a.GroupKey),
		GroupValue: pick(a.GroupValue),
	}
}

// HasCoordinates reports whether coordinate reconciliation applies to the file.
func (m FieldMap) HasCoordinates() bool {
	return m.Latitude != "" || m.Longitude != "" || m.Easting != "" || m.Northing != ""
}

// HasGroup reports whether group-value propagation applies to the file.
func (m FieldMap) HasGroup() bool {
	return m.GroupKey != "" && m.GroupValue != ""
}

func (m FieldMap) latitudeName() string  { return orDefault(m.Latitude, FieldLatitude) }
func (m FieldMap) longitudeName() string { return orDefault(m.Longitude, FieldLongitude) }
func (m FieldMap) eastingName() string   { return orDefault(m.Easting, FieldEasting) }
func (m FieldMap) northingName() string  { return orDefault(m.Northing, FieldNorthing) }

func orDefault(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
