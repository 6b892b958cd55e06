package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RowUID identifies a row across a whole batch.
type RowUID struct {
	FileID string
	Index  int
}

// String renders the uid as "{fileId}#{index}".
func (u RowUID) String() string {
	return fmt.Sprintf("%s#%d", u.FileID, u.Index)
}

// MarshalText lets RowUID serve as a JSON map key.
func (u RowUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses the text form produced by MarshalText.
func (u *RowUID) UnmarshalText(text []byte) error {
	parsed, err := ParseRowUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ParseRowUID parses "{fileId}#{index}".
func ParseRowUID(value string) (RowUID, error) {
	value = strings.TrimSpace(value)
	sep := strings.LastIndex(value, "#")
	if sep <= 0 || sep == len(value)-1 {
		return RowUID{}, fmt.Errorf("invalid row uid %q", value)
	}
	index, err := strconv.Atoi(value[sep+1:])
	if err != nil || index < 0 {
		return RowUID{}, fmt.Errorf("invalid row index in uid %q", value)
	}
	return RowUID{FileID: value[:sep], Index: index}, nil
}

// CoordinateState is the reconciliation status of a row's geographic position.
type CoordinateState string

const (
	CoordinatesNotApplicable          CoordinateState = "NOT_APPLICABLE"
	CoordinatesComplete               CoordinateState = "COMPLETE"
	CoordinatesNeedZone               CoordinateState = "NEEDS_ZONE"
	CoordinatesNeedCoordinatesAndZone CoordinateState = "NEEDS_COORDINATES_AND_ZONE"
)

// Provenance is engine bookkeeping kept apart from user data.
type Provenance struct {
	RowUID             RowUID
	FileID             string
	FileName           string
	OriginalIndex      int
	DisplayIdentifier  string
	IdentifierField    string
	Coordinates        CoordinateState
	ResolvedProjection string
	PendingGroupKey    string
	Deselected         bool
}

// NeedsProjectionZoneOnly is true when projected coordinates are usable but no
// projection is known.
func (p Provenance) NeedsProjectionZoneOnly() bool {
	return p.Coordinates == CoordinatesNeedZone
}

// NeedsCoordinatesAndZone is true when neither geographic nor projected
// coordinates are usable.
func (p Provenance) NeedsCoordinatesAndZone() bool {
	return p.Coordinates == CoordinatesNeedCoordinatesAndZone
}

type provenanceJSON struct {
	RowUID                  RowUID          `json:"rowUid"`
	FileID                  string          `json:"fileId"`
	FileName                string          `json:"fileName"`
	OriginalIndex           int             `json:"originalIndex"`
	DisplayIdentifier       string          `json:"displayIdentifier"`
	IdentifierField         string          `json:"identifierField,omitempty"`
	Coordinates             CoordinateState `json:"coordinates"`
	NeedsProjectionZoneOnly bool            `json:"needsProjectionZoneOnly"`
	NeedsCoordinatesAndZone bool            `json:"needsCoordinatesAndZone"`
	ResolvedProjection      string          `json:"resolvedProjection,omitempty"`
	PendingGroupKey         string          `json:"pendingGroupValueKey,omitempty"`
	Deselected              bool            `json:"deselected,omitempty"`
}

// MarshalJSON exposes the derived flags next to the stored state.
func (p Provenance) MarshalJSON() ([]byte, error) {
	return json.Marshal(provenanceJSON{
		RowUID:                  p.RowUID,
		FileID:                  p.FileID,
		FileName:                p.FileName,
		OriginalIndex:           p.OriginalIndex,
		DisplayIdentifier:       p.DisplayIdentifier,
		IdentifierField:         p.IdentifierField,
		Coordinates:             p.Coordinates,
		NeedsProjectionZoneOnly: p.NeedsProjectionZoneOnly(),
		NeedsCoordinatesAndZone: p.NeedsCoordinatesAndZone(),
		ResolvedProjection:      p.ResolvedProjection,
		PendingGroupKey:         p.PendingGroupKey,
		Deselected:              p.Deselected,
	})
}

// UnmarshalJSON restores provenance; the derived flags are ignored.
func (p *Provenance) UnmarshalJSON(data []byte) error {
	var raw provenanceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Provenance{
		RowUID:             raw.RowUID,
		FileID:             raw.FileID,
		FileName:           raw.FileName,
		OriginalIndex:      raw.OriginalIndex,
		DisplayIdentifier:  raw.DisplayIdentifier,
		IdentifierField:    raw.IdentifierField,
		Coordinates:        raw.Coordinates,
		ResolvedProjection: raw.ResolvedProjection,
		PendingGroupKey:    raw.PendingGroupKey,
		Deselected:         raw.Deselected,
	}
	return nil
}

// ProcessedRow pairs cleaned user data with its provenance.
type ProcessedRow struct {
	Data       Row        `json:"data"`
	Provenance Provenance `json:"provenance"`
}

// SourceFile is one ingested row-set.
type SourceFile struct {
	ID   string `json:"id"`
	Name string `json:"fileName"`
	Rows []Row  `json:"rows"`
}

// Headers returns the union of field names across rows in order of first
// appearance.
func (f SourceFile) Headers() []string {
	seen := make(map[string]struct{})
	var headers []string
	for _, row := range f.Rows {
		for _, name := range row.names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			headers = append(headers, name)
		}
	}
	return headers
}
