package domain

// Summary aggregates what still needs an operator's attention after a run.
type Summary struct {
	TotalRows                int      `json:"totalRows"`
	CompleteRows             int      `json:"completeRows"`
	NeedsZoneRows            int      `json:"needsZoneRows"`
	NeedsCoordinatesRows     int      `json:"needsCoordinatesAndZoneRows"`
	NotApplicableRows        int      `json:"notApplicableRows"`
	ErrorEntries             int      `json:"errorEntries"`
	ExternalInputEntries     int      `json:"externalInputEntries"`
	PendingGroupKeys         []string `json:"pendingGroupKeys"`
	ResolvedProjectionLabels []string `json:"resolvedProjections"`
}

// Pending reports whether any row still waits for external input.
func (s Summary) Pending() bool {
	return s.NeedsZoneRows > 0 || s.NeedsCoordinatesRows > 0 || len(s.PendingGroupKeys) > 0
}

// Result is the output of one engine invocation.
type Result struct {
	Rows    []ProcessedRow `json:"transformedRows"`
	Log     []LogEntry     `json:"log"`
	Summary Summary        `json:"summary"`
}
