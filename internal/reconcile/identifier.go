package reconcile

import (
	"fmt"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
)

// DefaultIdentifierFields is the candidate list, highest priority first.
var DefaultIdentifierFields = []string{
	"PSM Station Number",
	"PSM_Station_Number",
	"PSMNo",
	"PSM_No",
	"ID",
	"psm_id",
}

// ResolveIdentifier returns the first non-blank candidate value and the field
// it came from, or a positional identifier and an empty field name.
func ResolveIdentifier(row domain.Row, index int, fileName string, candidates []string) (string, string) {
	for _, field := range candidates {
		value, ok := row.Get(field)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(domain.FormatValue(value)); text != "" {
			return text, field
		}
	}
	return fmt.Sprintf("%s Original Row %d", fileName, index+1), ""
}
