package reconcile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rpattn/dataforge/internal/domain"
)

// ConflictPolicy decides what happens when a row already holds a group value
// that differs from the group's resolved value.
type ConflictPolicy string

// KeepExistingOnConflict leaves the row's own value untouched.
const KeepExistingOnConflict ConflictPolicy = "keepExistingOnConflict"

// ParseConflictPolicy accepts the known policy names; empty means the default.
func ParseConflictPolicy(name string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.TrimSpace(name)) {
	case "", KeepExistingOnConflict:
		return KeepExistingOnConflict, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", name)
	}
}

// GroupValues maps a group key to its representative value.
type GroupValues map[string]string

// groupKey normalizes a raw key cell. Blank keys yield "".
func groupKey(raw any) string {
	return strings.TrimSpace(domain.FormatValue(raw))
}

// BuildGroupValues seeds from overrides, then takes the first non-blank value
// per key across all files in input order. Only files with both the key and
// value columns contribute. When several override keys trim to the same key,
// the already-trimmed one wins, otherwise the lowest raw key.
func BuildGroupValues(files []domain.SourceFile, maps []FieldMap, overrides domain.GroupValueOverrides) GroupValues {
	values := make(GroupValues, len(overrides))
	raw := make([]string, 0, len(overrides))
	for key := range overrides {
		raw = append(raw, key)
	}
	slices.Sort(raw)
	for _, rawKey := range raw {
		value := overrides[rawKey]
		key := strings.TrimSpace(rawKey)
		if key == "" || strings.TrimSpace(value) == "" {
			continue
		}
		if _, set := values[key]; set && key != rawKey {
			continue
		}
		values[key] = value
	}

	for i, file := range files {
		fm := maps[i]
		if !fm.HasGroup() {
			continue
		}
		for _, row := range file.Rows {
			keyRaw, _ := row.Get(fm.GroupKey)
			key := groupKey(keyRaw)
			if key == "" {
				continue
			}
			if _, seen := values[key]; seen {
				continue
			}
			valueRaw, _ := row.Get(fm.GroupValue)
			if domain.IsBlank(valueRaw) {
				continue
			}
			values[key] = domain.FormatValue(valueRaw)
		}
	}
	return values
}

// applyGroupValue fills a blank group value from the resolved map. It returns
// the updated row, the pending key (if the value is still unknown) and the
// entries describing the decision.
func applyGroupValue(rc rowContext, data domain.Row, fm FieldMap, values GroupValues, policy ConflictPolicy) (domain.Row, string, []domain.LogEntry) {
	if !fm.HasGroup() {
		return data, "", nil
	}
	keyRaw, _ := data.Get(fm.GroupKey)
	key := groupKey(keyRaw)
	if key == "" {
		return data, "", nil
	}

	current, _ := data.Get(fm.GroupValue)
	resolved, known := values[key]

	if domain.IsBlank(current) {
		if known {
			entry := rc.entry(fm.GroupValue, current, resolved, domain.LogStatusFilled,
				fmt.Sprintf("filled from %s %q", fm.GroupKey, key))
			return data.With(fm.GroupValue, resolved), "", []domain.LogEntry{entry}
		}
		entry := rc.entry(fm.GroupValue, current, current, domain.LogStatusUnchanged,
			fmt.Sprintf("no value known for %s %q", fm.GroupKey, key))
		entry.RequiresExternalInput = true
		return data, key, []domain.LogEntry{entry}
	}

	details := "existing value kept"
	if known && domain.FormatValue(current) != resolved {
		details = fmt.Sprintf("existing value kept; differs from %q resolved for %s %q (%s)",
			resolved, fm.GroupKey, key, policy)
	}
	return data, "", []domain.LogEntry{rc.entry(fm.GroupValue, current, current, domain.LogStatusUnchanged, details)}
}
