package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataforge/internal/domain"
)

func islandFile() domain.SourceFile {
	return domain.SourceFile{
		ID:   "islands",
		Name: "islands.csv",
		Rows: []domain.Row{
			domain.NewRow(domain.F("ID", "A"), domain.F("Island", "Foo"), domain.F("URL", "http://x")),
			domain.NewRow(domain.F("ID", "B"), domain.F("Island", "Foo"), domain.F("URL", "")),
			domain.NewRow(domain.F("ID", "C"), domain.F("Island", "Bar"), domain.F("URL", "")),
		},
	}
}

func TestGroupValuePropagation(t *testing.T) {
	result := newTestEngine(nil).Apply([]domain.SourceFile{islandFile()}, nil, nil)
	require.Len(t, result.Rows, 3)

	b := result.Rows[1]
	url, _ := b.Data.Get("URL")
	assert.Equal(t, "http://x", url)
	entry, ok := findEntry(result.Log, "islands", 1, "URL")
	require.True(t, ok)
	assert.Equal(t, domain.LogStatusFilled, entry.Status)
	assert.Empty(t, b.Provenance.PendingGroupKey)

	c := result.Rows[2]
	url, _ = c.Data.Get("URL")
	assert.Equal(t, "", url)
	assert.Equal(t, "Bar", c.Provenance.PendingGroupKey)
	entry, ok = findEntry(result.Log, "islands", 2, "URL")
	require.True(t, ok)
	assert.True(t, entry.RequiresExternalInput)
	assert.False(t, entry.IsError)

	assert.Equal(t, []string{"Bar"}, result.Summary.PendingGroupKeys)
	assert.Equal(t, 3, result.Summary.NotApplicableRows)
}

func TestGroupValueOverrideResolvesPendingKey(t *testing.T) {
	overrides := domain.GroupValueOverrides{"Bar": "http://bar", "Foo": "http://override"}

	result := newTestEngine(nil).Apply([]domain.SourceFile{islandFile()}, nil, overrides)

	c := result.Rows[2]
	url, _ := c.Data.Get("URL")
	assert.Equal(t, "http://bar", url)
	assert.Empty(t, c.Provenance.PendingGroupKey)

	// The override wins over row A's value for B, but A itself is never overwritten.
	b, _ := result.Rows[1].Data.Get("URL")
	assert.Equal(t, "http://override", b)
	a, _ := result.Rows[0].Data.Get("URL")
	assert.Equal(t, "http://x", a)

	entry, ok := findEntry(result.Log, "islands", 0, "URL")
	require.True(t, ok)
	assert.Equal(t, domain.LogStatusUnchanged, entry.Status)
	assert.Contains(t, entry.Details, string(KeepExistingOnConflict))
	assert.Empty(t, result.Summary.PendingGroupKeys)
}

func TestBuildGroupValuesSpansFiles(t *testing.T) {
	first := domain.SourceFile{ID: "a", Name: "a.csv", Rows: []domain.Row{
		domain.NewRow(domain.F("Island", "Foo"), domain.F("URL", " ")),
	}}
	second := domain.SourceFile{ID: "b", Name: "b.csv", Rows: []domain.Row{
		domain.NewRow(domain.F("Island", "Foo"), domain.F("URL", "http://second")),
		domain.NewRow(domain.F("Island", "Foo"), domain.F("URL", "http://third")),
	}}
	files := []domain.SourceFile{first, second}
	maps := []FieldMap{
		DefaultAliases().Resolve(first.Headers()),
		DefaultAliases().Resolve(second.Headers()),
	}

	values := BuildGroupValues(files, maps, domain.GroupValueOverrides{"Baz": "  "})

	assert.Equal(t, GroupValues{"Foo": "http://second"}, values)
}

func TestParseConflictPolicy(t *testing.T) {
	policy, err := ParseConflictPolicy("")
	require.NoError(t, err)
	assert.Equal(t, KeepExistingOnConflict, policy)

	_, err = ParseConflictPolicy("overwrite")
	assert.Error(t, err)
}

func TestBuildGroupValuesOverrideKeysAreDeterministic(t *testing.T) {
	overrides := domain.GroupValueOverrides{
		" Foo":  "http://padded",
		"Foo ":  "http://trailing",
		"Foo":   "http://exact",
		"  Bar": "http://bar-2",
		" Bar":  "http://bar-1",
	}

	for range 50 {
		values := BuildGroupValues(nil, nil, overrides)
		assert.Equal(t, GroupValues{"Foo": "http://exact", "Bar": "http://bar-2"}, values)
	}
}
