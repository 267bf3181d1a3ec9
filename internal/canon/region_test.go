package canon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegionMapping(t *testing.T, dir, country, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, country+".json"), []byte(content), 0644))
}

func TestRegionTable_CanonicalStateResolution(t *testing.T) {
	dir := t.TempDir()
	writeRegionMapping(t, dir, "CO", `{
		"Huila Province": {"canonical_state": "Huila", "confidence": 0.97, "reasoning": "department name"},
		"Somewhere Vague": {"canonical_state": null, "confidence": 0.2, "reasoning": "unresolvable"}
	}`)

	table, err := LoadRegionTable(dir, nil)
	require.NoError(t, err)

	// Mapped region resolves to its canonical state.
	state, invalid := table.CanonicalState("CO", "Huila Province")
	assert.False(t, invalid)
	assert.Equal(t, "Huila", state)

	// A null canonical_state marks the region invalid.
	_, invalid = table.CanonicalState("CO", "Somewhere Vague")
	assert.True(t, invalid)

	// Unmapped regions fall back to the original, valid.
	state, invalid = table.CanonicalState("CO", "Tolima")
	assert.False(t, invalid)
	assert.Equal(t, "Tolima", state)

	// Unknown country falls back too.
	state, invalid = table.CanonicalState("ET", "Yirgacheffe")
	assert.False(t, invalid)
	assert.Equal(t, "Yirgacheffe", state)
}

func TestLoadRegionTable_MissingDirIsEmptyNotError(t *testing.T) {
	table, err := LoadRegionTable(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	state, invalid := table.CanonicalState("CO", "Huila")
	assert.False(t, invalid)
	assert.Equal(t, "Huila", state)
}

func TestFarmTable_CanonicalFarmLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farm_mappings.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"country": "CO", "region": "Huila", "canonical_farm_name": "Finca Quebraditas",
		 "normalized_farm_names": ["quebraditas", "finca-quebraditas"]}
	]`), 0644))

	table, err := LoadFarmTable(path, nil)
	require.NoError(t, err)

	name, ok := table.CanonicalFarm("CO", "huila", "quebraditas")
	assert.True(t, ok)
	assert.Equal(t, "Finca Quebraditas", name)

	_, ok = table.CanonicalFarm("CO", "huila", "some-other-farm")
	assert.False(t, ok)
	_, ok = table.CanonicalFarm("BR", "huila", "quebraditas")
	assert.False(t, ok)
}
