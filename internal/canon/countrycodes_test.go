package canon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAlpha2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "country_codes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name": "Colombia", "alpha2": "co", "alpha3": "col"},
		{"name": "Ethiopia", "alpha2": "et", "alpha3": "eth"}
	]`), 0644))

	codes, err := LoadCountryCodes(path, nil)
	require.NoError(t, err)

	for _, raw := range []string{"CO", "co", "COL", "Colombia", "colombia"} {
		got, ok := ResolveAlpha2(codes, raw)
		assert.True(t, ok, "input %q", raw)
		assert.Equal(t, "CO", got, "input %q", raw)
	}

	_, ok := ResolveAlpha2(codes, "Narnia")
	assert.False(t, ok)
	_, ok = ResolveAlpha2(codes, "")
	assert.False(t, ok)
}
