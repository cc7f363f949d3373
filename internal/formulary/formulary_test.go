package formulary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(r Result) []string {
	out := make([]string, 0, len(r.Matches))
	for _, d := range r.Matches {
		out = append(out, d.GenericName)
	}
	return out
}

func TestSuggestOrdersByNHISLevel(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8, c.Len())

	res := c.Suggest("Severe Malaria")
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"artemether-lumefantrine", "paracetamol", "artesunate"}, names(res))
	assert.Equal(t, 3, res.Count)

	res = c.Suggest("TYPHOID fever")
	assert.Equal(t, []string{"paracetamol", "ciprofloxacin", "ceftriaxone"}, names(res))
}

func TestSuggestNotFound(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	for _, in := range []string{"", "   "} {
		res := c.Suggest(in)
		assert.Equal(t, StatusNotFound, res.Status)
		assert.Empty(t, res.Matches)
		assert.Equal(t, "Invalid diagnosis input", res.Message)
	}
	res := c.Suggest("sprained ankle")
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Equal(t, "No NHIS-compliant drug found", res.Message)
	assert.NotNil(t, res.Matches)
}

func TestCustomCatalogToleratesMalformedTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drugs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id":"x-1","generic_name":"unknown-level","nhis_level":"","indications_tags":["cough"]},
		{"id":"x-2","generic_name":"level-c","nhis_level":"c","indications_tags":[7,"cough"]},
		{"id":"x-3","generic_name":"broken-tags","nhis_level":"A","indications_tags":"cough"},
		{"id":"x-4","generic_name":"level-a","nhis_level":"A","indications_tags":["cough","dry cough"]}
	]`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	res := c.Suggest("dry cough")
	assert.Equal(t, []string{"level-a", "level-c", "unknown-level"}, names(res), "each drug once, unknown level last")

	d, ok := c.Drug("x-2")
	require.True(t, ok)
	assert.Equal(t, []string{"cough"}, d.IndicationsTags)
	d.IndicationsTags[0] = "mutated"
	again, _ := c.Drug("x-2")
	assert.Equal(t, "cough", again.IndicationsTags[0])

	_, ok = c.Drug("missing")
	assert.False(t, ok)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drugs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a","generic_name":"a","nhis_level":"A","indications_tags":["flu"]}]`), 0o600))
	c, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	assert.Error(t, c.Reload())
	assert.Equal(t, 1, c.Len())

	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))
	require.NoError(t, c.Reload())
	assert.Equal(t, 0, c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
