package airports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearestEzeizaOwnCoordinates(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	m, ok := r.Nearest(-34.8222, -58.5358, 50)
	require.True(t, ok)
	assert.Equal(t, "EZE", m.Code)
	assert.Equal(t, "SAEZ", m.ICAO)
	assert.Equal(t, 0.0, m.DistanceKm)
}

func TestNearestOutOfRange(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	// South Atlantic, far from any table entry
	_, ok := r.Nearest(-45.0, -40.0, 50)
	assert.False(t, ok)
}

func TestNearestStrictRadius(t *testing.T) {
	r := NewResolver([]Airport{{ICAO: "AAAA", Code: "AAA", Name: "Alpha", Lat: 0, Lon: 0}})

	// One degree of latitude is about 111.19 km
	_, ok := r.Nearest(1, 0, 111.0)
	assert.False(t, ok)
	m, ok := r.Nearest(1, 0, 112.0)
	require.True(t, ok)
	assert.Equal(t, "AAA", m.Code)
}

func TestNearestTieKeepsFirst(t *testing.T) {
	r := NewResolver([]Airport{
		{ICAO: "NNNN", Code: "NOR", Lat: 1, Lon: 0},
		{ICAO: "SSSS", Code: "SOU", Lat: -1, Lon: 0},
	})
	m, ok := r.Nearest(0, 0, 500)
	require.True(t, ok)
	assert.Equal(t, "NOR", m.Code)
}

func TestNearestEmptyTable(t *testing.T) {
	r := NewResolver(nil)
	_, ok := r.Nearest(0, 0, 50)
	assert.False(t, ok)
}

func TestLoadOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airports.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`airports:
  - {icao: "SUMU", code: "MVD", name: "Montevideo Carrasco", lat: -34.8384, lon: -56.0308}
`), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := parse([]byte("airports: []\n"))
	assert.Error(t, err)
	_, err = parse([]byte(`airports:
  - {icao: "XXXX", code: "XXX", lat: 95, lon: 0}
`))
	assert.Error(t, err)
}
