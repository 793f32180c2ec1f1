package csv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/observability"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ByName(t *testing.T) {
	path := writeFile(t, "accessions.csv", `name,longitude,CS_number,latitude
Col-0,-120.0,CS1,40.0
Ler,,CS2,41.0
bad,abc,CS3,42.0
dup,-120.5,CS1,40.5
Cvi, 10.5 ,CS4, -5.25
`)
	table, err := NewLocationLoader(path, observability.Discard()).Load()
	require.NoError(t, err)

	assert.Equal(t, []domain.Location{
		{ID: "CS1", Latitude: 40.0, Longitude: -120.0},
		{ID: "CS4", Latitude: -5.25, Longitude: 10.5},
	}, table.Locations)
	assert.Equal(t, 2, table.DroppedInvalid)
	assert.Equal(t, 1, table.Duplicates)
	assert.NotEmpty(t, table.Fingerprint)
}

func TestLoad_PositionalFallback(t *testing.T) {
	path := writeFile(t, "acc.tsv", "accn\ty\tx\nA\t40\t-120\nB\t95\t0\n")
	table, err := NewLocationLoader(path, observability.Discard()).Load()
	require.NoError(t, err)

	assert.Equal(t, []domain.Location{{ID: "A", Latitude: 40, Longitude: -120}}, table.Locations)
	assert.Equal(t, 1, table.DroppedInvalid, "latitude 95 is out of range")
}

func TestLoad_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"header only", "CS_number,latitude,longitude\n"},
		{"all invalid", "CS_number,latitude,longitude\nA,,\nB,x,y\n"},
		{"too few columns", "id,lat\nA,1\n"},
		{"empty file", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "acc.csv", tt.content)
			_, err := NewLocationLoader(path, observability.Discard()).Load()
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindConfiguration))
		})
	}

	_, err := NewLocationLoader(filepath.Join(t.TempDir(), "missing.csv"), nil).Load()
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := []domain.Location{{ID: "A", Latitude: 1, Longitude: 2}, {ID: "B", Latitude: 3, Longitude: 4}}
	b := []domain.Location{a[1], a[0]}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := []domain.Location{a[0], {ID: "B", Latitude: 3, Longitude: 4.0001}}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}
