package geojson

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"id": 90101000, "name": "Innere Stadt"},
     "geometry": {"type": "Polygon", "coordinates": [[[16.36, 48.20], [16.38, 48.20], [16.38, 48.22], [16.36, 48.20]]]}},
    {"type": "Feature", "properties": {"CNTR_ID": "AT"},
     "geometry": {"type": "Point", "coordinates": [14.1, 47.6]}},
    {"type": "Feature", "properties": {"osm_id": "w1", "highway": "cycleway"},
     "geometry": {"type": "LineString", "coordinates": [[16.3, 48.1], [16.4, 48.3]]}},
    {"type": "Feature", "properties": {"skip": true}, "geometry": null}
  ]
}`

func TestReadCollection(t *testing.T) {
	fs, err := Read(strings.NewReader(collection))
	require.NoError(t, err)
	require.Len(t, fs, 3)

	assert.True(t, fs[0].IsAreal())
	assert.Equal(t, "polygon", fs[0].GeometryType())
	assert.Equal(t, "90101000", fs[0].Prop("id"))
	id, ok := fs[0].PropInt("id")
	assert.True(t, ok)
	assert.Equal(t, int64(90101000), id)
	assert.Equal(t, "Innere Stadt", fs[0].Prop("name"))
	assert.Contains(t, string(fs[0].Geometry), `"Polygon"`)

	lon, lat, ok := fs[1].Point()
	require.True(t, ok)
	assert.Equal(t, 14.1, lon)
	assert.Equal(t, 47.6, lat)

	assert.True(t, fs[2].IsLinear())
	_, _, ok = fs[2].Point()
	assert.False(t, ok)
	assert.Equal(t, "", fs[2].Prop("missing"))
}

func TestBounds(t *testing.T) {
	fs, err := Read(strings.NewReader(collection))
	require.NoError(t, err)
	b, ok := Bounds(fs)
	require.True(t, ok)
	assert.Equal(t, BBox{14.1, 47.6, 16.4, 48.3}, b)
	assert.True(t, b.Valid())
	assert.False(t, BBox{0, 0, 200, 10}.Valid())
}

func TestReadSingleFeatureFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "one.geojson")
	require.NoError(t, os.WriteFile(p, []byte(`{"type":"Feature","properties":null,"geometry":{"type":"MultiPolygon","coordinates":[]}}`), 0o644))
	fs, err := ReadFile(p)
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.True(t, fs[0].IsAreal())
	assert.NotNil(t, fs[0].Props)
}

func TestReadRejectsOtherDocuments(t *testing.T) {
	_, err := Read(strings.NewReader(`{"type":"Polygon","coordinates":[]}`))
	assert.ErrorIs(t, err, ErrNotGeoJSON)
	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}
