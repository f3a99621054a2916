package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gis-fillers/internal/config"
	"gis-fillers/internal/database"
	"gis-fillers/internal/geocode"
	"gis-fillers/internal/resolver"
	"gis-fillers/internal/testutil"
	"gis-fillers/internal/zones"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
data_folder: ./data
fillers:
  - kind: zaehlsprengel_simplified
    args:
      year: 2023
      file_template: "zsp_{year}_{gis_type}.geojson"
      country: AT
  - kind: attribute
    name: gemeinde_population
    unique_name: true
    args:
      level: gemeinde
      attribute: population
      file: pop.csv
      by_code: true
  - kind: rollup
    args:
      levels: [bezirk, bundesland]
      attribute: population
  - kind: plz_gemeinde
    loc_resolve: true
    loc_resolver_args:
      - table: shops
        location_columns: [street, city]
        strategy: address
        skippable: true
    args:
      file: plz.csv
`

type stubGeocoder struct{}

func (stubGeocoder) Geocode(context.Context, string) (geocode.Point, error) {
	return geocode.Point{Lat: 48.2, Lon: 16.3}, nil
}

func TestParseAndBuild(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Fillers, 4)
	assert.Equal(t, "./data", f.DataFolder)
	assert.True(t, f.Fillers[1].UniqueName)
	assert.Equal(t, "gemeinde_population", f.Fillers[1].Name)

	out, err := Build(f, Builder{Deps: resolver.Deps{Geocoder: stubGeocoder{}}})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.IsType(t, &zones.PrefixHierarchyFiller{}, out[0])
	assert.Equal(t, "zaehlsprengel_simplified", out[0].Core().Name())
	assert.Equal(t, "zsp_2023_zaehlsprengel_simplified.geojson", out[0].Core().Args()["file"])
	assert.IsType(t, &zones.AttributeFiller{}, out[1])
	assert.True(t, out[1].Core().Unique())
	assert.IsType(t, &zones.RollupFiller{}, out[2])
	assert.NotNil(t, out[3].Core().Options().NewResolver)
	assert.Nil(t, out[1].Core().Options().NewResolver)
}

func TestChainedResolverRegistered(t *testing.T) {
	ctx := context.Background()
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	out, err := Build(f, Builder{Deps: resolver.Deps{Geocoder: stubGeocoder{}}})
	require.NoError(t, err)

	db, _ := testutil.NewStubDB()
	d := database.New(db, t.TempDir())
	for _, fl := range out {
		require.NoError(t, d.Add(ctx, fl))
	}
	all := d.Fillers()
	require.Len(t, all, 5)
	assert.Equal(t, "plz_gemeinde", all[3].Core().Name())
	assert.IsType(t, &resolver.LocationResolver{}, all[4])
	assert.Equal(t, "LocationResolver_shops", all[4].Core().Name())
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(File{Fillers: []Entry{{Kind: "shapefile"}}}, Builder{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Contains(t, err.Error(), "zaehlsprengel")

	f, err := Parse([]byte("fillers:\n  - kind: attribute\n    args:\n      level: gemeinde\n"))
	require.NoError(t, err)
	_, err = Build(f, Builder{})
	assert.Error(t, err)

	f, err = Parse([]byte("fillers:\n  - kind: location_resolver\n    args:\n      table: shops\n      location_columns: [addr]\n      strategy: telepathy\n"))
	require.NoError(t, err)
	_, err = Build(f, Builder{})
	assert.ErrorIs(t, err, resolver.ErrUnknownStrategy)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("fillers:\n  - kind: roads\n    colour: red\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("fillers:\n  - name: nameless\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	f, raw, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Fillers, 4)
	assert.Equal(t, sample, string(raw))

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewDeps(t *testing.T) {
	deps, release, err := NewDeps(config.Config{Geocoder: "nominatim", NominatimURL: "http://localhost:1", GeocodeRPS: 1}, nil)
	require.NoError(t, err)
	defer release()
	assert.IsType(t, &geocode.Nominatim{}, deps.Geocoder)
	assert.Nil(t, deps.GeoIP)

	_, _, err = NewDeps(config.Config{Geocoder: "amap"}, nil)
	assert.ErrorIs(t, err, geocode.ErrMissingKey)

	deps, _, err = NewDeps(config.Config{Geocoder: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, deps.Geocoder)

	_, _, err = NewDeps(config.Config{Geocoder: "carrier-pigeon"}, nil)
	assert.Error(t, err)

	_, _, err = NewDeps(config.Config{Geocoder: "none", GeoIPDB: filepath.Join(t.TempDir(), "missing.mmdb")}, nil)
	assert.Error(t, err)
}
