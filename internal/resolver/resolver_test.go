package resolver

import (
	"context"
	"errors"
	"net"
	"testing"

	"gis-fillers/internal/database"
	"gis-fillers/internal/filler"
	"gis-fillers/internal/geocode"
	"gis-fillers/internal/store"
	"gis-fillers/internal/testutil"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixed struct {
	res   []Result
	err   error
	calls int
	got   []Location
}

func (f *fixed) Resolve(_ context.Context, locs []Location) ([]Result, error) {
	f.calls++
	f.got = locs
	return f.res, f.err
}

type fakeGeocoder struct {
	calls int
	p     geocode.Point
	err   error
}

func (g *fakeGeocoder) Geocode(context.Context, string) (geocode.Point, error) {
	g.calls++
	return g.p, g.err
}

type fakeCity struct{ lat, lon float64 }

func (f fakeCity) City(ip net.IP) (*geoip2.City, error) {
	if ip.Equal(net.ParseIP("10.0.0.1")) {
		return nil, errors.New("not found")
	}
	c := &geoip2.City{}
	c.Location.Latitude = f.lat
	c.Location.Longitude = f.lon
	return c, nil
}

func shopsConfig() Config {
	return Config{Table: "shops", LocColumns: []string{"address"}}
}

func TestLocationResolverWritesOnlyNullRows(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.OnQuery(`SELECT EXISTS (SELECT 1 FROM "shops" WHERE "geom" IS NULL)`, []string{"exists"}, []any{true})
	conn.OnQuery(`FROM "shops" WHERE "geom" IS NULL ORDER BY "id"`, []string{"id", "address"},
		[]any{int64(7), "Stephansplatz 1, Wien"},
		[]any{int64(8), "nowhere"},
	)
	strat := &fixed{res: []Result{Found(48.2, 16.3), {}}}
	r, err := NewWithStrategy(shopsConfig(), strat, filler.Options{})
	require.NoError(t, err)

	d := database.New(db, t.TempDir())
	require.NoError(t, d.Add(ctx, r))
	require.NoError(t, d.Run(ctx))

	require.Len(t, strat.got, 2)
	assert.Equal(t, "Stephansplatz 1, Wien", strat.got[0].Field(0))

	updates := conn.ExecsMatching(`UPDATE "shops" SET "geom"=ST_SetSRID(ST_MakePoint($1, $2), 4326)`)
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].Query, `"id"=$3 AND "geom" IS NULL`)
	assert.Equal(t, []any{16.3, 48.2, int64(7)}, updates[0].Args)
	assert.Equal(t, "LocationResolver_shops", r.Name())
}

func TestLocationResolverNothingPending(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.OnQuery(`WHERE "geom" IS NULL)`, []string{"exists"}, []any{false})
	strat := &fixed{}
	r, err := NewWithStrategy(shopsConfig(), strat, filler.Options{})
	require.NoError(t, err)

	d := database.New(db, t.TempDir())
	require.NoError(t, d.Add(ctx, r))
	require.NoError(t, d.Run(ctx))
	assert.True(t, r.Done())
	assert.Zero(t, strat.calls)
	assert.Empty(t, conn.ExecsMatching("UPDATE"))
}

func TestLocationResolverResultMismatch(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.OnQuery(`WHERE "geom" IS NULL)`, []string{"exists"}, []any{true})
	conn.OnQuery(`ORDER BY "id"`, []string{"id", "address"}, []any{int64(1), "a"}, []any{int64(2), "b"})
	r, err := NewWithStrategy(shopsConfig(), &fixed{res: []Result{Found(1, 2)}}, filler.Options{})
	require.NoError(t, err)

	d := database.New(db, t.TempDir())
	require.NoError(t, d.Add(ctx, r))
	err = d.Run(ctx)
	assert.ErrorIs(t, err, ErrResultMismatch)
	assert.Empty(t, conn.ExecsMatching("UPDATE"))
}

func TestLocationResolverSkippableStrategyError(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.OnQuery(`WHERE "geom" IS NULL)`, []string{"exists"}, []any{true})
	conn.OnQuery(`ORDER BY "id"`, []string{"id", "address"}, []any{int64(1), "a"})
	cfg := shopsConfig()
	cfg.Skippable = true
	r, err := NewWithStrategy(cfg, &fixed{err: errors.New("quota exceeded")}, filler.Options{})
	require.NoError(t, err)

	d := database.New(db, t.TempDir())
	require.NoError(t, d.Add(ctx, r))
	require.NoError(t, d.Run(ctx))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Table: "shops", LocColumns: []string{"a"}, Strategy: "telepathy"}, Deps{}, filler.Options{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Contains(t, err.Error(), "address, area, ip, zipcode")

	_, err = New(Config{Table: "shops; DROP TABLE zones", LocColumns: []string{"a"}, Strategy: "area"}, Deps{}, filler.Options{})
	assert.ErrorIs(t, err, store.ErrUnsafeIdentifier)

	_, err = New(Config{Table: "shops", Strategy: "area"}, Deps{}, filler.Options{})
	assert.ErrorIs(t, err, ErrMissingArg)

	_, err = New(shopsConfig(), Deps{}, filler.Options{})
	assert.ErrorIs(t, err, ErrMissingArg)
}

func TestFactoryDecodesArgs(t *testing.T) {
	f := Factory(Deps{})
	got, err := f(map[string]any{
		"table":            "events",
		"location_columns": []any{"ip"},
		"strategy":         "ip",
		"strategy_args":    map[string]any{"geoip_db": "/nonexistent/GeoLite2-City.mmdb"},
	})
	require.NoError(t, err)
	lr := got.(*LocationResolver)
	assert.Equal(t, []string{"id"}, lr.cfg.IDColumns)
	assert.Equal(t, "geom", lr.cfg.GeomColumn)
	assert.Equal(t, "/nonexistent/GeoLite2-City.mmdb", lr.cfg.StrategyArgs["geoip_db"])
	assert.Equal(t, "ip", lr.Args()["strategy"])

	_, err = f(map[string]any{"table": "events", "location_columns": []any{"ip"}, "strategy": "nope"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestAddressResolverUsesCacheThenGeocoder(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	conn.OnQuery(`FROM cached_addresses`, []string{"latitude", "longitude"}, []any{47.0, 15.4}).Times = 1
	g := &fakeGeocoder{p: geocode.Point{Lat: 48.2, Lon: 16.3}}
	s, err := Build("address", db, Deps{Geocoder: g}, nil, false)
	require.NoError(t, err)

	out, err := s.Resolve(ctx, []Location{
		{Fields: []string{"Herrengasse 16", "Graz"}},
		{Fields: []string{"Stephansplatz 1", "Wien"}},
		{Fields: []string{" stephansplatz 1 ", "WIEN"}},
		{Fields: []string{"", ""}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Result{Found(47.0, 15.4), Found(48.2, 16.3), Found(48.2, 16.3), {}}, out)
	assert.Equal(t, 1, g.calls)

	inserts := conn.ExecsMatching("INSERT INTO cached_addresses")
	require.Len(t, inserts, 1)
	assert.Equal(t, "stephansplatz 1, wien", inserts[0].Args[0])
}

func TestAddressResolverSkippable(t *testing.T) {
	db, _ := testutil.NewStubDB()
	g := &fakeGeocoder{err: errors.New("503")}
	locs := []Location{{Fields: []string{"x"}}}

	strict, err := Build("address", db, Deps{Geocoder: g}, nil, false)
	require.NoError(t, err)
	_, err = strict.Resolve(context.Background(), locs)
	assert.Error(t, err)

	lenient, err := Build("address", db, Deps{Geocoder: g}, nil, true)
	require.NoError(t, err)
	out, err := lenient.Resolve(context.Background(), locs)
	require.NoError(t, err)
	assert.False(t, out[0].OK)
}

func TestZipResolver(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.OnQuery(`FROM geonames_zipcodes`, []string{"latitude", "longitude"}, []any{48.2, 16.37}).Times = 1
	s, err := Build("zipcode", db, Deps{}, map[string]any{"country": "Austria"}, false)
	require.NoError(t, err)

	out, err := s.Resolve(context.Background(), []Location{
		{Fields: []string{"1010"}},
		{Fields: []string{"10115", "Deutschland"}},
		{Fields: []string{"1010", "Atlantis"}},
	})
	require.NoError(t, err)
	assert.Equal(t, Found(48.2, 16.37), out[0])
	assert.False(t, out[1].OK)
	assert.False(t, out[2].OK)
	require.Len(t, conn.Queries, 2)
	assert.Equal(t, []any{"AT", "1010"}, conn.Queries[0].Args)
	assert.Equal(t, []any{"DE", "10115"}, conn.Queries[1].Args)

	_, err = Build("zipcode", db, Deps{}, map[string]any{"country": "Atlantis"}, false)
	assert.Error(t, err)
}

func TestAreaResolverNeedsLevel(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.OnQuery(`ST_GeneratePoints`, []string{"y", "x"}, []any{47.5, 13.1})
	s, err := Build("area", db, Deps{}, map[string]any{"zone_level": "gemeinde"}, false)
	require.NoError(t, err)
	out, err := s.Resolve(context.Background(), []Location{{Fields: []string{"50101"}}})
	require.NoError(t, err)
	assert.Equal(t, Found(47.5, 13.1), out[0])
	assert.Equal(t, []any{"gemeinde", "50101", "", int64(1)}, conn.Queries[0].Args)

	bare, err := Build("area", db, Deps{}, nil, false)
	require.NoError(t, err)
	_, err = bare.Resolve(context.Background(), []Location{{Fields: []string{"50101"}}})
	assert.ErrorIs(t, err, ErrMissingArg)
}

func TestGeoIPResolver(t *testing.T) {
	s, err := Build("ip", nil, Deps{GeoIP: fakeCity{lat: 48.2, lon: 16.3}}, nil, false)
	require.NoError(t, err)
	out, err := s.Resolve(context.Background(), []Location{
		{Fields: []string{"81.217.0.1"}},
		{Fields: []string{"not-an-ip"}},
		{Fields: []string{"10.0.0.1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Result{Found(48.2, 16.3), {}, {}}, out)

	_, err = Build("ip", nil, Deps{}, nil, false)
	assert.ErrorIs(t, err, ErrMissingArg)
}

func TestNormalizeCountry(t *testing.T) {
	for _, in := range []string{"AT", "at", "AUT", "040", "Austria", "Österreich", " austria "} {
		code, ok := NormalizeCountry(in)
		assert.True(t, ok, in)
		assert.Equal(t, "AT", code, in)
	}
	_, ok := NormalizeCountry("Atlantis")
	assert.False(t, ok)
	_, ok = NormalizeCountry("")
	assert.False(t, ok)
}

func TestLocationText(t *testing.T) {
	l := Location{Fields: []string{" Ring 1 ", "", "Wien"}}
	assert.Equal(t, "Ring 1, Wien", l.Text(", "))
	assert.Equal(t, "", l.Field(5))
}
