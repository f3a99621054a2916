package store

import (
	"context"
	"errors"
	"testing"

	"gis-fillers/internal/hierarchy"
	"gis-fillers/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeIdent(t *testing.T) {
	q, err := SafeIdent("zone_attributes")
	require.NoError(t, err)
	assert.Equal(t, `"zone_attributes"`, q)

	for _, bad := range []string{"", "zones; DROP TABLE zones", "a-b", `x"y`, "schema.table", "ümlaut"} {
		_, err := SafeIdent(bad)
		assert.ErrorIs(t, err, ErrUnsafeIdentifier, bad)
	}

	_, err = SafeIdents([]string{"ok", "not ok"})
	assert.ErrorIs(t, err, ErrUnsafeIdentifier)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	defer db.Close()

	conn.OnQuery("to_regclass", []string{"present"}, []any{true})
	conn.OnQuery(`FROM "zones" LIMIT 1`, []string{"exists"}, []any{true})

	ok, err := Exists(ctx, db, "zones")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(ctx, db, "gis_data")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Exists(ctx, db, "zones where 1=1")
	assert.ErrorIs(t, err, ErrUnsafeIdentifier)
}

func TestExistsMissingTable(t *testing.T) {
	db, conn := testutil.NewStubDB()
	defer db.Close()
	conn.OnQuery("to_regclass", []string{"present"}, []any{false})

	ok, err := Exists(context.Background(), db, "file_hash")
	require.NoError(t, err)
	assert.False(t, ok)
	for _, q := range conn.Queries {
		assert.NotContains(t, q.Query, `FROM "file_hash"`)
	}
}

func TestFillMarkers(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	defer db.Close()

	ok, err := Filled(ctx, db, "roads:motorway")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, MarkFilled(ctx, db, "roads:motorway", "batch_roads"))
	marks := conn.ExecsMatching("INSERT INTO fill_markers")
	require.Len(t, marks, 1)
	assert.Equal(t, []any{"roads:motorway", "batch_roads"}, marks[0].Args)
	assert.Contains(t, marks[0].Query, "ON CONFLICT (key) DO NOTHING")

	conn.OnQuery("FROM fill_markers WHERE key = $1", []string{"exists"}, []any{true})
	ok, err = Filled(ctx, db, "roads:motorway")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := ClearMarkers(ctx, db, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, conn.ExecsMatching("DELETE FROM fill_markers"))

	n, err = ClearMarkers(ctx, db, []string{"zones", "batch_roads"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	clears := conn.ExecsMatching("DELETE FROM fill_markers")
	require.Len(t, clears, 1)
	assert.Equal(t, []any{"{\"zones\",\"batch_roads\"}"}, clears[0].Args)

	conn.FailExec("INSERT INTO fill_markers", errors.New("read only"))
	assert.Error(t, MarkFilled(ctx, db, "roads:primary", "batch_roads"))
}

func TestEnsureLevelIsConflictSkip(t *testing.T) {
	db, conn := testutil.NewStubDB()
	defer db.Close()
	conn.OnQuery("SELECT id FROM zone_levels", []string{"id"}, []any{int64(3)})

	id, err := EnsureLevel(context.Background(), db, "gemeinde", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	ins := conn.ExecsMatching("INSERT INTO zone_levels")
	require.Len(t, ins, 1)
	assert.Contains(t, ins[0].Query, "ON CONFLICT (name) DO NOTHING")
	assert.Equal(t, []any{"gemeinde", "gemeinde"}, ins[0].Args)
}

func TestInsertEdgesNeverUpdatesShare(t *testing.T) {
	db, conn := testutil.NewStubDB()
	defer db.Close()
	edges := []hierarchy.Edge{
		{ParentLevel: 2, Parent: 10, ChildLevel: 1, Child: 1, Share: 1},
		{ParentLevel: 2, Parent: 10, ChildLevel: 1, Child: 2, Share: 0.5},
	}
	n, err := InsertEdges(context.Background(), db, edges)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ins := conn.ExecsMatching("INSERT INTO zone_parents")
	require.Len(t, ins, 2)
	for _, s := range ins {
		assert.Contains(t, s.Query, "ON CONFLICT DO NOTHING")
		assert.NotContains(t, s.Query, "DO UPDATE")
	}
	assert.Equal(t, 0.5, ins[1].Args[4])
}

func TestLoadEdgesAndAttributes(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	defer db.Close()
	conn.OnQuery("FROM zone_parents WHERE parent_level", []string{"parent_level", "parent", "child_level", "child", "share"},
		[]any{int64(2), int64(10), int64(1), int64(1), 1.0},
		[]any{int64(2), int64(10), int64(1), int64(2), 0.5},
	)
	conn.OnQuery("FROM zone_attributes WHERE zone_level", []string{"zone", "int_value"},
		[]any{int64(1), int64(100)},
		[]any{int64(2), int64(50)},
	)

	edges, err := LoadEdges(ctx, db, 2, 1)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, 0.5, edges[1].Share)

	vals, err := LoadAttributes(ctx, db, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 100, 2: 50}, vals)
}

func TestInsertGisCenter(t *testing.T) {
	db, conn := testutil.NewStubDB()
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, InsertGis(ctx, db, 1, 1, 5, GeomWKT, "POLYGON((0 0,1 0,1 1,0 0))", nil))
	require.NoError(t, InsertGis(ctx, db, 1, 1, 6, GeomGeoJSON, `{"type":"Polygon"}`, &[2]float64{16.3, 48.2}))

	ins := conn.ExecsMatching("INSERT INTO gis_data")
	require.Len(t, ins, 2)
	assert.Contains(t, ins[0].Query, "ST_GeomFromText($4, 4326)")
	assert.Contains(t, ins[0].Query, "ST_PointOnSurface")
	assert.Contains(t, ins[1].Query, "ST_GeomFromGeoJSON($4)")
	assert.Equal(t, []any{int64(6), int64(1), int64(1), `{"type":"Polygon"}`, 16.3, 48.2}, ins[1].Args)
}

func TestBatchCommitsEverySize(t *testing.T) {
	ctx := context.Background()
	db, conn := testutil.NewStubDB()
	defer db.Close()

	b, err := NewBatch(ctx, db, "geonames_zipcodes", 2)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Exec(ctx, "INSERT INTO geonames_zipcodes(zip_code) VALUES($1) ON CONFLICT DO NOTHING", i))
	}
	require.NoError(t, b.Commit())
	assert.Equal(t, 5, b.Count())
	assert.Equal(t, 3, conn.Commits)
	assert.Len(t, conn.ExecsMatching("INSERT INTO geonames_zipcodes"), 5)
}
