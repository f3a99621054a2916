package filler

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	added    []Filler
	recorded [][3]string
	folder   string
}

func (h *fakeHost) DB() *sql.DB        { return nil }
func (h *fakeHost) DataFolder() string { return h.folder }
func (h *fakeHost) Add(_ context.Context, f Filler) error {
	h.added = append(h.added, f)
	return f.Core().Attach(h)
}
func (h *fakeHost) RecordFile(_ context.Context, filename, filecode, folder string) error {
	h.recorded = append(h.recorded, [3]string{filename, filecode, folder})
	return nil
}
func (h *fakeHost) Exists(context.Context, string) (bool, error) { return false, nil }

type countriesFiller struct{ Base }

func TestDefaultNameIsTypeName(t *testing.T) {
	f := &countriesFiller{Base: NewBase(Options{})}
	f.DefaultName(f)
	assert.Equal(t, "countriesFiller", f.Name())

	named := &countriesFiller{Base: NewBase(Options{Name: "eu_countries"})}
	named.DefaultName(named)
	assert.Equal(t, "eu_countries", named.Name())
}

func TestAttachOnce(t *testing.T) {
	f := &countriesFiller{Base: NewBase(Options{})}
	assert.Nil(t, f.DB())
	require.NoError(t, f.Attach(&fakeHost{}))
	assert.ErrorIs(t, f.Attach(&fakeHost{}), ErrAlreadyHosted)
}

func TestDataFolderOverride(t *testing.T) {
	h := &fakeHost{folder: "/data"}
	f := &countriesFiller{Base: NewBase(Options{})}
	require.NoError(t, f.Attach(h))
	assert.Equal(t, filepath.Join("/data", "x.geojson"), f.Path("x.geojson"))

	o := &countriesFiller{Base: NewBase(Options{DataFolder: "/override"})}
	require.NoError(t, o.Attach(h))
	require.NoError(t, o.RecordFile(context.Background(), "x.geojson", "countries"))
	assert.Equal(t, [3]string{"x.geojson", "countries", "/override"}, h.recorded[0])
}

func TestRecordFileNeedsHost(t *testing.T) {
	f := &countriesFiller{Base: NewBase(Options{})}
	assert.ErrorIs(t, f.RecordFile(context.Background(), "a", "b"), ErrNoHost)
}

func TestAfterInsertChainsResolvers(t *testing.T) {
	var seen []map[string]any
	factory := func(args map[string]any) (Filler, error) {
		seen = append(seen, args)
		return &countriesFiller{Base: NewBase(Options{Name: "resolver"})}, nil
	}
	h := &fakeHost{}
	f := &countriesFiller{Base: NewBase(Options{
		LocResolve:      true,
		LocResolverArgs: []map[string]any{{"table": "a"}, {"table": "b"}},
		NewResolver:     factory,
	})}
	require.NoError(t, f.Attach(h))
	require.NoError(t, f.AfterInsert(context.Background()))

	require.Len(t, h.added, 2)
	assert.Equal(t, "a", seen[0]["table"])
	assert.Equal(t, "b", seen[1]["table"])
}

func TestAfterInsertWithoutFactory(t *testing.T) {
	f := &countriesFiller{Base: NewBase(Options{LocResolve: true, LocResolverArgs: []map[string]any{{}}})}
	require.NoError(t, f.Attach(&fakeHost{}))
	assert.ErrorIs(t, f.AfterInsert(context.Background()), ErrNoResolver)

	boom := errors.New("bad args")
	g := &countriesFiller{Base: NewBase(Options{
		LocResolve:      true,
		LocResolverArgs: []map[string]any{{}},
		NewResolver:     func(map[string]any) (Filler, error) { return nil, boom },
	})}
	require.NoError(t, g.Attach(&fakeHost{}))
	assert.ErrorIs(t, g.AfterInsert(context.Background()), boom)
}

func TestAfterInsertNoop(t *testing.T) {
	f := &countriesFiller{Base: NewBase(Options{})}
	assert.NoError(t, f.AfterInsert(context.Background()))
	f.SetDone()
	assert.True(t, f.Done())
}
