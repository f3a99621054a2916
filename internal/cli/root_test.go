package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gis-fillers/internal/config"
	"gis-fillers/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "gisfill", cmd.Use)
	assert.Contains(t, cmd.Long, "fillers")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"init-schema", "reset", "fill", "audit", "kinds"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			require.NotNil(t, sub)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("env-file"))
	format := cmd.PersistentFlags().Lookup("log-format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestSubcommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	cases := map[string][]string{
		"init-schema": {"pre", "post", "no-exec-info"},
		"reset":       {"preserve-geo", "keep"},
		"fill":        {"data-folder", "metrics-addr", "init-schema", "dry-run"},
		"audit":       {"parent-level", "child-level", "tol"},
	}
	for name, flags := range cases {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		for _, f := range flags {
			assert.NotNil(t, sub.Flags().Lookup(f), "%s --%s", name, f)
		}
	}
}

// withStubDB：替换 openDB，返回桩连接以检查命令发出的语句
func withStubDB(t *testing.T) *testutil.StubConn {
	t.Helper()
	db, conn := testutil.NewStubDB()
	prev := openDB
	openDB = func(context.Context, config.Config) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = prev })
	return conn
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResetCommand(t *testing.T) {
	conn := withStubDB(t)
	out, err := execute(t, "reset", "--preserve-geo", "--keep", "file_hash")
	require.NoError(t, err)
	assert.Contains(t, out, "dropped zone_attributes")
	assert.NotContains(t, out, "dropped zones\n")
	assert.NotContains(t, out, "file_hash")
	assert.Empty(t, conn.ExecsMatching(`DROP TABLE IF EXISTS "file_hash"`))
	assert.Equal(t, 1, conn.Commits)
}

func TestInitSchemaCommand(t *testing.T) {
	conn := withStubDB(t)
	dir := t.TempDir()
	pre := filepath.Join(dir, "pre.sql")
	require.NoError(t, os.WriteFile(pre, []byte("CREATE EXTENSION IF NOT EXISTS postgis;\n"), 0o644))

	out, err := execute(t, "init-schema", "--pre", pre, "--no-exec-info")
	require.NoError(t, err)
	assert.Contains(t, out, "schema ready")
	assert.NotEmpty(t, conn.ExecsMatching("CREATE EXTENSION IF NOT EXISTS postgis"))
	assert.Empty(t, conn.ExecsMatching("INSERT INTO _exec_info"))

	_, err = execute(t, "init-schema", "--pre", filepath.Join(dir, "missing.sql"))
	assert.Error(t, err)
}

func TestAuditCommand(t *testing.T) {
	conn := withStubDB(t)
	conn.OnQuery(`SELECT id FROM zone_levels WHERE name=$1`, []string{"id"}, []any{int64(2)}).Times = 1
	conn.OnQuery(`SELECT id FROM zone_levels WHERE name=$1`, []string{"id"}, []any{int64(1)})
	conn.OnQuery(`FROM zone_parents WHERE parent_level=$1 AND child_level=$2`,
		[]string{"parent_level", "parent", "child_level", "child", "share"},
		[]any{int64(2), int64(10), int64(1), int64(100), 0.5},
		[]any{int64(2), int64(11), int64(1), int64(100), 0.5},
		[]any{int64(2), int64(10), int64(1), int64(101), 0.7},
	)

	conn.OnQuery(`SELECT id FROM zones WHERE level=$1`, []string{"id"},
		[]any{int64(100)}, []any{int64(101)}, []any{int64(102)})

	out, err := execute(t, "audit", "--parent-level", "bezirk")
	require.NoError(t, err)
	assert.Contains(t, out, "child 1/101")
	assert.NotContains(t, out, "child 1/100")
	assert.Contains(t, out, "child 1/102 parent_level 2: sum=0.000000 over 0 parents")
	assert.Contains(t, out, "3 edges, 2 children")
}

func TestAuditRequiresParentLevel(t *testing.T) {
	withStubDB(t)
	_, err := execute(t, "audit")
	assert.Error(t, err)
}

func TestAuditUnknownLevel(t *testing.T) {
	withStubDB(t)
	_, err := execute(t, "audit", "--parent-level", "nowhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestKindsCommand(t *testing.T) {
	out, err := execute(t, "kinds")
	require.NoError(t, err)
	assert.Contains(t, out, "prefix_hierarchy\n")
	assert.Contains(t, out, "location_resolver\n")
}

func TestFillDryRun(t *testing.T) {
	t.Setenv("GEOCODER", "none")
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`data_folder: ./data
fillers:
  - kind: countries
  - kind: rollup
    args:
      attribute: population
      levels: [bezirk, bundesland]
`), 0o644))

	out, err := execute(t, "fill", "--dry-run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0\t")
	assert.Contains(t, out, "1\trollup_population")

	_, err = execute(t, "fill")
	assert.Error(t, err)
}

func TestEnvFileMustExist(t *testing.T) {
	withStubDB(t)
	_, err := execute(t, "--env-file", filepath.Join(t.TempDir(), "nope.env"), "reset")
	assert.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
