package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/scopeserve"
	"github.com/hupe1980/scopeserve/search"
	"github.com/hupe1980/scopeserve/testutil"
)

func setup(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "data")
	testutil.WriteDataset(t, filepath.Join(root, scopeserve.DatasetsDir), "a.loom", testutil.DatasetSpec{Title: "alpha", Cells: 8, Seed: 2})
	testutil.WriteDataset(t, filepath.Join(root, scopeserve.DatasetsDir), "b.loom", testutil.DatasetSpec{Title: "beta", Cells: 6, Seed: 3})

	cfg := filepath.Join(dir, "scopeserve.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("root = \"data\"\n[log]\nlevel = \"error\"\n"), 0o644))
	return root, cfg
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), nil, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"frobnicate"}, &out), errUsage)
	assert.Error(t, run(context.Background(), []string{"index", "-config", "/nonexistent.toml"}, &out))
}

func TestRun_Index(t *testing.T) {
	root, cfg := setup(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"index", "-config", cfg}, &out))
	assert.Equal(t, "indexed 2 datasets\n", out.String())

	for _, p := range []string{"a.loom", "b.loom"} {
		_, err := os.Stat(filepath.Join(root, scopeserve.DatasetsDir, search.Name(p)))
		assert.NoError(t, err)
	}
}

func TestRun_Sessions(t *testing.T) {
	_, cfg := setup(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"sessions", "-config", cfg}, &out))
	_, err := uuid.Parse(strings.TrimSpace(out.String()))
	assert.NoError(t, err)
}

func TestRun_Sweep(t *testing.T) {
	_, cfg := setup(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"sweep", "-config", cfg}, &out))
	assert.Equal(t, "removed 0 sessions\n", out.String())
}

func TestRun_List(t *testing.T) {
	_, cfg := setup(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"list", "-config", cfg}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "PATH"))
	assert.Contains(t, out.String(), "alpha")
	assert.Contains(t, out.String(), "beta")
}
