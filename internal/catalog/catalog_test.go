package catalog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeflow/internal/pipeline"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.catalog")

	cat := Catalog{
		"r1": {"alignment": pipeline.Path("/tmp/a1")},
		"r2": {"alignment": pipeline.Inline(42)},
	}
	require.NoError(t, Write(path, cat))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Path("/tmp/a1"), loaded["r1"]["alignment"])
	assert.Equal(t, pipeline.Inline(42), loaded["r2"]["alignment"])
}

func TestLoadMissingFileReturnsEmptyCatalog(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "absent.catalog"))
	require.NoError(t, err)
	assert.Empty(t, cat)
}

func TestDecodeFromReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.catalog")
	cat := Catalog{"r1": {"report": pipeline.Path("/tmp/report")}}
	require.NoError(t, Write(path, cat))

	var buf bytes.Buffer
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = buf.ReadFrom(f)
	require.NoError(t, err)

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Path("/tmp/report"), decoded["r1"]["report"])
}
