package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "repliedThreads.json"))
	require.NoError(t, l.Load())
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.Contains("t1"))
}

func TestLoadMalformedFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repliedThreads.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"a list"`), 0o600))

	l := New(path)
	err := l.Load()
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Equal(t, 0, l.Len())
}

func TestFlushRepairsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repliedThreads.json")
	require.NoError(t, os.WriteFile(path, []byte("[\"t1\", "), 0o600))

	l := New(path)
	require.ErrorIs(t, l.Load(), ErrCorrupt)
	require.NoError(t, l.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal(data, &ids))
	assert.Empty(t, ids)

	fresh := New(path)
	require.NoError(t, fresh.Load())
	assert.Equal(t, 0, fresh.Len())
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repliedThreads.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	l := New(path)
	require.NoError(t, l.Load())
	assert.Equal(t, 0, l.Len())
}

func TestRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "repliedThreads.json")
	l := New(path)
	require.NoError(t, l.Load())
	require.NoError(t, l.Record("t1"))
	require.NoError(t, l.Record("t2"))

	fresh := New(path)
	require.NoError(t, fresh.Load())
	assert.True(t, fresh.Contains("t1"))
	assert.True(t, fresh.Contains("t2"))
	assert.Equal(t, []string{"t1", "t2"}, fresh.IDs())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk []string
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, []string{"t1", "t2"}, onDisk)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRecordIsIdempotent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "repliedThreads.json"))
	require.NoError(t, l.Record("t1"))
	require.NoError(t, l.Record("t1"))
	require.NoError(t, l.Record(""))
	assert.Equal(t, []string{"t1"}, l.IDs())
}

func TestLoadDropsDuplicatesKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repliedThreads.json")
	require.NoError(t, os.WriteFile(path, []byte(`["b","a","b","c"]`), 0o600))

	l := New(path)
	require.NoError(t, l.Load())
	assert.Equal(t, []string{"b", "a", "c"}, l.IDs())
}

func TestLoadReplacesMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repliedThreads.json")
	l := New(path)
	require.NoError(t, l.Record("t1"))
	require.NoError(t, os.WriteFile(path, []byte(`["t9"]`), 0o600))

	require.NoError(t, l.Load())
	assert.False(t, l.Contains("t1"))
	assert.True(t, l.Contains("t9"))
}

func TestRecordWriteFailureStaysDirty(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	// the parent "directory" is a regular file, so every write fails
	l := New(filepath.Join(blocker, "repliedThreads.json"))
	require.Error(t, l.Record("t1"))
	assert.True(t, l.Contains("t1"))
	require.Error(t, l.Flush())
}
