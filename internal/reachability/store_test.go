package reachability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreDefaultsToAvailable(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	assert.True(t, s.Available(), "no failure observed yet")
	assert.False(t, s.DemoMode())
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	s.SetAvailable(false)
	assert.False(t, s.Available())

	s.SetAvailable(true)
	assert.True(t, s.Available(), "a later successful call always overwrites")
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "state.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.True(t, s.Available(), "missing file starts unset")

	s.SetAvailable(false)
	s.SetDemoMode(true)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	assert.False(t, reopened.Available())
	assert.True(t, reopened.DemoMode())

	reopened.SetAvailable(true)
	third, err := NewFileStore(path)
	require.NoError(t, err)
	assert.True(t, third.Available())
}

func TestFileStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("")
	assert.Error(t, err)
}

func TestFileStoreToleratesCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.True(t, s.Available(), "corrupt record is treated as unset")
}
