package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *WorkspaceStore {
	t.Helper()
	s, err := NewWorkspaceStore(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInterpreterRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.InterpreterForDocument("deck.ipynb")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetInterpreterForDocument("deck.ipynb", "/venv/bin/python"))

	path, found, err := s.InterpreterForDocument("deck.ipynb")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/venv/bin/python", path)
}

func TestInterpreterUpsert(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetInterpreterForDocument("deck.ipynb", "/old/python"))
	require.NoError(t, s.SetInterpreterForDocument("deck.ipynb", "/new/python"))

	path, found, err := s.InterpreterForDocument("deck.ipynb")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/new/python", path)
}

func TestDocumentsAreIndependent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetInterpreterForDocument("a.ipynb", "/a/python"))
	require.NoError(t, s.SetInterpreterForDocument("b.ipynb", "/b/python"))

	path, _, err := s.InterpreterForDocument("a.ipynb")
	require.NoError(t, err)
	assert.Equal(t, "/a/python", path)
}

func TestKernelName(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.KernelForDocument("deck.ipynb")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetInterpreterForDocument("deck.ipynb", "/venv/bin/python"))
	require.NoError(t, s.SetKernelForDocument("deck.ipynb", "nbdeck-ab12cd34ef56"))

	name, found, err := s.KernelForDocument("deck.ipynb")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "nbdeck-ab12cd34ef56", name)
}

func TestForget(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetInterpreterForDocument("deck.ipynb", "/venv/bin/python"))
	require.NoError(t, s.Forget("deck.ipynb"))

	_, found, err := s.InterpreterForDocument("deck.ipynb")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.db")

	s, err := NewWorkspaceStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SetInterpreterForDocument("deck.ipynb", "/venv/bin/python"))
	require.NoError(t, s.Close())

	s2, err := NewWorkspaceStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, found, err := s2.InterpreterForDocument("deck.ipynb")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/venv/bin/python", got)
}
