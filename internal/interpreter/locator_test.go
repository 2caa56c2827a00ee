package interpreter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeVenv(t *testing.T, root string) string {
	t.Helper()
	binDir := filepath.Join(root, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pyvenv.cfg"), []byte("home = /usr\n"), 0644))
	python := filepath.Join(binDir, "python")
	require.NoError(t, os.WriteFile(python, []byte("#!/bin/sh\n"), 0755))
	return python
}

func TestResolveEnvironmentVenvGetsActivationVars(t *testing.T) {
	root := filepath.Join(t.TempDir(), "env")
	python := makeVenv(t, root)

	env, err := NewSystemLocator("").ResolveEnvironment(context.Background(), python)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, python, env.Path)
	assert.Equal(t, root, env.Env["VIRTUAL_ENV"])
	assert.Contains(t, env.Env["PATH"], filepath.Join(root, "bin"))
}

func TestResolveEnvironmentBareInterpreterHasNoVars(t *testing.T) {
	dir := t.TempDir()
	python := filepath.Join(dir, "python3")
	require.NoError(t, os.WriteFile(python, []byte("#!/bin/sh\n"), 0755))

	env, err := NewSystemLocator("").ResolveEnvironment(context.Background(), python)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Empty(t, env.Env)
}

func TestResolveEnvironmentMissingPath(t *testing.T) {
	env, err := NewSystemLocator("").ResolveEnvironment(context.Background(), "/no/such/python")
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestActiveEnvironmentPathOverrideWins(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "/somewhere/else")
	path, err := NewSystemLocator("/pinned/python").ActiveEnvironmentPath(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/pinned/python", path)
}

func TestActiveEnvironmentPathVirtualEnv(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "/envs/demo")
	t.Setenv("CONDA_PREFIX", "")
	path, err := NewSystemLocator("").ActiveEnvironmentPath(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/envs/demo", "bin", "python"), path)
}

func TestActiveEnvironmentPathProjectVenv(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "")
	t.Setenv("CONDA_PREFIX", "")
	docDir := t.TempDir()
	python := makeVenv(t, filepath.Join(docDir, ".venv"))

	path, err := NewSystemLocator("").ActiveEnvironmentPath(context.Background(), docDir)
	require.NoError(t, err)
	assert.Equal(t, python, path)
}

func TestActiveEnvironmentPathNothingActive(t *testing.T) {
	t.Setenv("VIRTUAL_ENV", "")
	t.Setenv("CONDA_PREFIX", "")
	path, err := NewSystemLocator("").ActiveEnvironmentPath(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestKnownEnvironmentsScansManagerDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PATH", "")
	makeVenv(t, filepath.Join(home, ".virtualenvs", "proj"))
	makeVenv(t, filepath.Join(home, ".pyenv", "versions", "3.12.0"))

	envs, err := NewSystemLocator("").KnownEnvironments(context.Background())
	require.NoError(t, err)
	require.Len(t, envs, 2)
	paths := []string{envs[0].Path, envs[1].Path}
	assert.Contains(t, paths, filepath.Join(home, ".virtualenvs", "proj", "bin", "python"))
	assert.Contains(t, paths, filepath.Join(home, ".pyenv", "versions", "3.12.0", "bin", "python"))
}
