package interpreter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbdeck/internal/types"
)

// mockLocator is a hand-rolled EnvironmentLocator for resolver tests.
type mockLocator struct {
	active    string
	activeErr error
	known     []types.PythonEnvironment
	knownErr  error
	envs      map[string]*types.PythonEnvironment
}

func (m *mockLocator) ResolveEnvironment(_ context.Context, path string) (*types.PythonEnvironment, error) {
	if env, ok := m.envs[path]; ok {
		return env, nil
	}
	return nil, nil
}

func (m *mockLocator) ActiveEnvironmentPath(_ context.Context, _ string) (string, error) {
	return m.active, m.activeErr
}

func (m *mockLocator) KnownEnvironments(_ context.Context) ([]types.PythonEnvironment, error) {
	return m.known, m.knownErr
}

// touch creates a regular file to stand in for an interpreter binary.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	return path
}

func probeAccepting(accepted ...string) ProbeFunc {
	set := make(map[string]bool, len(accepted))
	for _, p := range accepted {
		set[p] = true
	}
	return func(_ context.Context, path string) bool { return set[path] }
}

func TestResolve_SavedPathWins(t *testing.T) {
	dir := t.TempDir()
	saved := touch(t, dir, "python-saved")
	active := touch(t, dir, "python-active")

	locator := &mockLocator{active: active}
	r := NewResolverWithProbe(locator, probeAccepting(saved, active))

	env, err := r.Resolve(context.Background(), saved, dir)
	require.NoError(t, err)
	assert.Equal(t, saved, env.Path)
}

func TestResolve_SavedPathMissingFallsToActive(t *testing.T) {
	dir := t.TempDir()
	active := touch(t, dir, "python-active")

	locator := &mockLocator{active: active}
	r := NewResolverWithProbe(locator, probeAccepting(active))

	env, err := r.Resolve(context.Background(), filepath.Join(dir, "gone"), dir)
	require.NoError(t, err)
	assert.Equal(t, active, env.Path)
}

func TestResolve_SavedPathFailsProbeFallsThrough(t *testing.T) {
	dir := t.TempDir()
	saved := touch(t, dir, "python-saved")
	known := touch(t, dir, "python-known")

	locator := &mockLocator{known: []types.PythonEnvironment{{Path: known}}}
	// Saved exists on disk but its probe fails.
	r := NewResolverWithProbe(locator, probeAccepting(known))

	env, err := r.Resolve(context.Background(), saved, dir)
	require.NoError(t, err)
	assert.Equal(t, known, env.Path)
}

func TestResolve_FirstAcceptableKnownEnvironment(t *testing.T) {
	dir := t.TempDir()
	bad := touch(t, dir, "python-bad")
	good := touch(t, dir, "python-good")

	locator := &mockLocator{known: []types.PythonEnvironment{{Path: bad}, {Path: good}}}
	r := NewResolverWithProbe(locator, probeAccepting(good))

	env, err := r.Resolve(context.Background(), "", dir)
	require.NoError(t, err)
	assert.Equal(t, good, env.Path)
}

func TestResolve_NothingFound(t *testing.T) {
	locator := &mockLocator{}
	r := NewResolverWithProbe(locator, probeAccepting())

	_, err := r.Resolve(context.Background(), "", t.TempDir())
	assert.ErrorIs(t, err, types.ErrNoInterpreterFound)
}

func TestResolve_EnumerationErrorPropagates(t *testing.T) {
	locator := &mockLocator{knownErr: errors.New("discovery backend down")}
	r := NewResolverWithProbe(locator, probeAccepting())

	_, err := r.Resolve(context.Background(), "", t.TempDir())
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrNoInterpreterFound)
}

func TestResolve_ResolvedEnvironmentVariablesCarried(t *testing.T) {
	dir := t.TempDir()
	saved := touch(t, dir, "python-saved")

	locator := &mockLocator{
		envs: map[string]*types.PythonEnvironment{
			saved: {Path: saved, Env: map[string]string{"VIRTUAL_ENV": dir}},
		},
	}
	r := NewResolverWithProbe(locator, probeAccepting(saved))

	env, err := r.Resolve(context.Background(), saved, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, env.Env["VIRTUAL_ENV"])
}

func TestHasRequiredPackages_MissingExecutableIsFalse(t *testing.T) {
	ok := HasRequiredPackages(context.Background(),
		filepath.Join(t.TempDir(), "no-such-python"),
		[]string{"ipykernel"}, time.Second)
	assert.False(t, ok)
}

func TestHasRequiredPackages_EmptyInputs(t *testing.T) {
	assert.False(t, HasRequiredPackages(context.Background(), "", []string{"ipykernel"}, time.Second))
	assert.False(t, HasRequiredPackages(context.Background(), "/usr/bin/true", nil, time.Second))
}
