// Package interpreter resolves a usable Python interpreter for a notebook
// document: one that exists on disk and can import the kernel-support
// modules the server needs.
package interpreter

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// ProbeFunc reports whether the interpreter at path satisfies the package
// precondition. Injected so tests never spawn real processes.
type ProbeFunc func(ctx context.Context, interpreterPath string) bool

// Resolver picks an interpreter by policy: saved path first, then the
// host's active environment for the document, then any known environment.
// First success wins.
type Resolver struct {
	locator types.EnvironmentLocator
	probe   ProbeFunc
}

// NewResolver builds a resolver probing for the given required modules.
func NewResolver(locator types.EnvironmentLocator, requiredModules []string, probeTimeout time.Duration) *Resolver {
	return &Resolver{
		locator: locator,
		probe: func(ctx context.Context, path string) bool {
			return HasRequiredPackages(ctx, path, requiredModules, probeTimeout)
		},
	}
}

// NewResolverWithProbe builds a resolver with a custom probe.
func NewResolverWithProbe(locator types.EnvironmentLocator, probe ProbeFunc) *Resolver {
	return &Resolver{locator: locator, probe: probe}
}

// Resolve returns the environment for the first acceptable interpreter.
// savedPath may be "" when nothing was persisted for the document.
// Fails with types.ErrNoInterpreterFound when every candidate is rejected.
func (r *Resolver) Resolve(ctx context.Context, savedPath, documentDir string) (*types.PythonEnvironment, error) {
	timer := logging.StartTimer(logging.CategoryInterpreter, "Resolve")
	defer timer.Stop()

	// 1. The interpreter previously chosen for this document.
	if savedPath != "" {
		if env := r.acceptable(ctx, savedPath); env != nil {
			logging.Interpreter("using saved interpreter: %s", savedPath)
			return env, nil
		}
		logging.InterpreterDebug("saved interpreter rejected: %s", savedPath)
	}

	// 2. The host's currently active environment for the document context.
	active, err := r.locator.ActiveEnvironmentPath(ctx, documentDir)
	if err != nil {
		logging.InterpreterDebug("active environment lookup failed: %v", err)
	} else if active != "" {
		if env := r.acceptable(ctx, active); env != nil {
			logging.Interpreter("using active environment: %s", active)
			return env, nil
		}
		logging.InterpreterDebug("active environment rejected: %s", active)
	}

	// 3. Any known environment. Probes spawn a subprocess each, so run them
	// concurrently and pick the winner in enumeration order.
	known, err := r.locator.KnownEnvironments(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating environments: %w", err)
	}
	results := make([]*types.PythonEnvironment, len(known))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, candidate := range known {
		g.Go(func() error {
			results[i] = r.acceptable(gctx, candidate.Path)
			return nil
		})
	}
	_ = g.Wait()
	for _, env := range results {
		if env != nil {
			logging.Interpreter("using known environment: %s", env.Path)
			return env, nil
		}
	}

	return nil, fmt.Errorf("%w (required modules must be installed)", types.ErrNoInterpreterFound)
}

// acceptable checks existence and the package precondition, returning the
// fully resolved environment on success.
func (r *Resolver) acceptable(ctx context.Context, path string) *types.PythonEnvironment {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if !r.probe(ctx, path) {
		return nil
	}
	env, err := r.locator.ResolveEnvironment(ctx, path)
	if err != nil || env == nil {
		// The probe passed, so the interpreter is runnable even if the host
		// cannot supply environment variables for it.
		return &types.PythonEnvironment{Path: path}
	}
	return env
}
