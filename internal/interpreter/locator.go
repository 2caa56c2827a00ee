package interpreter

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// SystemLocator discovers Python environments from the host: an explicit
// override, the activated virtualenv or conda env, project-local .venv
// directories, interpreters on PATH, and the usual env manager directories
// under the home directory.
type SystemLocator struct {
	override string
}

// NewSystemLocator creates a locator. A non-empty override pins resolution
// to that interpreter, trumping everything the host knows.
func NewSystemLocator(override string) *SystemLocator {
	return &SystemLocator{override: override}
}

// ResolveEnvironment wraps an interpreter path in its environment variables.
// Interpreters inside a venv get VIRTUAL_ENV and a PATH that puts the venv's
// bin directory first, matching what activation would do.
func (l *SystemLocator) ResolveEnvironment(_ context.Context, path string) (*types.PythonEnvironment, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	env := &types.PythonEnvironment{Path: path, Env: map[string]string{}}

	binDir := filepath.Dir(path)
	venvRoot := filepath.Dir(binDir)
	if _, err := os.Stat(filepath.Join(venvRoot, "pyvenv.cfg")); err == nil {
		env.Env["VIRTUAL_ENV"] = venvRoot
		env.Env["PATH"] = binDir + string(os.PathListSeparator) + os.Getenv("PATH")
	}
	return env, nil
}

// ActiveEnvironmentPath returns the interpreter of the currently activated
// environment: the override, then VIRTUAL_ENV, then CONDA_PREFIX, then a
// project-local .venv next to the document.
func (l *SystemLocator) ActiveEnvironmentPath(_ context.Context, documentDir string) (string, error) {
	if l.override != "" {
		return l.override, nil
	}
	if root := os.Getenv("VIRTUAL_ENV"); root != "" {
		return filepath.Join(root, "bin", "python"), nil
	}
	if root := os.Getenv("CONDA_PREFIX"); root != "" {
		return filepath.Join(root, "bin", "python"), nil
	}
	for _, name := range []string{".venv", "venv"} {
		candidate := filepath.Join(documentDir, name, "bin", "python")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// KnownEnvironments enumerates every interpreter the host plausibly has:
// PATH entries first, then the env manager directories under $HOME.
func (l *SystemLocator) KnownEnvironments(ctx context.Context) ([]types.PythonEnvironment, error) {
	seen := map[string]bool{}
	var envs []types.PythonEnvironment

	add := func(path string) {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		env, err := l.ResolveEnvironment(ctx, path)
		if err != nil || env == nil {
			return
		}
		envs = append(envs, *env)
	}

	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			add(path)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		logging.Interpreter("no home directory, skipping env manager scan: %v", err)
		return envs, nil
	}
	managerDirs := []string{
		filepath.Join(home, ".virtualenvs"),
		filepath.Join(home, ".pyenv", "versions"),
		filepath.Join(home, "miniconda3", "envs"),
		filepath.Join(home, "anaconda3", "envs"),
	}
	for _, dir := range managerDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			add(filepath.Join(dir, entry.Name(), "bin", "python"))
		}
	}

	logging.Interpreter("discovered %d candidate environments", len(envs))
	return envs, nil
}

var _ types.EnvironmentLocator = (*SystemLocator)(nil)
