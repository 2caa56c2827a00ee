package interpreter

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"nbdeck/internal/logging"
)

// HasRequiredPackages runs the candidate interpreter with an inline import
// of the required kernel-support modules. Success is exit code zero.
//
// A missing or non-executable candidate resolves to false, never an error:
// the resolver treats every failure mode the same way, by moving on to the
// next candidate.
func HasRequiredPackages(ctx context.Context, interpreterPath string, modules []string, timeout time.Duration) bool {
	if interpreterPath == "" || len(modules) == 0 {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	check := "import " + strings.Join(modules, ", ")
	cmd := exec.CommandContext(probeCtx, interpreterPath, "-c", check)

	err := cmd.Run()
	if err != nil {
		logging.InterpreterDebug("probe failed for %s: %v", interpreterPath, err)
		return false
	}

	logging.InterpreterDebug("probe succeeded for %s", interpreterPath)
	return true
}
