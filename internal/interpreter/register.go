package interpreter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"nbdeck/internal/logging"
)

// Registrar installs kernelspecs so the kernel server can launch kernels on
// the resolved interpreter. Installation goes through the interpreter itself
// with `-m ipykernel install`, which guarantees the kernelspec's argv points
// at the right binary.
type Registrar struct{}

// EnsureKernel installs (or refreshes) a user-level kernelspec named name
// wrapping interpreterPath. Installation is idempotent on the server side;
// reinstalling an existing name just overwrites the kernelspec directory.
func (Registrar) EnsureKernel(ctx context.Context, interpreterPath, name, displayName string) error {
	timer := logging.StartTimer(logging.CategoryInterpreter, "kernel install")
	defer timer.Stop()

	cmd := exec.CommandContext(ctx, interpreterPath,
		"-m", "ipykernel", "install",
		"--user",
		"--name", name,
		"--display-name", displayName,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("installing kernelspec %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	logging.Interpreter("kernelspec %s installed for %s", name, interpreterPath)
	return nil
}
