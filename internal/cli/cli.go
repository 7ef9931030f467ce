// Package cli runs external ledger tooling (cardano-cli, hydra-tools) as
// subprocesses and captures their output.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Runner executes an external program and returns its standard output.
// Implementations must include stderr content in returned errors so callers
// can log why a tool invocation failed.
type Runner func(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error)

// Run is the default Runner. The subprocess inherits the current
// environment plus extraEnv entries of the form "KEY=value".
func Run(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), extraEnv...)

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
