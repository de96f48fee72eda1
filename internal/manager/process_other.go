// ABOUTME: Process termination fallback for platforms without process groups
// ABOUTME: Kills only the engine process itself

//go:build !unix

package manager

import (
	"errors"
	"os"
	"os/exec"
)

func setProcGroup(*exec.Cmd) {}

func killProcGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
