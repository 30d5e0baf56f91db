// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package sandbox

import (
	"os/exec"
)

func shellArgs(shell, command string) []string {
	if shell == "" {
		return []string{"cmd", "/C", command}
	}
	return []string{shell, "-c", command}
}

func setProcessGroup(cmd *exec.Cmd) {}

// terminate has no graceful equivalent on Windows; the process is killed.
func terminate(cmd *exec.Cmd) error {
	return kill(cmd)
}

func kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
