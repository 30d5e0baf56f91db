// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// =============================================================================
// PATH HELPERS
// =============================================================================

// ResolvePath returns the absolute, symlink-resolved form of path.
// Missing trailing components are kept as written so not-yet-created files
// still resolve against their real parent.
func ResolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	// Walk up until an existing ancestor resolves, then re-append the rest
	var rest []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			parts := append([]string{resolved}, rest...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// normalizePath cleans a path for comparison. Windows paths compare case-insensitively.
func normalizePath(path string) string {
	cleaned := filepath.Clean(path)
	if runtime.GOOS == "windows" {
		return strings.ToLower(filepath.ToSlash(cleaned))
	}
	return cleaned
}

// Within reports whether path is dir or lies beneath it.
// SECURITY: /home/userEVIL must not pass for /home/user.
func Within(path, dir string) bool {
	p := normalizePath(path)
	d := normalizePath(dir)
	if p == d {
		return true
	}
	if !strings.HasSuffix(d, "/") {
		d += "/"
	}
	return strings.HasPrefix(p, d)
}

// WithinAny reports whether path lies beneath any of dirs.
func WithinAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if d != "" && Within(path, d) {
			return true
		}
	}
	return false
}

// blockedSystemDirs hold OS state no agent edit should touch without scrutiny.
var blockedSystemDirs = []string{
	"/etc", "/boot", "/sys", "/proc", "/dev", "/bin", "/sbin",
	"/usr/bin", "/usr/sbin", "/usr/lib", "/lib", "/lib64", "/var/lib",
	"/System", "/Library",
}

func isSystemPath(path string) bool {
	if runtime.GOOS == "windows" {
		p := strings.ToLower(filepath.ToSlash(path))
		return strings.HasPrefix(p, "c:/windows") || strings.HasPrefix(p, "c:/program files")
	}
	return WithinAny(path, blockedSystemDirs)
}
