// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"os"
	"strings"
)

// =============================================================================
// ENVIRONMENT SANITIZATION
// =============================================================================

// DangerousEnvVars are removed from the child environment. They alter how
// the shell, the dynamic loader or common interpreters start.
var DangerousEnvVars = []string{
	// Library injection
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"LD_AUDIT",
	"DYLD_INSERT_LIBRARIES",
	"DYLD_LIBRARY_PATH",

	// Shell behavior modification
	"BASH_ENV",
	"ENV",
	"SHELLOPTS",
	"BASHOPTS",
	"CDPATH",
	"GLOBIGNORE",
	"IFS",
	"PROMPT_COMMAND",
	"PS4",

	// Interpreter start-up hooks
	"PYTHONSTARTUP",
	"PYTHONPATH",
	"PYTHONHOME",
	"RUBYOPT",
	"RUBYLIB",
	"PERL5OPT",
	"PERL5LIB",
	"NODE_OPTIONS",
	"JAVA_TOOL_OPTIONS",
	"_JAVA_OPTIONS",

	// Git helpers that execute programs
	"GIT_SSH",
	"GIT_SSH_COMMAND",
	"GIT_EXEC_PATH",

	// Agent sockets
	"SSH_AUTH_SOCK",
	"GPG_AGENT_INFO",
}

// dangerousPrefixes catch whole families, including exported bash functions.
var dangerousPrefixes = []string{"LD_", "DYLD_", "BASH_FUNC_"}

// getEnviron returns the current environment (abstracted for testing).
var getEnviron = os.Environ

// sanitizeEnvironment returns the parent environment minus dangerous
// variables, followed by extra.
func sanitizeEnvironment(extra []string) []string {
	dangerous := make(map[string]bool, len(DangerousEnvVars))
	for _, v := range DangerousEnvVars {
		dangerous[strings.ToUpper(v)] = true
	}

	current := getEnviron()
	result := make([]string, 0, len(current)+len(extra))
	for _, env := range current {
		idx := strings.Index(env, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToUpper(env[:idx])
		if dangerous[key] || hasAnyPrefix(key, dangerousPrefixes) {
			continue
		}
		result = append(result, env)
	}
	return append(result, extra...)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
