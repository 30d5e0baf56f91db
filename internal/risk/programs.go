// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package risk

// =============================================================================
// PROGRAM TABLES
// =============================================================================

type stringSet map[string]struct{}

func newSet(items ...string) stringSet {
	s := make(stringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s stringSet) has(item string) bool {
	_, ok := s[item]
	return ok
}

func (s stringSet) add(items ...string) {
	for _, it := range items {
		s[it] = struct{}{}
	}
}

func (s stringSet) clone() stringSet {
	out := make(stringSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// privilegePrefixes run the rest of the command as another user.
var privilegePrefixes = newSet("sudo", "su", "doas", "pkexec", "runas", "gosu", "run0")

// wrapperPrograms run their arguments as a command.
var wrapperPrograms = newSet("time", "nice", "nohup", "command", "builtin", "exec", "stdbuf", "ionice", "env", "timeout", "xargs")

var shellPrograms = newSet("sh", "bash", "zsh", "dash", "ksh", "fish")

var informationalPrograms = newSet(
	"ls", "pwd", "cat", "head", "tail", "echo", "printf", "wc", "which", "whereis",
	"whoami", "id", "date", "cal", "uname", "hostname", "printenv", "df", "du", "free",
	"uptime", "file", "stat", "tree", "find", "grep", "egrep", "fgrep", "rg", "ag",
	"diff", "cmp", "sort", "uniq", "cut", "tr", "true", "false", "test", "[",
	"basename", "dirname", "realpath", "readlink", "jq", "type", "ps", "pgrep",
	"less", "more", "column", "nl", "md5sum", "sha1sum", "sha256sum", "shasum",
	"od", "xxd", "hexdump", "strings", "sed", "awk", "lsof", "sleep", "seq",
	"history", "man", "help", "locale", "nproc", "arch", "lscpu", "cd", ":",
)

var networkPrograms = newSet(
	"curl", "wget", "nc", "ncat", "netcat", "ssh", "scp", "sftp", "rsync", "ftp",
	"tftp", "telnet", "socat", "nmap", "ping", "traceroute", "dig", "nslookup",
	"host", "whois", "http", "https", "aria2c", "gh", "aws", "gcloud", "az",
	"kubectl", "docker", "podman", "helm", "terraform", "ansible", "rclone",
	"npx", "bunx", "pnpx", "rustup",
)

// systemPackageManagers install software for the whole user or host.
var systemPackageManagers = newSet(
	"apt", "apt-get", "aptitude", "dpkg", "yum", "dnf", "rpm", "zypper", "pacman",
	"apk", "brew", "port", "snap", "flatpak", "nix-env", "choco", "winget", "scoop",
	"pip", "pip3", "pipx", "conda", "mamba", "gem", "easy_install",
)

// packageQuerySubcommands only read package state.
var packageQuerySubcommands = newSet("list", "show", "info", "freeze", "help", "query", "-l", "-L", "-s", "-q", "-qa")

// installSubcommands mark build tools whose subcommand fetches or installs packages.
var installSubcommands = map[string]stringSet{
	"npm":      newSet("install", "i", "ci", "add", "uninstall", "remove", "rm", "update", "upgrade", "publish", "link", "exec"),
	"yarn":     newSet("add", "install", "remove", "upgrade", "up", "publish", "dlx"),
	"pnpm":     newSet("add", "install", "i", "remove", "rm", "update", "up", "publish", "dlx"),
	"bun":      newSet("add", "install", "i", "remove", "update", "x"),
	"cargo":    newSet("install", "uninstall", "publish", "add"),
	"go":       newSet("install", "get"),
	"bundle":   newSet("install", "update", "add"),
	"composer": newSet("install", "require", "update", "remove"),
	"poetry":   newSet("add", "install", "update", "remove", "publish"),
	"uv":       newSet("add", "pip", "sync", "tool"),
	"dotnet":   newSet("add", "restore", "tool"),
	"deno":     newSet("install"),
}

var buildPrograms = newSet(
	"go", "cargo", "make", "cmake", "ninja", "meson", "bazel", "gradle", "gradlew",
	"mvn", "ant", "npm", "yarn", "pnpm", "node", "deno", "bun", "tsc", "python",
	"python3", "py", "pytest", "tox", "nox", "ruby", "rake", "bundle", "rspec",
	"php", "composer", "java", "javac", "kotlinc", "scala", "sbt", "gcc", "g++",
	"cc", "clang", "clang++", "rustc", "dotnet", "swift", "swiftc", "zig", "mix",
	"elixir", "ghc", "cabal", "stack", "dart", "flutter", "poetry", "uv", "perl",
	"eslint", "prettier", "gofmt", "goimports", "golangci-lint", "black", "ruff",
	"flake8", "mypy", "pylint", "jest", "vitest", "mocha", "source", ".",
)

// mutationPrograms change files; arguments are checked against the project root.
var mutationPrograms = newSet(
	"mkdir", "touch", "cp", "mv", "rm", "rmdir", "ln", "chmod", "chown", "chgrp",
	"tee", "patch", "tar", "unzip", "zip", "gzip", "gunzip", "truncate", "install",
)

// gitReadOnly subcommands do not change the repository.
var gitReadOnly = newSet(
	"status", "log", "diff", "show", "blame", "rev-parse", "describe", "ls-files",
	"ls-tree", "shortlog", "reflog", "grep", "help", "version", "whatchanged",
	"cat-file", "name-rev",
)

// gitListers are read-only only without positional arguments.
var gitListers = newSet("branch", "tag", "remote", "stash")

var gitNetwork = newSet("clone", "fetch", "pull", "push", "ls-remote", "submodule")

// versionArgs make any known program informational.
var versionArgs = newSet("--version", "-version", "version", "--help", "-h", "help", "-V")

// deviceSinks are harmless redirection targets.
var deviceSinks = newSet("/dev/null", "/dev/stdout", "/dev/stderr", "/dev/tty")
