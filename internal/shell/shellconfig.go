package shell

import (
	"os"
	"runtime"
	"strconv"
)

// shellInvocation is the resolved interpreter binary plus the flag that
// makes it execute a single command string.
type shellInvocation struct {
	bin     string
	cmdFlag string
}

// resolveShell chooses the shell binary and command-string-execution flag
// appropriate for the host OS.
func resolveShell() shellInvocation {
	if runtime.GOOS == "windows" {
		return shellInvocation{bin: "cmd.exe", cmdFlag: "/C"}
	}
	return shellInvocation{bin: unixShellBin(), cmdFlag: "-c"}
}

// unixShellBin picks the user's login shell if it looks usable, otherwise
// falls back to /bin/sh — always present on POSIX systems.
func unixShellBin() string {
	if s := os.Getenv("SHELL"); s != "" {
		if fi, err := os.Stat(s); err == nil && !fi.IsDir() {
			return s
		}
	}
	return "/bin/sh"
}

const (
	// EnvYieldMs overrides the default yield window, in milliseconds.
	EnvYieldMs = "PI_BASH_YIELD_MS"
	// EnvMaxOutputChars overrides the per-session output cap, in characters.
	EnvMaxOutputChars = "PI_BASH_MAX_OUTPUT_CHARS"

	minYieldMs = 10
	maxYieldMs = 120_000
	defaultYieldMs = 20_000

	minMaxOutputChars     = 1_000
	maxMaxOutputChars     = 150_000
	defaultMaxOutputChars = 30_000
)

// EnvDefaults holds the process-wide defaults read once from the named
// environment variables at Executor construction time.
type EnvDefaults struct {
	YieldMs        int
	MaxOutputChars int
}

// DefaultsFromEnv reads PI_BASH_YIELD_MS and PI_BASH_MAX_OUTPUT_CHARS,
// clamping each to its documented range and falling back to the
// documented default when absent or unparsable.
func DefaultsFromEnv() EnvDefaults {
	return EnvDefaults{
		YieldMs:        clampedIntEnv(EnvYieldMs, defaultYieldMs, minYieldMs, maxYieldMs),
		MaxOutputChars: clampedIntEnv(EnvMaxOutputChars, defaultMaxOutputChars, minMaxOutputChars, maxMaxOutputChars),
	}
}

func clampedIntEnv(key string, def, min, max int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return clampInt(v, min, max)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
