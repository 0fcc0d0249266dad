package shell

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsFromEnvUsesDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv(EnvYieldMs)
	os.Unsetenv(EnvMaxOutputChars)

	d := DefaultsFromEnv()
	assert.Equal(t, defaultYieldMs, d.YieldMs)
	assert.Equal(t, defaultMaxOutputChars, d.MaxOutputChars)
}

func TestDefaultsFromEnvClampsYieldMs(t *testing.T) {
	t.Setenv(EnvYieldMs, "5")
	assert.Equal(t, minYieldMs, DefaultsFromEnv().YieldMs)

	t.Setenv(EnvYieldMs, "999999999")
	assert.Equal(t, maxYieldMs, DefaultsFromEnv().YieldMs)

	t.Setenv(EnvYieldMs, "5000")
	assert.Equal(t, 5000, DefaultsFromEnv().YieldMs)
}

func TestDefaultsFromEnvClampsMaxOutputChars(t *testing.T) {
	t.Setenv(EnvMaxOutputChars, "1")
	assert.Equal(t, minMaxOutputChars, DefaultsFromEnv().MaxOutputChars)

	t.Setenv(EnvMaxOutputChars, "999999999")
	assert.Equal(t, maxMaxOutputChars, DefaultsFromEnv().MaxOutputChars)
}

func TestDefaultsFromEnvIgnoresUnparsableValue(t *testing.T) {
	t.Setenv(EnvYieldMs, "not-a-number")
	assert.Equal(t, defaultYieldMs, DefaultsFromEnv().YieldMs)
}

func TestResolveShellUnix(t *testing.T) {
	inv := resolveShell()
	assert.NotEmpty(t, inv.bin)
	if inv.bin != "cmd.exe" {
		assert.Equal(t, "-c", inv.cmdFlag)
	}
}
