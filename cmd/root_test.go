package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "search-worker", "status", "show", "import", "check", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "profile-resolver", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestSearchWorkerCommand_Hidden(t *testing.T) {
	assert.True(t, searchWorkerCmd.Hidden)
	assert.NotNil(t, searchWorkerCmd.PersistentPreRunE, "worker installs its own stderr logger")
}

func TestBrowserOptions_FromConfig(t *testing.T) {
	testConfig(t)
	cfg.Browser.ProfileDir = "/data/profile"
	cfg.Browser.UserAgent = "ua"
	cfg.Browser.PageLoadTimeoutSec = 20

	opts := browserOptions()
	assert.Equal(t, "/data/profile", opts.ProfileDir)
	assert.Equal(t, "ua", opts.UserAgent)
	assert.Equal(t, seconds(20), opts.PageLoadTimeout)
	assert.Equal(t, seconds(2), opts.ImplicitWait, "zero keeps the default")
	assert.True(t, opts.DisableImages)
}

func TestOpenStore_UnsupportedDriver(t *testing.T) {
	testConfig(t)
	cfg.Store.Driver = "oracle"

	_, err := openStore(t.Context())
	assert.ErrorContains(t, err, "unsupported store driver")
}
