package browser

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
)

func TestOptions_Launcher(t *testing.T) {
	opts := Options{
		Headless:      true,
		ProfileDir:    "/tmp/profile",
		UserAgent:     "resolver-test",
		DisableImages: true,
	}
	l := opts.launcher()

	assert.True(t, l.Has(flags.Headless))
	assert.Equal(t, "/tmp/profile", l.Get(flags.UserDataDir))
	assert.Equal(t, "resolver-test", l.Get(flags.Flag("user-agent")))
	assert.Equal(t, "imagesEnabled=false", l.Get(flags.Flag("blink-settings")))
}

func TestOptions_LauncherHeadful(t *testing.T) {
	l := Options{}.launcher()
	assert.False(t, l.Has(flags.Headless))
	assert.False(t, l.Has(flags.Flag("blink-settings")))
	assert.False(t, l.Has(flags.Flag("user-agent")))
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 12*time.Second, o.PageLoadTimeout)
	assert.Equal(t, 2*time.Second, o.ImplicitWait)

	o = Options{PageLoadTimeout: time.Second, ImplicitWait: time.Millisecond}.withDefaults()
	assert.Equal(t, time.Second, o.PageLoadTimeout)
	assert.Equal(t, time.Millisecond, o.ImplicitWait)
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.True(t, o.Headless)
	assert.True(t, o.DisableImages)
}
