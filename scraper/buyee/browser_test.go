package buyee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercari-watcher/metrics"
	"mercari-watcher/utils"
)

func TestFindChromeBinaryPrefersConfigured(t *testing.T) {
	t.Setenv("CHROME_BIN", "/from/env/chrome")
	assert.Equal(t, "/opt/custom/chrome", findChromeBinary("/opt/custom/chrome"))
	assert.Equal(t, "/from/env/chrome", findChromeBinary(""))
}

func TestNewBrowserDefaults(t *testing.T) {
	b, err := NewBrowser(Options{}, utils.NewNopLogger(), metrics.New())
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, b.opts.BaseURL)
	assert.Equal(t, DefaultTimeout, b.opts.Timeout)
	assert.Equal(t, DefaultMaxRetries, b.retry.MaxAttempts)
	assert.Equal(t, DefaultRetryBaseDelay, b.retry.BaseDelay)
	// nothing was started, so closing is a no-op
	assert.NoError(t, b.Close())
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "://nope"}, utils.NewNopLogger(), metrics.New())
	assert.Error(t, err)
	_, err = NewBrowser(Options{BaseURL: "://nope"}, utils.NewNopLogger(), metrics.New())
	assert.Error(t, err)
}
