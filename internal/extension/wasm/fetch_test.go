package wasm

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glyph-ide/internal/domain"
)

func TestFetcherOptions_Defaults(t *testing.T) {
	opts := FetcherOptions{}.withDefaults()

	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, int64(10<<20), opts.MaxResponseBytes)
	assert.Equal(t, 30, opts.RequestsPerMin)
	assert.Equal(t, 5, opts.Burst)
}

func TestFetch_BlockedURLNeverDials(t *testing.T) {
	f := NewFetcher(FetcherOptions{}, slog.Default())

	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"file:///etc/passwd",
		"http://169.254.169.254/latest/meta-data/",
	} {
		_, err := f.Fetch(context.Background(), "acme.fmt", raw)
		require.Error(t, err, "URL %q must be refused", raw)
		assert.ErrorIs(t, err, domain.ErrSSRFBlocked)
	}
}

func TestFetch_RateLimitPerExtension(t *testing.T) {
	f := NewFetcher(FetcherOptions{RequestsPerMin: 1, Burst: 1}, slog.Default())

	// Exhaust acme.fmt's budget; beta.lint keeps its own.
	assert.True(t, f.limiter("acme.fmt").Allow())
	assert.False(t, f.limiter("acme.fmt").Allow())
	assert.True(t, f.limiter("beta.lint").Allow())

	// Forget resets the budget for a reinstall.
	f.Forget("acme.fmt")
	assert.True(t, f.limiter("acme.fmt").Allow())
}

func TestFetch_RateLimitSurfacesAsPermissionDenied(t *testing.T) {
	f := NewFetcher(FetcherOptions{RequestsPerMin: 1, Burst: 1}, slog.Default())
	require.True(t, f.limiter("acme.fmt").Allow())

	// The budget is spent; a valid public URL now fails before any dial.
	_, err := f.Fetch(context.Background(), "acme.fmt", "https://1.1.1.1/")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}
