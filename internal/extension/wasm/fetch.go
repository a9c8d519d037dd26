package wasm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"glyph-ide/internal/domain"
	"glyph-ide/internal/security"
)

// FetcherOptions bounds outbound traffic from guests.
type FetcherOptions struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	RequestsPerMin   int
	Burst            int
}

func (o FetcherOptions) withDefaults() FetcherOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxResponseBytes <= 0 {
		o.MaxResponseBytes = 10 << 20
	}
	if o.RequestsPerMin <= 0 {
		o.RequestsPerMin = 30
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	return o
}

// Fetcher performs outbound HTTP on behalf of guests. Every request goes
// through the SSRF-safe transport, a shared circuit breaker, and a
// per-extension rate limiter. Responses are size-capped.
type Fetcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	opts    FetcherOptions
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher builds a Fetcher. The breaker opens after repeated upstream
// failures and denies all guest fetches until the cooldown elapses.
func NewFetcher(opts FetcherOptions, logger *slog.Logger) *Fetcher {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:    "extension-fetch",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("fetch breaker state change", "from", from.String(), "to", to.String())
		},
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: security.NewSSRFSafeTransport(),
		},
		breaker:  gobreaker.NewCircuitBreaker[[]byte](settings),
		opts:     opts,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch GETs a URL for the named extension. The URL is validated before
// any connection is made; rate-limit exhaustion fails immediately rather
// than queueing the guest.
func (f *Fetcher) Fetch(ctx context.Context, extensionID, rawURL string) ([]byte, error) {
	if err := security.ValidateURL(rawURL); err != nil {
		return nil, domain.WrapOp("fetch.Fetch", err)
	}
	if !f.limiter(extensionID).Allow() {
		return nil, domain.WrapOp("fetch.Fetch",
			fmt.Errorf("%w: rate limit exceeded for %s", domain.ErrPermissionDenied, extensionID))
	}

	body, err := f.breaker.Execute(func() ([]byte, error) {
		return f.get(ctx, rawURL)
	})
	if err != nil {
		return nil, domain.WrapOp("fetch.Fetch", err)
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "glyph-ide-extension")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.opts.MaxResponseBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.opts.MaxResponseBytes)
	}
	return body, nil
}

func (f *Fetcher) limiter(extensionID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[extensionID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(f.opts.RequestsPerMin)/60.0), f.opts.Burst)
		f.limiters[extensionID] = lim
	}
	return lim
}

// Forget drops the rate limiter state for an uninstalled extension.
func (f *Fetcher) Forget(extensionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.limiters, extensionID)
}
