// Package fetcher downloads university web pages with per-domain rate
// limiting, a URL-keyed cache and request coalescing.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/resilience"
)

// Options configures a Fetcher.
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	MaxInFlight  int
	MaxBodyBytes int64
	CacheTTL     time.Duration
	// RetryBackoff overrides the initial retry delay.
	RetryBackoff time.Duration
	// Client overrides the default HTTP client (tests).
	Client *http.Client
}

func (o *Options) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = "supervisor-finder/1.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 5
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 2 << 20
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
}

// Fetcher retrieves pages. It is safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	opts    Options
	cache   Cache
	limiter *DomainLimiter
	sem     *semaphore.Weighted
	group   singleflight.Group
	log     *zap.Logger
}

// New creates a Fetcher. cache may be nil to disable caching; limiter is
// created with the default 1 request/second/domain when nil.
func New(opts Options, cache Cache, limiter *DomainLimiter) *Fetcher {
	opts.applyDefaults()
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if limiter == nil {
		limiter = NewDomainLimiter(1, 1)
	}
	return &Fetcher{
		client:  client,
		opts:    opts,
		cache:   cache,
		limiter: limiter,
		sem:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		log:     zap.L().With(zap.String("component", "fetcher")),
	}
}

// Fetch returns the page at rawURL. Concurrent calls for the same URL share
// one underlying request; the shared request runs under the first caller's
// context. Errors are *FetchError unless ctx was cancelled.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.FetchResult, error) {
	ch := f.group.DoChan(rawURL, func() (any, error) {
		return f.fetch(ctx, rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "fetcher: fetch cancelled")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		page := *res.Val.(*model.FetchResult)
		return &page, nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*model.FetchResult, error) {
	if f.cache != nil {
		cached, err := f.cache.GetCachedPage(ctx, rawURL, f.opts.CacheTTL)
		if err != nil {
			f.log.Warn("cache lookup failed", zap.String("url", rawURL), zap.Error(err))
		} else if cached != nil {
			cached.FromCache = true
			f.log.Debug("cache hit", zap.String("url", rawURL))
			return cached, nil
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &FetchError{Kind: KindInvalid, URL: rawURL, Err: err}
	}
	limiter := f.limiter.For(u.Hostname())

	retry := resilience.FetchRetryConfig(f.opts.MaxRetries)
	if f.opts.RetryBackoff > 0 {
		retry.InitialBackoff = f.opts.RetryBackoff
		retry.MaxBackoff = 10 * f.opts.RetryBackoff
	}
	retry.ShouldRetry = func(err error) bool {
		var fe *FetchError
		return errors.As(err, &fe) && fe.Retryable()
	}
	retry.OnRetry = resilience.RetryLogger("fetcher", rawURL)

	page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.FetchResult, error) {
		return f.attempt(ctx, rawURL, limiter)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: fetch cancelled")
		}
		return nil, err
	}

	if f.cache != nil && page.StatusCode == http.StatusOK {
		if err := f.cache.SetCachedPage(ctx, page); err != nil {
			f.log.Warn("cache write failed", zap.String("url", rawURL), zap.Error(err))
		}
	}
	return page, nil
}

// attempt performs one rate-limited request.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, limiter *AdaptiveLimiter) (*model.FetchResult, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "fetcher: acquire slot")
	}
	defer f.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindInvalid, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}

	host := req.URL.Hostname()
	if block := DetectBlock(resp, body); block != BlockNone {
		return nil, &FetchError{Kind: KindBlocked, URL: rawURL, StatusCode: resp.StatusCode, Block: block}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		limiter.OnRateLimit(host)
		return nil, &FetchError{Kind: KindHTTP4xx, URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &FetchError{Kind: KindHTTP5xx, URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &FetchError{Kind: KindHTTP4xx, URL: rawURL, StatusCode: resp.StatusCode}
	}
	limiter.OnSuccess()

	html, err := DecodeBody(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	text, err := ExtractText(html)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}

	f.log.Debug("fetched page",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)
	return &model.FetchResult{
		URL:        rawURL,
		FinalURL:   resp.Request.URL.String(),
		HTML:       html,
		Text:       text,
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}, nil
}
