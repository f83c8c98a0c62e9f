// Package fetch retrieves pages under per-host rate and concurrency limits.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xhad/clipping/internal/models"
)

type FetcherConfig struct {
	Timeout            time.Duration
	MaxRetries         int
	RetryCodes         []int
	UserAgents         []string
	RateLimit          float64 // requests per second per host
	PerHostConcurrency int
	MaxBodyBytes       int64
	InitialBackoff     time.Duration
	Client             *http.Client
	Logger             *logrus.Logger
}

// StatusError is returned when the final response is not 2xx.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received status code %d for URL: %s", e.Code, e.URL)
}

type hostLimits struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// Fetcher performs GET requests with per-host concurrency and rate limits,
// retrying transport errors and a fixed set of status codes.
type Fetcher struct {
	config     FetcherConfig
	client     *http.Client
	retryCodes map[int]bool
	log        *logrus.Logger

	mu    sync.Mutex
	hosts map[string]*hostLimits
}

func NewWithConfig(config FetcherConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryCodes == nil {
		config.RetryCodes = []int{403, 404, 500, 502, 503, 504}
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.PerHostConcurrency == 0 {
		config.PerHostConcurrency = 2
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 32 << 20
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	codes := make(map[int]bool, len(config.RetryCodes))
	for _, c := range config.RetryCodes {
		codes[c] = true
	}

	return &Fetcher{
		config:     config,
		client:     client,
		retryCodes: codes,
		log:        config.Logger,
		hosts:      make(map[string]*hostLimits),
	}
}

func (f *Fetcher) limitsFor(host string) *hostLimits {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.hosts[host]
	if !ok {
		l = &hostLimits{
			sem:     semaphore.NewWeighted(int64(f.config.PerHostConcurrency)),
			limiter: rate.NewLimiter(rate.Limit(f.config.RateLimit), f.config.PerHostConcurrency),
		}
		f.hosts[host] = l
		f.log.WithFields(logrus.Fields{"host": host, "limit": f.config.PerHostConcurrency}).Debug("Created host limits")
	}
	return l
}

func (f *Fetcher) userAgent() string {
	if len(f.config.UserAgents) == 0 {
		return ""
	}
	return f.config.UserAgents[rand.IntN(len(f.config.UserAgents))]
}

// Fetch GETs rawURL. Retryable failures are attempted MaxRetries more
// times with exponential backoff before the last error is returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}
	limits := f.limitsFor(strings.ToLower(u.Host))

	var page *models.Page
	attempt := 0
	op := func() error {
		attempt++
		p, err := f.do(ctx, limits, rawURL)
		if err == nil {
			page = p
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if se, ok := err.(*StatusError); ok && !f.retryCodes[se.Code] {
			return backoff.Permanent(err)
		}
		f.log.WithFields(logrus.Fields{"url": rawURL, "attempt": attempt}).Debugf("Retryable fetch failure: %v", err)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.config.InitialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.config.MaxRetries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return page, nil
}

func (f *Fetcher) do(ctx context.Context, limits *hostLimits, rawURL string) (*models.Page, error) {
	if err := limits.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer limits.sem.Release(1)

	if err := limits.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if ua := f.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &models.Page{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
