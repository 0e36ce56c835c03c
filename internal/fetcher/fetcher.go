package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/huangang/ideaminer/backend/internal/models"
	"github.com/huangang/ideaminer/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Failure types recorded on FailureRecord.ErrorType.
const (
	TypeHTTPStatus = "HTTPStatusError"
	TypeRequest    = "RequestError"
	TypeMaxRetries = "MaxRetriesError"
	TypeParse      = "ParseError"
)

const (
	defaultRateLimitWait = 30 * time.Second
	invalidRateLimitWait = 60 * time.Second
	maxBodyBytes         = 20 << 20
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// FetchError is returned when a URL could not be fetched. A matching
// FailureRecord has already been recorded when it is returned.
type FetchError struct {
	URL        string
	Type       string
	Message    string
	StatusCode int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.URL)
}

type Config struct {
	MaxRetries        int
	Timeout           time.Duration
	BackoffBase       time.Duration
	RequestsPerSecond float64 // 0 disables the limiter
	Concurrency       int     // FetchAll in-flight limit, 0 means unbounded
}

type RequestOptions struct {
	Headers map[string]string
	Body    []byte
}

type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// ParseFunc turns one fetched payload into candidates.
type ParseFunc func(resp *Response) ([]models.RawCandidate, error)

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithSleeper replaces the wait used for backoff and rate-limit cooldowns.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithJitter replaces the uniform [0,1) jitter source.
func WithJitter(jitter func() float64) Option {
	return func(f *Fetcher) { f.jitter = jitter }
}

// Fetcher performs HTTP calls with retry, exponential backoff with jitter,
// 429 handling and failure recording. It is safe for concurrent use.
type Fetcher struct {
	source  string
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64

	mu       sync.Mutex
	failures []models.FailureRecord
}

func New(source string, cfg Config, opts ...Option) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}

	f := &Fetcher{
		source: source,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Source() string { return f.source }

func (f *Fetcher) Get(ctx context.Context, url string) (*Response, error) {
	return f.Fetch(ctx, http.MethodGet, url, nil)
}

// Fetch issues the request, retrying timeouts, 5xx and 429 responses up to
// MaxRetries attempts. Other 4xx responses and unexpected errors fail
// immediately.
func (f *Fetcher) Fetch(ctx context.Context, method, url string, opts *RequestOptions) (*Response, error) {
	retryCount := 0
	lastStatus := 0

	for retryCount < f.cfg.MaxRetries {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, f.fail(url, TypeRequest, err.Error(), 0, retryCount)
			}
		}

		resp, err := f.do(ctx, method, url, opts)
		if err != nil {
			if ctx.Err() == nil && isTimeout(err) {
				retryCount++
				logger.Warnf("[Fetcher] Timeout for %s (attempt %d/%d)", url, retryCount, f.cfg.MaxRetries)
				if err := f.backoff(ctx, retryCount); err != nil {
					return nil, f.fail(url, TypeRequest, err.Error(), 0, retryCount)
				}
				continue
			}
			logger.Errorf("[Fetcher] Request error for %s: %v", url, err)
			return nil, f.fail(url, TypeRequest, err.Error(), 0, retryCount)
		}

		lastStatus = resp.StatusCode
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryCount++
			wait := RetryAfter(resp.Header)
			logger.Warnf("[Fetcher] Rate limited on %s, waiting %v (attempt %d/%d)", url, wait, retryCount, f.cfg.MaxRetries)
			if retryCount < f.cfg.MaxRetries {
				if err := f.sleep(ctx, wait); err != nil {
					return nil, f.fail(url, TypeRequest, err.Error(), resp.StatusCode, retryCount)
				}
			}
			continue
		case resp.StatusCode >= 500:
			retryCount++
			logger.Warnf("[Fetcher] Server error %d for %s (attempt %d/%d)", resp.StatusCode, url, retryCount, f.cfg.MaxRetries)
			if err := f.backoff(ctx, retryCount); err != nil {
				return nil, f.fail(url, TypeRequest, err.Error(), resp.StatusCode, retryCount)
			}
			continue
		case resp.StatusCode >= 400:
			logger.Errorf("[Fetcher] HTTP %d for %s", resp.StatusCode, url)
			return nil, f.fail(url, TypeHTTPStatus, fmt.Sprintf("HTTP %d", resp.StatusCode), resp.StatusCode, retryCount)
		}

		return resp, nil
	}

	logger.Errorf("[Fetcher] Max retries exceeded for %s", url)
	return nil, f.fail(url, TypeMaxRetries, fmt.Sprintf("max retries (%d) exceeded", f.cfg.MaxRetries), lastStatus, retryCount)
}

func (f *Fetcher) do(ctx context.Context, method, url string, opts *RequestOptions) (*Response, error) {
	var body io.Reader
	if opts != nil && opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if opts != nil {
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	return &Response{
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// backoff waits base*2^(attempt-1) plus up to one second of jitter, unless
// attempt was the last one.
func (f *Fetcher) backoff(ctx context.Context, attempt int) error {
	if attempt >= f.cfg.MaxRetries {
		return nil
	}
	return f.sleep(ctx, Backoff(f.cfg.BackoffBase, attempt, f.jitter()))
}

// Backoff returns the wait before the retry following attempt (1-based).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	exp := math.Pow(2, float64(attempt-1))
	return time.Duration(float64(base)*exp) + time.Duration(jitter*float64(time.Second))
}

// RetryAfter returns the cooldown requested by a 429 response.
func RetryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return defaultRateLimitWait
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return invalidRateLimitWait
	}
	return time.Duration(secs) * time.Second
}

// FetchAll fetches and parses every URL concurrently. A URL that fails to
// fetch or parse is logged and left out; results keep input order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, parse ParseFunc) []models.RawCandidate {
	results := make([][]models.RawCandidate, len(urls))

	var g errgroup.Group
	if f.cfg.Concurrency > 0 {
		g.SetLimit(f.cfg.Concurrency)
	}
	for i, u := range urls {
		g.Go(func() error {
			items, err := f.FetchAndParse(ctx, u, parse)
			if err != nil {
				logger.Warnf("[Fetcher] Skipping %s: %v", u, err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var out []models.RawCandidate
	for _, items := range results {
		out = append(out, items...)
	}
	return out
}

// FetchAndParse fetches url and runs parse over the response, recording a
// ParseError failure when parse fails.
func (f *Fetcher) FetchAndParse(ctx context.Context, url string, parse ParseFunc) ([]models.RawCandidate, error) {
	resp, err := f.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	items, err := parse(resp)
	if err != nil {
		logger.Errorf("[Fetcher] Parse error for %s: %v", url, err)
		return nil, f.fail(url, TypeParse, err.Error(), resp.StatusCode, 0)
	}
	return items, nil
}

// RecordFailure appends a failure found outside Fetch, such as a payload
// that fetched fine but matched no known shape.
func (f *Fetcher) RecordFailure(url, errorType, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, models.FailureRecord{
		Source:       f.source,
		URL:          url,
		ErrorMessage: message,
		ErrorType:    errorType,
		OccurredAt:   time.Now(),
	})
}

// Failures returns a copy of the failures recorded since the last reset.
func (f *Fetcher) Failures() []models.FailureRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.FailureRecord, len(f.failures))
	copy(out, f.failures)
	return out
}

func (f *Fetcher) ResetFailures() {
	f.mu.Lock()
	f.failures = nil
	f.mu.Unlock()
}

func (f *Fetcher) fail(url, errType, msg string, status, retryCount int) *FetchError {
	f.mu.Lock()
	f.failures = append(f.failures, models.FailureRecord{
		Source:       f.source,
		URL:          url,
		ErrorMessage: msg,
		ErrorType:    errType,
		OccurredAt:   time.Now(),
		RetryCount:   retryCount,
	})
	f.mu.Unlock()

	return &FetchError{URL: url, Type: errType, Message: msg, StatusCode: status}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
