package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const responseBodyLimit = 1024

// Timing controls delivery pacing for a notifier.
type Timing struct {
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// RateInterval and RateBurst limit deliveries per stack.
	RateInterval time.Duration
	RateBurst    int
	// BackoffInitial, BackoffMax and BackoffMaxElapsed shape retries of
	// transport failures and 5xx responses.
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMaxElapsed time.Duration
}

// DefaultTiming is used when no override is supplied.
var DefaultTiming = Timing{
	Timeout:           10 * time.Second,
	RateInterval:      time.Second,
	RateBurst:         1,
	BackoffInitial:    time.Second,
	BackoffMax:        10 * time.Second,
	BackoffMaxElapsed: 30 * time.Second,
}

// poster delivers JSON payloads to one endpoint with per-stack rate limiting
// and exponential backoff. Non-retryable responses end delivery immediately.
type poster struct {
	logger      zerolog.Logger
	target      string
	url         string
	contentType string
	client      *retryablehttp.Client
	timing      Timing

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPoster(logger zerolog.Logger, target, url string, timing Timing) *poster {
	client := retryablehttp.NewClient()
	// Retries are driven by backoff below so Retry-After can be honoured.
	client.RetryMax = 0
	client.CheckRetry = func(context.Context, *http.Response, error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timing.Timeout}

	return &poster{
		logger:      logger.With().Str("target", target).Logger(),
		target:      target,
		url:         url,
		contentType: "application/json",
		client:      client,
		timing:      timing,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// wait blocks until the stack's limiter admits another delivery.
func (p *poster) wait(ctx context.Context, stack string) error {
	p.mu.Lock()
	limiter, ok := p.limiters[stack]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.timing.RateInterval), p.timing.RateBurst)
		p.limiters[stack] = limiter
	}
	p.mu.Unlock()
	return limiter.Wait(ctx)
}

// post sends payload, retrying transport errors, 5xx and 429 responses.
func (p *poster) post(ctx context.Context, payload []byte) error {
	policy := &retryAfterBackOff{ExponentialBackOff: backoff.NewExponentialBackOff()}
	policy.InitialInterval = p.timing.BackoffInitial
	policy.MaxInterval = p.timing.BackoffMax
	policy.MaxElapsedTime = p.timing.BackoffMaxElapsed

	attempt := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := p.postOnce(ctx, payload)
		var retryAfter *retryAfterError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &retryAfter):
			policy.override = retryAfter.Duration
			return err
		case errors.Is(err, errRetryable):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	onRetry := func(err error, wait time.Duration) {
		p.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("notification delivery failed, retrying")
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), onRetry)
}

func (p *poster) postOnce(ctx context.Context, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timing.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.target, err)
	}
	req.Header.Set("Content-Type", p.contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w: %w", p.target, errRetryable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	bodyText := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return &retryAfterError{Duration: wait, status: resp.Status, target: p.target}
		}
		return fmt.Errorf("%s rate limited: %s: %w", p.target, resp.Status, errRetryable)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%s server error: %s: %w", p.target, resp.Status, errRetryable)
	case bodyText != "":
		return fmt.Errorf("%s request failed: %s (%s)", p.target, resp.Status, bodyText)
	default:
		return fmt.Errorf("%s request failed: %s", p.target, resp.Status)
	}
}

var errRetryable = errors.New("retryable")

type retryAfterError struct {
	Duration time.Duration
	status   string
	target   string
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("%s rate limited (%s); retry after %s", e.target, e.status, e.Duration)
}

// retryAfterBackOff prefers a server-provided delay over the exponential
// schedule for the next wait, without extending the elapsed-time budget.
type retryAfterBackOff struct {
	*backoff.ExponentialBackOff
	override time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.ExponentialBackOff.NextBackOff()
	if b.override <= 0 || next == backoff.Stop {
		return next
	}
	wait := b.override
	b.override = 0
	return wait
}

func parseRetryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		wait := time.Until(when)
		if wait <= 0 {
			return 0, false
		}
		return wait, true
	}
	return 0, false
}
