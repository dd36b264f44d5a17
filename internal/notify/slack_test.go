package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/transition"
	"github.com/nholik/stack-updater/internal/update"
	"github.com/rs/zerolog"
)

func fastTiming(rateInterval time.Duration) Timing {
	return Timing{
		Timeout:           time.Second,
		RateInterval:      rateInterval,
		RateBurst:         1,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffMaxElapsed: 50 * time.Millisecond,
	}
}

func TestBuildSlackMessagesSingle(t *testing.T) {
	event := makeEvent(2)

	messages := buildSlackMessages(event)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	msg := messages[0]
	if !strings.Contains(msg.Text, "Stack alpha update partial_failure") {
		t.Fatalf("expected summary to include stack and state, got %q", msg.Text)
	}
	if msg.Blocks == nil {
		t.Fatalf("expected blocks to be set")
	}
	if len(msg.Blocks.BlockSet) != slackReservedBlocks+2 {
		t.Fatalf("expected %d blocks, got %d", slackReservedBlocks+2, len(msg.Blocks.BlockSet))
	}
}

func TestBuildSlackMessagesWithoutTransitions(t *testing.T) {
	event := Event{Result: update.Result{Stack: "alpha", State: update.StateSuccess, Message: "updated to 1.4.0"}}

	messages := buildSlackMessages(event)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if len(messages[0].Blocks.BlockSet) != slackReservedBlocks {
		t.Fatalf("expected only reserved blocks, got %d", len(messages[0].Blocks.BlockSet))
	}
	if !strings.Contains(messages[0].Text, "updated to 1.4.0") {
		t.Fatalf("expected message in summary, got %q", messages[0].Text)
	}
}

func TestBuildSlackMessagesChunking(t *testing.T) {
	total := slackMaxTransitions*2 + 3
	event := makeEvent(total)

	messages := buildSlackMessages(event)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	for i, msg := range messages {
		if msg.Blocks == nil {
			t.Fatalf("message %d missing blocks", i)
		}
		if len(msg.Blocks.BlockSet) > slackMaxBlocks {
			t.Fatalf("message %d exceeds block limit: %d", i, len(msg.Blocks.BlockSet))
		}
		if !strings.Contains(msg.Text, fmt.Sprintf("part %d/3", i+1)) {
			t.Fatalf("message %d missing part marker: %q", i, msg.Text)
		}
	}
}

func TestSlackNotifierPayload(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.Nop(), server.URL, WithSlackTiming(fastTiming(time.Millisecond)))
	event := makeEvent(1)
	event.Result.Error = "compose up: exit status 1"
	event.Result.Hint = "check the compose file"
	event.Result.RevisionBefore = "0123456789abcdef"
	event.Result.RevisionAfter = "fedcba9876543210"

	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	for _, want := range []string{"svc-01", "compose up: exit status 1", "0123456789ab", "3/4 running"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected payload to contain %q, got %s", want, body)
		}
	}
}

func TestSlackNotifierRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL, WithSlackTiming(fastTiming(time.Millisecond)))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, makeEvent(1)); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestPosterRetryAfterError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newPoster(zerolog.Nop(), "slack", server.URL, fastTiming(time.Millisecond))

	err := p.postOnce(context.Background(), []byte(`{}`))
	var retryAfterErr *retryAfterError
	if !errors.As(err, &retryAfterErr) {
		t.Fatalf("expected retry-after error, got %v", err)
	}
	if retryAfterErr.Duration != time.Second {
		t.Fatalf("expected 1s retry-after, got %s", retryAfterErr.Duration)
	}
}

func TestPosterHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timing := fastTiming(time.Millisecond)
	timing.BackoffMaxElapsed = 5 * time.Second
	p := newPoster(zerolog.Nop(), "slack", server.URL, timing)

	start := time.Now()
	if err := p.post(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("expected delivery after retry-after, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected to wait for retry-after, waited %s", elapsed)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestSlackNotifierRateLimitBlocks(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL, WithSlackTiming(fastTiming(500*time.Millisecond)))

	if err := notifier.Notify(context.Background(), makeEvent(1)); err != nil {
		t.Fatalf("expected first notify to succeed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, makeEvent(1)); err == nil {
		t.Fatalf("expected rate limit error, got nil")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected rate limit to block second call, got %d", got)
	}
}

func TestSlackNotifierClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer server.Close()

	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL, WithSlackTiming(fastTiming(time.Millisecond)))

	err := notifier.Notify(context.Background(), makeEvent(1))
	if err == nil {
		t.Fatalf("expected error for 400 response, got nil")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected error to contain status code, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid_payload") {
		t.Fatalf("expected error to contain response body, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call (no retries for 4xx), got %d", got)
	}
}

func TestSlackNotifierContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	timing := fastTiming(time.Millisecond)
	timing.BackoffInitial = 100 * time.Millisecond
	timing.BackoffMax = 200 * time.Millisecond
	timing.BackoffMaxElapsed = time.Second
	notifier := NewSlackNotifier(zerolog.New(io.Discard), server.URL, WithSlackTiming(timing))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := notifier.Notify(ctx, makeEvent(1))
	if err == nil {
		t.Fatalf("expected context cancellation error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled error, got %v", err)
	}
}

func TestNewSlackNotifierWithoutURL(t *testing.T) {
	if _, ok := NewSlackNotifier(zerolog.Nop(), "").(*NoopNotifier); !ok {
		t.Fatalf("expected noop notifier when webhook is empty")
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{value: "", ok: false},
		{value: "5", want: 5 * time.Second, ok: true},
		{value: "0", ok: false},
		{value: "-2", ok: false},
		{value: "soon", ok: false},
		{value: "Mon, 02 Jan 2006 15:04:05 GMT", ok: false},
	}

	for _, tc := range cases {
		got, ok := parseRetryAfter(tc.value)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseRetryAfter(%q) = %s, %v; want %s, %v", tc.value, got, ok, tc.want, tc.ok)
		}
	}
}

func makeEvent(count int) Event {
	transitions := make([]transition.ServiceTransition, count)
	for i := 0; i < count; i++ {
		transitions[i] = transition.ServiceTransition{
			Name:           fmt.Sprintf("svc-%02d", i+1),
			PreviousStatus: health.StatusOK,
			CurrentStatus:  health.StatusFailed,
			Reasons:        []string{"missing service"},
		}
	}
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return Event{
		Result: update.Result{
			RunID:      "run-1",
			Stack:      "alpha",
			State:      update.StatePartialFailure,
			Stage:      update.StateVerify,
			Message:    "stack unhealthy after restart",
			Health:     &health.Snapshot{Running: 3, Total: 4, Status: health.StatusFailed, Source: health.SourcePS},
			StartedAt:  started,
			FinishedAt: started.Add(42 * time.Second),
		},
		Transitions: transitions,
	}
}
