package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultLookupTimeout       = 3 * time.Second
	selfReportMaxBytes   int64 = 64 << 10
)

// selfReportKeys are the JSON fields checked, in order, for the running release.
var selfReportKeys = []string{"version", "release", "tag", "tag_name"}

// SelfReportSource reads the running release from the deployed service's status document.
type SelfReportSource struct {
	candidates []string
	timeout    time.Duration
	client     *retryablehttp.Client
}

// NewSelfReportSource tries each candidate URL in order, each bounded by timeout.
func NewSelfReportSource(candidates []string, timeout time.Duration) (*SelfReportSource, error) {
	filtered := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			filtered = append(filtered, trimmed)
		}
	}
	if len(filtered) == 0 {
		return nil, errors.New("at least one self-report url is required")
	}
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: timeout}

	return &SelfReportSource{
		candidates: filtered,
		timeout:    timeout,
		client:     client,
	}, nil
}

// Version implements Source. The first candidate answering with a usable document wins.
func (s *SelfReportSource) Version(ctx context.Context) (string, error) {
	var errs []error
	for _, candidate := range s.candidates {
		value, err := s.fetch(ctx, candidate)
		if err == nil {
			return value, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("no self-report endpoint answered: %w", errors.Join(errs...))
}

func (s *SelfReportSource) fetch(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch self-report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := readWithLimit(resp.Body, selfReportMaxBytes)
	if err != nil {
		return "", err
	}

	return parseSelfReport(body)
}

func parseSelfReport(body []byte) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode self-report: %w", err)
	}
	for _, key := range selfReportKeys {
		if value, ok := doc[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}
	return "", errors.New("self-report has no version field")
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read self-report: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("self-report body exceeds %d bytes", maxBytes)
	}
	return body, nil
}
