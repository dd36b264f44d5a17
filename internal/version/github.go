package version

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
)

const defaultRegistryTimeout = 5 * time.Second

// GitHubReleaseSource reads the tag of the latest published release.
type GitHubReleaseSource struct {
	owner   string
	repo    string
	timeout time.Duration
	client  *github.Client
}

// NewGitHubReleaseSource builds a release lookup for "owner/repo". baseURL is
// optional and points the client at a GitHub Enterprise API root.
func NewGitHubReleaseSource(repository, token, baseURL string, timeout time.Duration) (*GitHubReleaseSource, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(repository), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("release repository %q must be owner/name", repository)
	}
	if timeout <= 0 {
		timeout = defaultRegistryTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
		httpClient.Timeout = timeout
	}

	client := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
		client.BaseURL = parsed
	}

	return &GitHubReleaseSource{
		owner:   owner,
		repo:    repo,
		timeout: timeout,
		client:  client,
	}, nil
}

// Version implements Source.
func (s *GitHubReleaseSource) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	release, _, err := s.client.Repositories.GetLatestRelease(ctx, s.owner, s.repo)
	if err != nil {
		return "", fmt.Errorf("latest release for %s/%s: %w", s.owner, s.repo, err)
	}
	tag := strings.TrimSpace(release.GetTagName())
	if tag == "" {
		return "", errors.New("latest release has no tag")
	}
	return tag, nil
}
