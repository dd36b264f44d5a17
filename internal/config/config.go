package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envStacksFile      = "SU_STACKS_FILE"
	envLogLevel        = "SU_LOG_LEVEL"
	envPollInterval    = "SU_POLL_INTERVAL"
	envAPIPort         = "SU_API_PORT"
	envMetricsPort     = "SU_METRICS_PORT"
	envDockerHost      = "SU_DOCKER_HOST"
	envDockerTLSDir    = "SU_DOCKER_TLS_DIR"
	envGitHubToken     = "SU_GITHUB_TOKEN"
	envGitHubAPIURL    = "SU_GITHUB_API_URL"
	envBuildTimeout    = "SU_BUILD_TIMEOUT"
	envLookupTimeout   = "SU_LOOKUP_TIMEOUT"
	envRestartTimeout  = "SU_RESTART_TIMEOUT"
	envVerifyDelay     = "SU_VERIFY_DELAY"
	envStateFile       = "SU_STATE_FILE"
	envSlackWebhookURL = "SU_SLACK_WEBHOOK_URL"
	envWebhookURL      = "SU_WEBHOOK_URL"
	envWebhookTemplate = "SU_WEBHOOK_TEMPLATE"
	envDryRunNotify    = "SU_DRY_RUN_NOTIFY"
	envComposeBinary   = "SU_COMPOSE_BINARY"
)

const (
	defaultStacksFile     = "stacks.yaml"
	defaultLogLevel       = "info"
	defaultPollInterval   = time.Hour
	defaultAPIPort        = 8080
	defaultBuildTimeout   = 15 * time.Minute
	defaultLookupTimeout  = 3 * time.Second
	defaultRestartTimeout = 10 * time.Minute
	defaultVerifyDelay    = 5 * time.Second
	defaultComposeBinary  = "docker"

	// Version lookups must stay within single-digit seconds per endpoint.
	maxLookupTimeout = 9 * time.Second
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	StacksFile   string
	LogLevel     string
	PollInterval time.Duration
	APIPort      int
	MetricsPort  int

	DockerHost    string
	DockerTLSDir  string
	ComposeBinary string

	GitHubToken  string
	GitHubAPIURL string

	BuildTimeout   time.Duration
	LookupTimeout  time.Duration
	RestartTimeout time.Duration
	VerifyDelay    time.Duration

	StateFile string

	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRunNotify    bool
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		StacksFile:    defaultStacksFile,
		LogLevel:      defaultLogLevel,
		PollInterval:  defaultPollInterval,
		APIPort:       defaultAPIPort,
		MetricsPort:   defaultAPIPort,
		ComposeBinary: defaultComposeBinary,
		BuildTimeout:  defaultBuildTimeout,
		LookupTimeout: defaultLookupTimeout,
		VerifyDelay:   defaultVerifyDelay,

		RestartTimeout: defaultRestartTimeout,
	}

	if value, ok := lookupTrimmed(envStacksFile); ok && value != "" {
		cfg.StacksFile = value
	}
	if value, ok := lookupTrimmed(envLogLevel); ok && value != "" {
		cfg.LogLevel = value
	}

	var err error
	if cfg.PollInterval, err = durationFromEnv(envPollInterval, cfg.PollInterval, true); err != nil {
		return Config{}, err
	}
	if cfg.BuildTimeout, err = durationFromEnv(envBuildTimeout, cfg.BuildTimeout, false); err != nil {
		return Config{}, err
	}
	if cfg.LookupTimeout, err = durationFromEnv(envLookupTimeout, cfg.LookupTimeout, false); err != nil {
		return Config{}, err
	}
	if cfg.LookupTimeout > maxLookupTimeout {
		return Config{}, fmt.Errorf("%s must not exceed %s", envLookupTimeout, maxLookupTimeout)
	}
	if cfg.RestartTimeout, err = durationFromEnv(envRestartTimeout, cfg.RestartTimeout, false); err != nil {
		return Config{}, err
	}
	if cfg.VerifyDelay, err = durationFromEnv(envVerifyDelay, cfg.VerifyDelay, true); err != nil {
		return Config{}, err
	}

	if cfg.APIPort, err = portFromEnv(envAPIPort, cfg.APIPort); err != nil {
		return Config{}, err
	}
	cfg.MetricsPort = cfg.APIPort
	if cfg.MetricsPort, err = portFromEnv(envMetricsPort, cfg.MetricsPort); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envDockerHost); ok {
		cfg.DockerHost = value
	}
	if value, ok := lookupTrimmed(envDockerTLSDir); ok {
		cfg.DockerTLSDir = value
	}
	if value, ok := lookupTrimmed(envComposeBinary); ok && value != "" {
		cfg.ComposeBinary = value
	}
	if value, ok := lookupTrimmed(envGitHubToken); ok {
		cfg.GitHubToken = value
	}
	if value, ok := lookupTrimmed(envGitHubAPIURL); ok {
		cfg.GitHubAPIURL = value
	}
	if value, ok := lookupTrimmed(envStateFile); ok {
		cfg.StateFile = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookURL); ok {
		cfg.WebhookURL = value
	}
	if value, ok := lookupTrimmed(envWebhookTemplate); ok {
		cfg.WebhookTemplate = value
	}
	if value, ok := lookupTrimmed(envDryRunNotify); ok && value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDryRunNotify, err)
		}
		cfg.DryRunNotify = enabled
	}

	for name, value := range map[string]string{
		envGitHubAPIURL:    cfg.GitHubAPIURL,
		envSlackWebhookURL: cfg.SlackWebhookURL,
		envWebhookURL:      cfg.WebhookURL,
	} {
		if value == "" {
			continue
		}
		if err := validateURL(value, name); err != nil {
			return Config{}, err
		}
	}
	if cfg.WebhookTemplate != "" && cfg.WebhookURL == "" {
		return Config{}, fmt.Errorf("%s requires %s", envWebhookTemplate, envWebhookURL)
	}

	return cfg, nil
}

func durationFromEnv(key string, fallback time.Duration, allowZero bool) (time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 || (parsed == 0 && !allowZero) {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return parsed, nil
}

func portFromEnv(key string, fallback int) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be between 0 and 65535", key)
	}
	return port, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid %s: scheme must be http or https", name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
