//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/nholik/stack-updater/internal/compose"
	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/logging"
	"github.com/nholik/stack-updater/internal/stack"
)

const testManifest = `services:
  web:
    image: nginx:alpine
`

// TestIntegrationComposeAndDocker brings a one-service project up with the
// compose CLI, verifies it and tears it down again.
//
// Prerequisites:
//   - Docker daemon running with the compose plugin
//
// Run with: go test -tags=integration -v ./test/integration/...
func TestIntegrationComposeAndDocker(t *testing.T) {
	if _, err := exec.LookPath(getEnv("TEST_COMPOSE_BINARY", "docker")); err != nil {
		t.Skipf("compose binary not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	docker, err := stack.NewDockerClient(stack.DockerOptions{Host: os.Getenv("TEST_DOCKER_HOST")})
	if err != nil {
		t.Fatalf("create docker client: %v", err)
	}
	defer docker.Close()

	if err := docker.Ping(ctx); err != nil {
		t.Skipf("docker daemon not reachable: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	project := "su-integration"
	logger := logging.New()

	t.Run("ManifestLoad", func(t *testing.T) {
		manifest, err := compose.Load(ctx, dir, "", project)
		if err != nil {
			t.Fatalf("load manifest: %v", err)
		}
		if len(manifest.Services) != 1 {
			t.Fatalf("expected one service, got %d", len(manifest.Services))
		}
	})

	cli := stack.NewCompose(dir, "", project, stack.WithBinary(getEnv("TEST_COMPOSE_BINARY", "docker")))
	t.Cleanup(func() {
		_, _ = cli.Down(context.Background())
	})

	t.Run("UpAndVerify", func(t *testing.T) {
		if out, err := cli.Up(ctx); err != nil {
			t.Fatalf("compose up: %v\n%s", err, out)
		}

		manifest, err := compose.Load(ctx, dir, "", project)
		if err != nil {
			t.Fatalf("load manifest: %v", err)
		}
		verifier := health.NewVerifier(logger, cli, project,
			health.WithExpectedServices(manifest.Services),
			health.WithSettleDelay(2*time.Second),
			health.WithCounter(docker),
		)
		snapshot, healthy, err := verifier.Verify(ctx)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if !healthy {
			t.Fatalf("expected healthy snapshot, got %+v", snapshot)
		}
	})

	t.Run("CountContainers", func(t *testing.T) {
		running, total, err := docker.CountContainers(ctx, project)
		if err != nil {
			t.Fatalf("count containers: %v", err)
		}
		if running != 1 || total != 1 {
			t.Fatalf("expected 1/1 containers, got %d/%d", running, total)
		}
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
