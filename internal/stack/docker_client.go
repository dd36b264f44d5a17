package stack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/tlsconfig"
)

const (
	defaultAPITimeout = 5 * time.Second
	// pruneTimeout bounds the whole system prune; build cache pruning can be slow.
	pruneTimeout = 5 * time.Minute

	projectLabel = "com.docker.compose.project"
)

// dockerAPI defines the subset of Docker client operations used by DockerClient.
// Tests inject a mock in place of *client.Client.
type dockerAPI interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]dockertypes.Container, error)
	ContainersPrune(ctx context.Context, pruneFilters filters.Args) (dockertypes.ContainersPruneReport, error)
	ImagesPrune(ctx context.Context, pruneFilters filters.Args) (dockertypes.ImagesPruneReport, error)
	NetworksPrune(ctx context.Context, pruneFilters filters.Args) (dockertypes.NetworksPruneReport, error)
	BuildCachePrune(ctx context.Context, opts dockertypes.BuildCachePruneOptions) (*dockertypes.BuildCachePruneReport, error)
	Close() error
}

var _ dockerAPI = (*client.Client)(nil)

// PruneReport summarizes a system-wide prune.
type PruneReport struct {
	ContainersDeleted int    `json:"containersDeleted"`
	ImagesDeleted     int    `json:"imagesDeleted"`
	NetworksDeleted   int    `json:"networksDeleted"`
	CachesDeleted     int    `json:"cachesDeleted"`
	SpaceReclaimed    uint64 `json:"spaceReclaimed"`
}

// DockerClient talks to the Docker Engine API for the operations that have a
// structured endpoint: connectivity checks, pruning and container counting.
type DockerClient struct {
	api     dockerAPI
	timeout time.Duration
}

// DockerOptions configures NewDockerClient.
type DockerOptions struct {
	// Host is the daemon address; empty uses DOCKER_HOST or the default socket.
	Host string
	// TLSDir holds ca.pem, cert.pem and key.pem for a TLS-protected daemon.
	TLSDir  string
	Timeout time.Duration
}

// NewDockerClient initializes a Docker client for the given API host.
func NewDockerClient(opts DockerOptions) (*DockerClient, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.TLSDir != "" {
		tlsConfig, err := tlsconfig.Client(tlsconfig.Options{
			CAFile:   filepath.Join(opts.TLSDir, "ca.pem"),
			CertFile: filepath.Join(opts.TLSDir, "cert.pem"),
			KeyFile:  filepath.Join(opts.TLSDir, "key.pem"),
		})
		if err != nil {
			return nil, fmt.Errorf("loading docker TLS material from %s: %w", opts.TLSDir, err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	clientOpts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(&http.Client{Transport: transport}),
	}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}

	api, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, err
	}

	return &DockerClient{
		api:     api,
		timeout: timeout,
	}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *DockerClient) Ping(ctx context.Context) error {
	if c == nil || c.api == nil {
		return errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.Ping(ctx)
	return err
}

// Prune removes stopped containers, dangling images, unused networks and the
// build cache. Each step runs even when an earlier one fails; the errors are joined.
func (c *DockerClient) Prune(ctx context.Context) (PruneReport, error) {
	if c == nil || c.api == nil {
		return PruneReport{}, errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	var (
		report PruneReport
		errs   []error
	)

	containers, err := c.api.ContainersPrune(ctx, filters.NewArgs())
	if err != nil {
		errs = append(errs, fmt.Errorf("prune containers: %w", err))
	} else {
		report.ContainersDeleted = len(containers.ContainersDeleted)
		report.SpaceReclaimed += containers.SpaceReclaimed
	}

	images, err := c.api.ImagesPrune(ctx, filters.NewArgs(filters.Arg("dangling", "true")))
	if err != nil {
		errs = append(errs, fmt.Errorf("prune images: %w", err))
	} else {
		report.ImagesDeleted = len(images.ImagesDeleted)
		report.SpaceReclaimed += images.SpaceReclaimed
	}

	networks, err := c.api.NetworksPrune(ctx, filters.NewArgs())
	if err != nil {
		errs = append(errs, fmt.Errorf("prune networks: %w", err))
	} else {
		report.NetworksDeleted = len(networks.NetworksDeleted)
	}

	cache, err := c.api.BuildCachePrune(ctx, dockertypes.BuildCachePruneOptions{})
	if err != nil {
		errs = append(errs, fmt.Errorf("prune build cache: %w", err))
	} else if cache != nil {
		report.CachesDeleted = len(cache.CachesDeleted)
		report.SpaceReclaimed += cache.SpaceReclaimed
	}

	return report, errors.Join(errs...)
}

// CountContainers returns the total and running container counts for a compose project.
func (c *DockerClient) CountContainers(ctx context.Context, project string) (running, total int, err error) {
	if c == nil || c.api == nil {
		return 0, 0, errors.New("docker client is not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	label := filters.Arg("label", projectLabel+"="+project)

	all, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(label),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("listing project containers: %w", err)
	}

	up, err := c.api.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(label, filters.Arg("status", "running")),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("listing running project containers: %w", err)
	}

	return len(up), len(all), nil
}

// Close releases resources associated with the client.
func (c *DockerClient) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}
