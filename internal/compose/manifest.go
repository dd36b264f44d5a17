package compose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
)

// DefaultFile is the manifest name used when a stack does not configure one.
const DefaultFile = "docker-compose.yml"

// ErrManifestNotFound is returned when the service manifest does not exist.
var ErrManifestNotFound = errors.New("service manifest not found")

// Manifest is the loaded service manifest of a stack.
type Manifest struct {
	Path        string
	Fingerprint string
	Services    []Service
}

// Service captures the fields of a manifest service relevant to updates.
type Service struct {
	Name  string
	Image string
	// Buildable is true when the service declares a build section and can
	// therefore be produced from source when no prebuilt image exists.
	Buildable bool
}

// ServiceNames returns the sorted service names.
func (m Manifest) ServiceNames() []string {
	names := make([]string, 0, len(m.Services))
	for _, service := range m.Services {
		names = append(names, service.Name)
	}
	return names
}

// Resolve returns the absolute manifest path for file within dir.
func Resolve(dir, file string) string {
	if file == "" {
		file = DefaultFile
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

// Stat checks that the manifest exists and returns its fingerprint.
func Stat(dir, file string) (string, error) {
	path := Resolve(dir, file)
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return "", fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Fingerprint(body)
}

// Load reads and validates the manifest at dir/file.
func Load(ctx context.Context, dir, file, project string) (Manifest, error) {
	path := Resolve(dir, file)
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}

	fingerprint, err := Fingerprint(body)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}

	services, err := parseServices(ctx, filepath.Dir(path), filepath.Base(path), project, body)
	if err != nil {
		return Manifest{}, err
	}

	return Manifest{
		Path:        path,
		Fingerprint: fingerprint,
		Services:    services,
	}, nil
}

func parseServices(ctx context.Context, workingDir, filename, projectName string, body []byte) ([]Service, error) {
	details := types.ConfigDetails{
		WorkingDir: workingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: filename,
				Content:  body,
			},
		},
		Environment: types.NewMapping(os.Environ()),
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		if projectName != "" {
			opts.SetProjectName(projectName, true)
		} else {
			opts.SetProjectName(loader.NormalizeProjectName(filepath.Base(workingDir)), false)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("load compose: %w", err)
	}
	if len(project.Services) == 0 {
		return nil, errors.New("compose has no services")
	}

	services := make([]Service, 0, len(project.Services))
	for name, service := range project.Services {
		buildable := service.Build != nil
		if service.Image == "" && !buildable {
			return nil, fmt.Errorf("service %q has neither image nor build", name)
		}
		services = append(services, Service{
			Name:      name,
			Image:     service.Image,
			Buildable: buildable,
		})
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Name < services[j].Name
	})

	return services, nil
}

// Fingerprint computes a SHA-256 hash for the given compose bytes.
func Fingerprint(body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("compose body is empty")
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
