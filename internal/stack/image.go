package stack

import "strings"

// NormalizeImage reduces an image reference to the form compose prints for it:
// the @sha256 digest suffix and the implicit Docker Hub registry prefix are dropped.
//
//   - "nginx:1.23@sha256:abc..." → "nginx:1.23"
//   - "docker.io/library/redis:7" → "redis:7"
//   - "docker.io/acme/gateway:r48" → "acme/gateway:r48"
//   - "ghcr.io/acme/gateway:r48" → unchanged
func NormalizeImage(image string) string {
	if idx := strings.Index(image, "@sha256:"); idx != -1 {
		image = image[:idx]
	}
	image = strings.TrimPrefix(image, "docker.io/library/")
	return strings.TrimPrefix(image, "docker.io/")
}
