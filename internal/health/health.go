package health

// ServiceStatus represents the health of a service.
type ServiceStatus string

const (
	StatusOK       ServiceStatus = "OK"
	StatusDegraded ServiceStatus = "DEGRADED"
	StatusFailed   ServiceStatus = "FAILED"
)

// Snapshot sources.
const (
	SourcePS     = "ps"
	SourceCounts = "counts"
)

// ServiceState captures the sampled state of one manifest service.
type ServiceState struct {
	Name    string        `json:"name"`
	Status  ServiceStatus `json:"status"`
	Running int           `json:"running"`
	Total   int           `json:"total"`
	Image   string        `json:"image,omitempty"`
	Reasons []string      `json:"reasons,omitempty"`
}

// Snapshot is the post-restart state of a stack. Services is empty when the
// snapshot came from the counting fallback.
type Snapshot struct {
	Running  int            `json:"running"`
	Total    int            `json:"total"`
	Status   ServiceStatus  `json:"status"`
	Source   string         `json:"source"`
	Services []ServiceState `json:"services,omitempty"`
}

// Healthy reports whether running meets the 80% threshold of total with at
// least one running container. Integer arithmetic keeps the boundary exact.
func Healthy(running, total int) bool {
	return running > 0 && running*5 >= total*4
}

// Healthy reports whether the snapshot meets the threshold.
func (s Snapshot) Healthy() bool {
	return Healthy(s.Running, s.Total)
}

// Fraction returns running/total, or 0 for an empty stack.
func (s Snapshot) Fraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Running) / float64(s.Total)
}
