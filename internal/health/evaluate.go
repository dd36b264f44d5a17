package health

import (
	"fmt"
	"sort"

	"github.com/nholik/stack-updater/internal/compose"
	"github.com/nholik/stack-updater/internal/stack"
)

// Evaluate groups container statuses per service and computes the snapshot.
// Manifest services with no container at all count as one expected, stopped
// container so that a service that never came up still weighs on the threshold.
func Evaluate(expected []compose.Service, containers []stack.ContainerStatus) Snapshot {
	byService := make(map[string]*ServiceState)
	images := make(map[string]string, len(expected))
	for _, service := range expected {
		images[service.Name] = service.Image
	}

	for _, c := range containers {
		name := c.Service
		if name == "" {
			name = c.Name
		}
		state, ok := byService[name]
		if !ok {
			state = &ServiceState{Name: name, Image: stack.NormalizeImage(c.Image)}
			byService[name] = state
		}
		state.Total++
		if c.Running() {
			state.Running++
		} else {
			state.Reasons = append(state.Reasons, containerReason(c))
		}
	}

	for _, service := range expected {
		if _, ok := byService[service.Name]; ok {
			continue
		}
		byService[service.Name] = &ServiceState{
			Name:    service.Name,
			Total:   1,
			Reasons: []string{"missing service"},
		}
	}

	snapshot := Snapshot{
		Status:   StatusOK,
		Source:   SourcePS,
		Services: make([]ServiceState, 0, len(byService)),
	}
	for name, state := range byService {
		state.Status = serviceStatus(*state)
		if want, ok := images[name]; ok && want != "" && state.Image != "" {
			if desired := stack.NormalizeImage(want); desired != state.Image {
				state.Status = worsenStatus(state.Status, StatusDegraded)
				state.Reasons = append(state.Reasons, fmt.Sprintf("image mismatch: want %s got %s", desired, state.Image))
			}
		}
		snapshot.Running += state.Running
		snapshot.Total += state.Total
		snapshot.Status = worsenStatus(snapshot.Status, state.Status)
		snapshot.Services = append(snapshot.Services, *state)
	}
	sort.Slice(snapshot.Services, func(i, j int) bool {
		return snapshot.Services[i].Name < snapshot.Services[j].Name
	})

	switch {
	case !snapshot.Healthy():
		snapshot.Status = StatusFailed
	case snapshot.Status != StatusOK:
		// Individual failures within tolerance leave the stack degraded, not failed.
		snapshot.Status = StatusDegraded
	}
	return snapshot
}

// FromCounts builds a snapshot from the two counting queries.
func FromCounts(running, total int) Snapshot {
	snapshot := Snapshot{
		Running: running,
		Total:   total,
		Status:  StatusOK,
		Source:  SourceCounts,
	}
	switch {
	case !Healthy(running, total):
		snapshot.Status = StatusFailed
	case running < total:
		snapshot.Status = StatusDegraded
	}
	return snapshot
}

func serviceStatus(state ServiceState) ServiceStatus {
	switch {
	case state.Running == 0:
		return StatusFailed
	case state.Running < state.Total:
		return StatusDegraded
	default:
		return StatusOK
	}
}

func containerReason(c stack.ContainerStatus) string {
	if c.Health != "" {
		return fmt.Sprintf("%s is %s (%s)", c.Name, c.State, c.Health)
	}
	return fmt.Sprintf("%s is %s", c.Name, c.State)
}

func worsenStatus(current, next ServiceStatus) ServiceStatus {
	if severity(next) > severity(current) {
		return next
	}
	return current
}

func severity(status ServiceStatus) int {
	switch status {
	case StatusFailed:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
