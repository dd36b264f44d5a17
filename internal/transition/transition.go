package transition

import (
	"sort"

	"github.com/nholik/stack-updater/internal/health"
)

// ContainerChange captures container count changes for a service between runs.
type ContainerChange struct {
	PreviousRunning int
	CurrentRunning  int
	PreviousTotal   int
	CurrentTotal    int
	RunningDelta    int
}

// ImageChange captures a service image moving between runs.
type ImageChange struct {
	Previous string
	Current  string
}

// ServiceTransition captures a status transition with details.
type ServiceTransition struct {
	Name            string
	PreviousStatus  health.ServiceStatus
	CurrentStatus   health.ServiceStatus
	Reasons         []string
	ContainerChange *ContainerChange
	ImageChange     *ImageChange
}

// Detect compares the snapshot from the previous update run with the current
// one. On the first run, and for services that did not exist before, only
// unhealthy services are reported. Snapshots from the counting fallback carry
// no services and yield no transitions.
func Detect(prev *health.Snapshot, current health.Snapshot) []ServiceTransition {
	prevServices := map[string]health.ServiceState{}
	if prev != nil {
		for _, service := range prev.Services {
			prevServices[service.Name] = service
		}
	}
	firstRun := len(prevServices) == 0

	transitions := make([]ServiceTransition, 0)
	for _, currentService := range current.Services {
		prevService, hadPrev := prevServices[currentService.Name]

		switch {
		case firstRun || !hadPrev:
			if currentService.Status == health.StatusOK {
				continue
			}
		case prevService.Status == currentService.Status:
			continue
		}

		transitions = append(transitions, ServiceTransition{
			Name:            currentService.Name,
			PreviousStatus:  prevService.Status,
			CurrentStatus:   currentService.Status,
			Reasons:         append([]string(nil), currentService.Reasons...),
			ContainerChange: buildContainerChange(prevService, currentService),
			ImageChange:     buildImageChange(prevService, currentService, hadPrev),
		})
	}

	sort.Slice(transitions, func(i, j int) bool {
		return transitions[i].Name < transitions[j].Name
	})

	return transitions
}

func buildContainerChange(prev, current health.ServiceState) *ContainerChange {
	if prev.Total == current.Total && prev.Running == current.Running {
		return nil
	}
	return &ContainerChange{
		PreviousRunning: prev.Running,
		CurrentRunning:  current.Running,
		PreviousTotal:   prev.Total,
		CurrentTotal:    current.Total,
		RunningDelta:    current.Running - prev.Running,
	}
}

func buildImageChange(prev, current health.ServiceState, hadPrev bool) *ImageChange {
	if !hadPrev || prev.Image == current.Image {
		return nil
	}
	return &ImageChange{
		Previous: prev.Image,
		Current:  current.Image,
	}
}
