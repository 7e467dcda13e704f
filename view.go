package opgate

import (
	"fmt"
	"math"
	"time"
)

// View projection: pure, stateless mappings from raw state to
// presentation-ready values. No network, no mutable state.

// ComputeProgress returns round(100 * completed / total) for a step
// collection. An empty collection is 0. The result is insensitive to
// step order.
func ComputeProgress(steps []ResearchStep) int {
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, s := range steps {
		if s.State == StepCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(steps))))
}

// Label returns the human-readable label for a session state.
func (s SessionState) Label() string {
	switch s {
	case SessionPlanning:
		return "Planning"
	case SessionResearching:
		return "Researching"
	case SessionSynthesizing:
		return "Synthesizing"
	case SessionCompleted:
		return "Completed"
	case SessionFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Icon returns the icon name for a session state.
func (s SessionState) Icon() string {
	switch s {
	case SessionPlanning:
		return "clipboard"
	case SessionResearching:
		return "search"
	case SessionSynthesizing:
		return "flask"
	case SessionCompleted:
		return "check"
	case SessionFailed:
		return "cross"
	default:
		return "question"
	}
}

// Label returns the human-readable label for a step state.
func (s StepState) Label() string {
	switch s {
	case StepPending:
		return "Pending"
	case StepInProgress:
		return "In progress"
	case StepCompleted:
		return "Completed"
	case StepFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Icon returns the icon name for a step state.
func (s StepState) Icon() string {
	switch s {
	case StepPending:
		return "circle"
	case StepInProgress:
		return "spinner"
	case StepCompleted:
		return "check"
	case StepFailed:
		return "cross"
	default:
		return "question"
	}
}

// Label returns the human-readable label for a step type.
func (t StepType) Label() string {
	switch t {
	case StepTypeSearch:
		return "Web search"
	case StepTypeFetch:
		return "Fetch source"
	case StepTypeAnalysis:
		return "Analysis"
	case StepTypeSynthesis:
		return "Synthesis"
	default:
		return "Step"
	}
}

// Icon returns the icon name for a step type.
func (t StepType) Icon() string {
	switch t {
	case StepTypeSearch:
		return "globe"
	case StepTypeFetch:
		return "download"
	case StepTypeAnalysis:
		return "chart"
	case StepTypeSynthesis:
		return "document"
	default:
		return "dot"
	}
}

// Label returns the human-readable label for a reservation state.
func (s ReservationState) Label() string {
	switch s {
	case ReservationPending:
		return "Awaiting confirmation"
	case ReservationApproved:
		return "Approved"
	case ReservationRejected:
		return "Cancelled"
	case ReservationExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// ArtifactTypeLabel maps an artifact type tag to a display label.
func ArtifactTypeLabel(artifactType string) string {
	switch artifactType {
	case "deployment":
		return "Deployment"
	case "repository":
		return "Repository"
	case "file":
		return "File"
	default:
		return "Artifact"
	}
}

// ConfidencePercent converts a confidence in [0,1] to a whole
// percentage, clamping out-of-range input.
func ConfidencePercent(confidence float64) int {
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return 100
	}
	return int(math.Round(confidence * 100))
}

// FormatDuration renders a duration as "Ns" under a minute, otherwise
// "Mm Ss". Negative durations render as "0s".
func FormatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 0 {
		secs = 0
	}
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// FormatCountdown renders remaining time for a deadline. Zero or
// negative remaining renders as "Expired"; the text never shows a
// negative duration.
func FormatCountdown(remaining time.Duration) string {
	if remaining <= 0 {
		return "Expired"
	}
	return FormatDuration(remaining)
}
