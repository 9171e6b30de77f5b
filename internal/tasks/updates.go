package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchHistory Phase = iota
	ExportHistory
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case FetchHistory:
		return "fetch_history"
	case ExportHistory:
		return "export_history"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

func fetchingHistoryUpdate(step, total int, rideID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Reading history of %s...", step, total, rideID),
	}
}

func exportCompletedUpdate(step, total int, res RideExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d points)", step, total, res.RideID, res.Points),
		Data:    res,
	}
}

func exportFailedUpdate(step, total int, res RideExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.RideID, res.Error),
		Data:    res,
	}
}

func manifestUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Manifest written to %s", path),
	}
}
