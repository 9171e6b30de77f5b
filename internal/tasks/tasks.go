// package tasks implements bulk operations over recorded ride data.
//
// Operations emit progress updates via channels for non-blocking status reporting to CLI/UI layers.
package tasks

import (
	"github.com/charmbracelet/log"
	"github.com/desertthunder/ridex/internal/models"
)

// TrackSource reads recorded location points. Implemented by repositories.TrackRepository.
type TrackSource interface {
	ListByRide(rideID string, limit int) ([]models.TrackPoint, error)
}

// RideExportResult is the outcome of exporting one ride.
type RideExportResult struct {
	RideID  string   `json:"ride_id"`
	Points  int      `json:"points"`
	Riders  int      `json:"riders"`
	Files   []string `json:"files"`
	Success bool     `json:"success"`
	Error   error    `json:"-"`
	Message string   `json:"error,omitempty"`
}

// BulkExportResult summarizes a [ExportEngine.BulkExport] run.
type BulkExportResult struct {
	TotalRides        int                `json:"total_rides"`
	SuccessfulExports int                `json:"successful_exports"`
	FailedExports     int                `json:"failed_exports"`
	Format            string             `json:"format"`
	OutputDirectory   string             `json:"output_directory"`
	ManifestPath      string             `json:"-"`
	Results           []RideExportResult `json:"results"`
}

// ExportEngine exports ride histories from a [TrackSource].
type ExportEngine struct {
	tracks TrackSource
	logger *log.Logger
}

// NewExportEngine creates an engine reading from tracks. A nil logger discards output.
func NewExportEngine(tracks TrackSource, logger *log.Logger) *ExportEngine {
	if logger == nil {
		logger = log.New(discard{})
	}
	return &ExportEngine{tracks: tracks, logger: logger}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *ExportEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
