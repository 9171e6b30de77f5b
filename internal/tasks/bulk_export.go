package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/ridex/internal/formatter"
	"github.com/desertthunder/ridex/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultWorkers = 4
	maxWorkers     = 10
	manifestName   = "export_manifest.json"
)

// BulkExportOpts contains configuration for bulk history exports.
type BulkExportOpts struct {
	Format     formatter.Format // Export format (default: text)
	OutputDir  string           // Base output directory (default: ride_export_{epoch})
	NumWorkers int              // Concurrent workers (default: 4, at most 10)
	RateLimit  float64          // Rides read per second; 0 means unlimited
	Limit      int              // Most recent points kept per ride; 0 keeps all
}

// historyJob carries one ride's points from the reader to a worker.
type historyJob struct {
	export *formatter.TrackExport
}

// BulkExport exports the histories of rideIDs concurrently and writes a manifest.
//
// Partial failures are reported per ride in the result; only setup and manifest errors fail the call.
func (e *ExportEngine) BulkExport(ctx context.Context, prog chan<- ProgressUpdate, rideIDs []string, opts BulkExportOpts) (*BulkExportResult, error) {
	if e.tracks == nil {
		return nil, fmt.Errorf("%w: track source not initialized", shared.ErrServiceUnavailable)
	}
	if len(rideIDs) == 0 {
		return nil, fmt.Errorf("%w: no rides to export", shared.ErrMissingArgument)
	}

	if opts.Format == "" {
		opts.Format = formatter.FormatText
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("ride_export_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultWorkers
	}
	opts.NumWorkers = min(opts.NumWorkers, maxWorkers, len(rideIDs))

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	result := &BulkExportResult{
		TotalRides:      len(rideIDs),
		Format:          string(opts.Format),
		OutputDirectory: opts.OutputDir,
		Results:         make([]RideExportResult, 0, len(rideIDs)),
	}

	jobs := make(chan historyJob, len(rideIDs))
	results := make(chan RideExportResult, len(rideIDs))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go e.exportWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, rideID := range rideIDs {
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			e.sendProgress(prog, fetchingHistoryUpdate(i+1, len(rideIDs), rideID))
			points, err := e.tracks.ListByRide(rideID, opts.Limit)
			if err != nil {
				results <- failed(rideID, fmt.Errorf("failed to read history: %w", err))
				continue
			}
			jobs <- historyJob{export: &formatter.TrackExport{RideID: rideID, Points: points}}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			e.sendProgress(prog, exportCompletedUpdate(completed, len(rideIDs), res))
		} else {
			result.FailedExports++
			e.logger.Warn("ride export failed", "ride", res.RideID, "error", res.Error)
			e.sendProgress(prog, exportFailedUpdate(completed, len(rideIDs), res))
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	sort.Slice(result.Results, func(i, j int) bool { return result.Results[i].RideID < result.Results[j].RideID })

	manifestPath := filepath.Join(opts.OutputDir, manifestName)
	if err := writeManifest(result, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	e.sendProgress(prog, manifestUpdate(manifestPath))
	return result, nil
}

// exportWorker is a worker goroutine that writes histories from the jobs channel.
func (e *ExportEngine) exportWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan historyJob, results chan<- RideExportResult, opts BulkExportOpts) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results <- e.exportSingleRide(job, opts)
	}
}

// exportSingleRide renders one history to {dir}/{ride}_history.{ext}.
func (e *ExportEngine) exportSingleRide(j historyJob, opts BulkExportOpts) RideExportResult {
	res := RideExportResult{
		RideID: j.export.RideID,
		Points: len(j.export.Points),
		Riders: len(j.export.Summaries()),
		Files:  []string{},
	}

	path := filepath.Join(opts.OutputDir, fmt.Sprintf("%s_history.%s", j.export.RideID, opts.Format.Ext()))
	written, err := formatter.WriteTrackExport(j.export, opts.Format, path)
	if err != nil {
		res.Error = err
		res.Message = err.Error()
		return res
	}

	res.Files = append(res.Files, written)
	res.Success = true
	return res
}

func failed(rideID string, err error) RideExportResult {
	return RideExportResult{RideID: rideID, Files: []string{}, Error: err, Message: err.Error()}
}

func writeManifest(result *BulkExportResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
