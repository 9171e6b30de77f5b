// Package tasks runs long ride-data jobs with non-blocking progress reporting.
//
// # Bulk history export
//
// [ExportEngine.BulkExport] writes the recorded location history of many rides at once:
//
//  1. A producer reads each ride's track points from a [TrackSource], paced by a rate limiter so a
//     live server sharing the sqlite file keeps its write slot
//  2. A pool of workers renders each history with the formatter package and writes one file per ride
//  3. An export_manifest.json summarizing every ride (files, points, errors) is written last
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
