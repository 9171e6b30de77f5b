// package formatter provides functions to export ride data to various formats (CSV, Markdown, JSON, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ridex/internal/geo"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/desertthunder/ridex/internal/roster"
)

// Format names an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Formats lists the supported formats in help order.
var Formats = []Format{FormatText, FormatCSV, FormatMarkdown, FormatJSON}

// ParseFormat normalizes s into a [Format]. The empty string means text; "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case "md":
		return FormatMarkdown, nil
	case FormatText, FormatCSV, FormatMarkdown, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, csv, markdown or json)", s)
	}
}

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatMarkdown:
		return "md"
	case FormatJSON:
		return "json"
	default:
		return "txt"
	}
}

// RosterExport is a snapshot of a ride's riders.
type RosterExport struct {
	RideID string         `json:"ride_id"`
	Riders []models.Rider `json:"riders"`
}

// TrackExport is the recorded location history of a ride.
type TrackExport struct {
	RideID string              `json:"ride_id"`
	Points []models.TrackPoint `json:"points"`
}

// RiderSummary aggregates one rider's points in a [TrackExport].
type RiderSummary struct {
	SessionID string
	Username  string
	Points    int
	Meters    float64
	First     time.Time
	Last      time.Time
}

// Summaries groups points by session in order of first appearance, summing the distance between consecutive points.
func (e *TrackExport) Summaries() []RiderSummary {
	var (
		order []string
		byID  = map[string]*RiderSummary{}
		last  = map[string]models.Location{}
	)

	for _, p := range e.Points {
		s, ok := byID[p.SessionID]
		if !ok {
			s = &RiderSummary{SessionID: p.SessionID, Username: p.Username, First: p.RecordedAt}
			byID[p.SessionID] = s
			order = append(order, p.SessionID)
		} else {
			s.Meters += geo.Distance(last[p.SessionID], p.Location)
		}
		last[p.SessionID] = p.Location
		s.Points++
		s.Last = p.RecordedAt
	}

	summaries := make([]RiderSummary, 0, len(order))
	for _, id := range order {
		summaries = append(summaries, *byID[id])
	}
	return summaries
}

// Roster renders a roster in format.
func Roster(export *RosterExport, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return RosterToCSV(export)
	case FormatMarkdown:
		return RosterToMarkdown(export)
	case FormatJSON:
		return toJSON(export)
	default:
		return RosterToText(export)
	}
}

// Track renders a location history in format.
func Track(export *TrackExport, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return TrackToCSV(export)
	case FormatMarkdown:
		return TrackToMarkdown(export)
	case FormatJSON:
		return toJSON(export)
	default:
		return TrackToText(export)
	}
}

// RosterToCSV converts a RosterExport to CSV format with columns: Session ID, Username, Lat, Lng, Accuracy
func RosterToCSV(export *RosterExport) ([]byte, error) {
	rows := make([][]string, 0, len(export.Riders))
	for _, r := range export.Riders {
		lat, lng, acc := "", "", ""
		if r.Location != nil {
			lat, lng, acc = coord(r.Location.Lat), coord(r.Location.Lng), accuracy(r.Location)
		}
		rows = append(rows, []string{r.SessionID, r.Username, lat, lng, acc})
	}
	return writeCSV([]string{"Session ID", "Username", "Lat", "Lng", "Accuracy"}, rows)
}

// RosterToMarkdown converts a RosterExport to a Markdown table
func RosterToMarkdown(export *RosterExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# Ride %s\n\n", export.RideID))
	buf.WriteString(fmt.Sprintf("**Riders**: %d\n\n", len(export.Riders)))

	buf.WriteString("| Rider | Location |\n")
	buf.WriteString("| --- | --- |\n")
	for _, r := range export.Riders {
		buf.WriteString(fmt.Sprintf("| %s | %s |\n", escapeCell(r.Username), location(r)))
	}

	return buf.Bytes(), nil
}

// RosterToText converts a RosterExport to plain text format
func RosterToText(export *RosterExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Ride: %s\n", export.RideID))
	buf.WriteString(fmt.Sprintf("Riders: %d\n\n", len(export.Riders)))

	for i, r := range export.Riders {
		buf.WriteString(fmt.Sprintf("%d. %s - %s\n", i+1, r.Username, location(r)))
	}

	return buf.Bytes(), nil
}

// TrackToCSV converts a TrackExport to CSV format with columns: Time, Session ID, Username, Lat, Lng, Accuracy
func TrackToCSV(export *TrackExport) ([]byte, error) {
	rows := make([][]string, 0, len(export.Points))
	for _, p := range export.Points {
		rows = append(rows, []string{
			p.RecordedAt.UTC().Format(time.RFC3339),
			p.SessionID,
			p.Username,
			coord(p.Location.Lat),
			coord(p.Location.Lng),
			accuracy(&p.Location),
		})
	}
	return writeCSV([]string{"Time", "Session ID", "Username", "Lat", "Lng", "Accuracy"}, rows)
}

// TrackToMarkdown converts a TrackExport to Markdown with a per-rider summary and the point list
func TrackToMarkdown(export *TrackExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# Ride %s history\n\n", export.RideID))
	buf.WriteString(fmt.Sprintf("**Points**: %d\n\n", len(export.Points)))

	buf.WriteString("## Riders\n\n")
	buf.WriteString("| Rider | Points | Distance | Duration |\n")
	buf.WriteString("| --- | --- | --- | --- |\n")
	for _, s := range export.Summaries() {
		buf.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n",
			escapeCell(s.Username), s.Points, FormatDistance(s.Meters), s.Last.Sub(s.First).Round(time.Second)))
	}

	buf.WriteString("\n## Points\n\n")
	for i, p := range export.Points {
		buf.WriteString(fmt.Sprintf("%d. %s %s (%s)\n", i+1, p.RecordedAt.UTC().Format(time.TimeOnly), p.Username, p.Location))
	}

	return buf.Bytes(), nil
}

// TrackToText converts a TrackExport to a plain text summary
func TrackToText(export *TrackExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Ride: %s\n", export.RideID))
	buf.WriteString(fmt.Sprintf("Points: %d\n\n", len(export.Points)))

	for i, s := range export.Summaries() {
		buf.WriteString(fmt.Sprintf("%d. %s - %d points, %s\n", i+1, s.Username, s.Points, FormatDistance(s.Meters)))
	}

	return buf.Bytes(), nil
}

// FormatDistance renders metres as "850 m" or "12.34 km"
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// WriteTrackExport writes a history export to path.
//
// Defaults to {ride_id}_history.{ext} as the filename.
func WriteTrackExport(export *TrackExport, format Format, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_history.%s", export.RideID, format.Ext())
	}

	data, err := Track(export, format)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}

func writeCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func toJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

func location(r models.Rider) string {
	if r.Location == nil {
		return roster.LocationUnavailable
	}
	return r.Location.String()
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

func accuracy(l *models.Location) string {
	if l.Accuracy == nil {
		return ""
	}
	return strconv.FormatFloat(*l.Accuracy, 'f', 1, 64)
}

func escapeCell(s string) string { return strings.ReplaceAll(s, "|", `\|`) }
