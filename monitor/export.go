package monitor

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

// Format selects the export encoding
type Format int

const (
	FormatJSON Format = iota + 1
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// NewFormat parses a format name. Unknown values yield the zero Format.
func NewFormat(str string) Format {
	switch strings.ToLower(str) {
	case "", "json":
		return FormatJSON
	case "csv":
		return FormatCSV
	default:
		return 0
	}
}

func (f Format) Validate() error {
	if f < FormatJSON || f > FormatCSV {
		return &webhook.ValidationError{Field: "format", Reason: "must be json or csv"}
	}
	return nil
}

// ContentType is the MIME type of the encoded export
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// ExportFilter selects the events to export. Zero fields do not filter.
type ExportFilter struct {
	EndpointID string
	Status     webhook.Status
	From       time.Time
	To         time.Time
}

// ExportRecord is one exported event. The payload is always sanitized.
type ExportRecord struct {
	ID            string          `json:"id"`
	EndpointID    string          `json:"endpoint_id"`
	EventType     string          `json:"event_type"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at"`
}

var csvHeader = []string{
	"id",
	"endpoint_id",
	"event_type",
	"status",
	"attempts",
	"payload",
	"created_at",
	"updated_at",
	"last_attempt_at",
}

// Export writes the selected events to w
func (m *Monitor) Export(ctx context.Context, w io.Writer, format Format, f ExportFilter) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return &webhook.ValidationError{Field: "range", Reason: "from must be before to"}
	}

	events, err := m.store.ListEvents(ctx, webhook.EventFilter{
		EndpointID: f.EndpointID,
		Status:     f.Status,
		From:       f.From,
		To:         f.To,
	})
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}

	records := make([]ExportRecord, 0, len(events))
	for _, e := range events {
		records = append(records, ExportRecord{
			ID:            e.ID,
			EndpointID:    e.EndpointID,
			EventType:     string(e.Type),
			Status:        e.Status.String(),
			Attempts:      e.Attempts,
			Payload:       webhook.Sanitize(e.Payload),
			CreatedAt:     e.CreatedAt,
			UpdatedAt:     e.UpdatedAt,
			LastAttemptAt: e.LastAttemptAt,
		})
	}

	switch format {
	case FormatCSV:
		return exportCSV(w, records)
	default:
		return exportJSON(w, records)
	}
}

func exportJSON(w io.Writer, records []ExportRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}
	return nil
}

func exportCSV(w io.Writer, records []ExportRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	for _, r := range records {
		row := []string{
			r.ID,
			r.EndpointID,
			r.EventType,
			r.Status,
			strconv.Itoa(r.Attempts),
			string(r.Payload),
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
			formatTimePtr(r.LastAttemptAt),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// formatTimePtr returns an empty string for nil
func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
