package webhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// auditor appends endpoint log entries. A failed append never undoes the
// operation it describes; it is reported at error level instead.
type auditor struct {
	logs   LogWriter
	clock  Clock
	logger zerolog.Logger
}

func (a auditor) record(ctx context.Context, endpointID string, action Action, outcome Outcome, detail any) {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = []byte("null")
	}

	entry := LogEntry{
		ID:         uuid.New().String(),
		EndpointID: endpointID,
		Action:     action,
		Outcome:    outcome,
		Detail:     Sanitize(raw),
		CreatedAt:  a.clock.Now(),
	}

	if err := a.logs.AppendLog(ctx, entry); err != nil {
		a.logger.Error().Err(err).
			Str("endpoint_id", endpointID).
			Str("action", action.String()).
			Msg("appending endpoint log entry")
	}
}
