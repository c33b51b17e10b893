package repositories

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prudhvinik1/pharmasync/internal/models"
)

// SchemaVersion is the queue schema version this build writes. Both backends
// keep one migration per version.
const SchemaVersion = 2

// newEntry validates the input and builds an entry without an ID.
func newEntry(endpoint string, method models.Method, payload any, now time.Time) (*models.QueueEntry, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidEntry)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidEntry, method)
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		if len(p) == 0 {
			break
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEntry)
		}
		raw = append(json.RawMessage(nil), p...)
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to marshal payload: %v", ErrInvalidEntry, err)
		}
		raw = data
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	return &models.QueueEntry{
		Endpoint:  endpoint,
		Method:    method,
		Payload:   raw,
		Timestamp: now.UnixMilli(),
	}, nil
}
