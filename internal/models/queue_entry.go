package models

import (
	"encoding/json"
)

type Method string

const (
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// QueueEntry is one pending mutation. It is never modified after insert.
type QueueEntry struct {
	ID        int64           `json:"id"`
	Endpoint  string          `json:"endpoint"`
	Method    Method          `json:"method"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
}
