package store

import (
	"encoding/json"
	"time"
)

// Document is one row of the key/value store. The backend offers whole-row
// replacement only: no transactions spanning keys, no version tokens.
type Document struct {
	Key               string          `json:"key"`
	Value             json.RawMessage `json:"value"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	UpdatedByClientID string          `json:"updatedByClientId,omitempty"`
}

// UpdatedAtMillis is the wire representation used by sync pull cursors.
func (d Document) UpdatedAtMillis() int64 {
	return d.UpdatedAt.UnixMilli()
}
