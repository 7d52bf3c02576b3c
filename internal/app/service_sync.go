package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"shiftdesk/api/internal/merge"
	"shiftdesk/api/internal/rbac"
	"shiftdesk/api/internal/store"
	"shiftdesk/api/internal/util"
)

type PushInput struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Op         string          `json:"op"`
	RemovedIDs []string        `json:"removedIds"`
	ClientID   string          `json:"clientId"`
}

// Push writes one document through the sync gateway: whole-row set, or an
// identity merge for collaborative list/object documents.
func (s *Service) Push(ctx context.Context, session Session, in PushInput) (map[string]any, error) {
	key := strings.TrimSpace(in.Key)
	if !rbac.KnownKey(key) {
		return nil, domainError(http.StatusBadRequest, "INVALID_KEY", "unknown document key", map[string]any{"key": key})
	}
	if !rbac.CanWriteKey(session.Role, key) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN_KEY", "key not writable for role", map[string]any{"key": key})
	}

	op := in.Op
	if op == "" {
		op = "set"
	}
	if op != "set" && op != "merge" {
		return nil, errValidation("op must be \"set\" or \"merge\"")
	}
	if len(in.Value) == 0 || !json.Valid(in.Value) {
		return nil, errValidation("value must be valid JSON")
	}

	next := in.Value
	if op == "merge" {
		merged, err := s.mergeIntoCurrent(ctx, key, in.Value, in.RemovedIDs)
		if err != nil {
			return nil, err
		}
		next = merged
	}

	if _, err := s.store.PutDocument(ctx, key, next, strings.TrimSpace(in.ClientID)); err != nil {
		return nil, errStore(err)
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) mergeIntoCurrent(ctx context.Context, key string, value json.RawMessage, removedIDs []string) (json.RawMessage, error) {
	var incoming any
	if err := json.Unmarshal(value, &incoming); err != nil {
		return nil, errValidation("value must be valid JSON")
	}

	var existing any
	current, err := s.store.GetDocument(ctx, key)
	if err == nil {
		_ = json.Unmarshal(current.Value, &existing)
	} else if err != store.ErrNotFound {
		return nil, errStore(err)
	}

	var merged any
	switch in := incoming.(type) {
	case []any:
		base, _ := existing.([]any)
		merged = merge.Arrays(base, in, removedIDs)
	case map[string]any:
		base, _ := existing.(map[string]any)
		if base == nil {
			base = map[string]any{}
		}
		merged = merge.Objects(base, in)
	default:
		return nil, errValidation("merge requires an array or object value")
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, errStore(err)
	}
	return raw, nil
}

// Pull returns documents updated after the caller's cursor, oldest first,
// page-capped. Delivery is at-least-once: callers advance their cursor to
// serverNow and treat replays as idempotent replaces.
func (s *Service) Pull(ctx context.Context, sinceMillis int64) (map[string]any, error) {
	docs, err := s.store.ListDocumentsSince(ctx, util.FromMillis(sinceMillis), s.cfg.PullPageSize)
	if err != nil {
		return nil, errStore(err)
	}

	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, map[string]any{
			"key":               doc.Key,
			"value":             doc.Value,
			"updatedAt":         doc.UpdatedAtMillis(),
			"updatedByClientId": doc.UpdatedByClientID,
		})
	}
	return map[string]any{
		"serverNow": util.Millis(s.duty.Now()),
		"docs":      items,
	}, nil
}
