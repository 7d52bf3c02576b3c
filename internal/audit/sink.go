// Package audit provides the best-effort side-effect logs appended after each
// successful assignment transition: an audit trail per shift table and a
// notification feed per user. Both are bounded Redis lists with a retention
// TTL; a sink failure must never fail the primary mutation.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	auditPrefix  = "audit:"
	notifyPrefix = "notify:"
)

// Event is one audit trail row.
type Event struct {
	Type         string `json:"type"` // assign | confirm | reassign | delete
	ShiftKey     string `json:"shiftKey"`
	Actor        string `json:"actor"`
	AssignmentID string `json:"assignmentId"`
	CaseNo       string `json:"caseNo,omitempty"`
	AssigneeID   string `json:"assigneeId,omitempty"`
	At           int64  `json:"at"`
}

// Notification is one user-facing feed row.
type Notification struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	ShiftKey     string `json:"shiftKey"`
	AssignmentID string `json:"assignmentId,omitempty"`
	At           int64  `json:"at"`
}

type Sink struct {
	client   *redis.Client
	maxItems int64
	ttl      time.Duration
}

func NewSink(redisURL string, maxItems int, ttl time.Duration) (*Sink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewSinkWithClient(client, maxItems, ttl), nil
}

func NewSinkWithClient(client *redis.Client, maxItems int, ttl time.Duration) *Sink {
	if maxItems <= 0 {
		maxItems = 500
	}
	return &Sink{client: client, maxItems: int64(maxItems), ttl: ttl}
}

func (s *Sink) AppendAudit(ctx context.Context, ev Event) error {
	return s.push(ctx, auditPrefix+ev.ShiftKey, ev)
}

func (s *Sink) AppendNotification(ctx context.Context, userID string, n Notification) error {
	return s.push(ctx, notifyPrefix+userID, n)
}

func (s *Sink) push(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal sink entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.maxItems-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return nil
}

// RecentAudit returns the newest events first, capped at limit.
func (s *Sink) RecentAudit(ctx context.Context, shiftKey string, limit int) ([]Event, error) {
	raw, err := s.rangeOf(ctx, auditPrefix+shiftKey, limit)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Notifications returns a user's feed, newest first, capped at limit.
func (s *Sink) Notifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	raw, err := s.rangeOf(ctx, notifyPrefix+userID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]Notification, 0, len(raw))
	for _, item := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			continue
		}
		items = append(items, n)
	}
	return items, nil
}

func (s *Sink) rangeOf(ctx context.Context, key string, limit int) ([]string, error) {
	if limit <= 0 || int64(limit) > s.maxItems {
		limit = int(s.maxItems)
	}
	raw, err := s.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return raw, nil
}

func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Sink) Close() error {
	return s.client.Close()
}
