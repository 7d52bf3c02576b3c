package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"shiftdesk/api/internal/audit"
	"shiftdesk/api/internal/auth"
	"shiftdesk/api/internal/config"
	"shiftdesk/api/internal/duty"
	"shiftdesk/api/internal/mailbox"
	"shiftdesk/api/internal/rbac"
	"shiftdesk/api/internal/search"
	"shiftdesk/api/internal/store"
)

// Session is the identity attached to a request, resolved from a bearer
// token minted by the external identity provider.
type Session struct {
	UserID   string
	UserName string
	Role     rbac.Role
	TeamID   string
	JTI      string
}

// dataStore is the key/value document backend: whole-row replace only, no
// transactions, no version tokens.
type dataStore interface {
	Ping(ctx context.Context) error
	GetDocument(ctx context.Context, key string) (store.Document, error)
	PutDocument(ctx context.Context, key string, value json.RawMessage, clientID string) (store.Document, error)
	ListDocumentsSince(ctx context.Context, since time.Time, limit int) ([]store.Document, error)
}

// auditSink receives best-effort side-effect rows after successful
// transitions. May be nil when Redis is not configured.
type auditSink interface {
	AppendAudit(ctx context.Context, ev audit.Event) error
	AppendNotification(ctx context.Context, userID string, n audit.Notification) error
	RecentAudit(ctx context.Context, shiftKey string, limit int) ([]audit.Event, error)
	Notifications(ctx context.Context, userID string, limit int) ([]audit.Notification, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	duty   *duty.Scheduler
	sink   auditSink
	search *search.Service
}

func New(cfg config.Config, dataStore dataStore, scheduler *duty.Scheduler) *Service {
	return &Service{cfg: cfg, store: dataStore, duty: scheduler}
}

func NewWithSinks(cfg config.Config, dataStore dataStore, scheduler *duty.Scheduler, sink auditSink, searchService *search.Service) *Service {
	service := New(cfg, dataStore, scheduler)
	service.sink = sink
	service.search = searchService
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:   claims.Sub,
		UserName: claims.Name,
		Role:     rbac.Normalize(claims.Role),
		TeamID:   claims.Team,
		JTI:      claims.JTI,
	}, nil
}

// Active reports the duty window live at this instant.
func (s *Service) Active(_ context.Context) map[string]any {
	window, onDuty := s.duty.ActiveWindow(s.duty.Now())
	if !onDuty {
		return map[string]any{"onDuty": false}
	}
	return map[string]any{
		"onDuty":           true,
		"teamId":           window.Team.ID,
		"bucketId":         window.Bucket.ID,
		"shiftKey":         window.ShiftKey,
		"secondsRemaining": window.SecondsRemaining,
	}
}

// TableByShiftKey reads a mailbox table for display, current or archived.
func (s *Service) TableByShiftKey(ctx context.Context, shiftKey string) (mailbox.Table, error) {
	return s.loadTable(ctx, rbac.KeyMailbox+shiftKey)
}

func (s *Service) loadTable(ctx context.Context, key string) (mailbox.Table, error) {
	doc, err := s.store.GetDocument(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mailbox.Table{}, err
		}
		return mailbox.Table{}, errStore(err)
	}
	var table mailbox.Table
	if err := json.Unmarshal(doc.Value, &table); err != nil {
		return mailbox.Table{}, domainError(500, "STORE_ERROR", "stored mailbox table is corrupt", map[string]any{"key": key})
	}
	return table, nil
}

// AuditTrail reads the audit log of one shift table, newest first.
func (s *Service) AuditTrail(ctx context.Context, shiftKey string, limit int) ([]audit.Event, error) {
	if s.sink == nil {
		return []audit.Event{}, nil
	}
	events, err := s.sink.RecentAudit(ctx, shiftKey, limit)
	if err != nil {
		return nil, errStore(err)
	}
	return events, nil
}

// UserNotifications reads the caller's notification feed, newest first.
func (s *Service) UserNotifications(ctx context.Context, session Session, limit int) ([]audit.Notification, error) {
	if s.sink == nil {
		return []audit.Notification{}, nil
	}
	items, err := s.sink.Notifications(ctx, session.UserID, limit)
	if err != nil {
		return nil, errStore(err)
	}
	return items, nil
}

// SearchCases runs a case search when search is configured.
func (s *Service) SearchCases(ctx context.Context, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Record{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit})
}

// ProtectedShiftKeys lists every team's current and previous shift keys; the
// archive janitor must never prune these.
func (s *Service) ProtectedShiftKeys() []string {
	now := s.duty.Now()
	keys := make([]string, 0)
	for _, team := range s.duty.Teams() {
		keys = append(keys, s.duty.ShiftKeyFor(team, now), s.duty.PreviousShiftKey(team, now))
	}
	return keys
}

// recordAudit and notify wrap the sinks so their failure can never fail or
// roll back the primary mutation.
func (s *Service) recordAudit(ctx context.Context, ev audit.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.AppendAudit(ctx, ev); err != nil {
		log.Printf("audit: append %s/%s dropped: %v", ev.ShiftKey, ev.Type, err)
	}
}

func (s *Service) notify(ctx context.Context, userID string, n audit.Notification) {
	if s.sink == nil || userID == "" {
		return
	}
	if err := s.sink.AppendNotification(ctx, userID, n); err != nil {
		log.Printf("notify: append for %s dropped: %v", userID, err)
	}
}
