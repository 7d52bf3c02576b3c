package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"shiftdesk/api/internal/auth"
	"shiftdesk/api/internal/config"
	"shiftdesk/api/internal/duty"
	"shiftdesk/api/internal/rbac"
	"shiftdesk/api/internal/store"
	"shiftdesk/api/internal/util"
)

// 23:30 on Sep 1: night-ops is on duty, in the "late" bucket, and its shift
// key carries today's date.
var testNow = time.Date(2026, time.September, 1, 23, 30, 0, 0, time.UTC)

const (
	testShiftKey     = "night-ops|2026-09-01@22:00"
	testPrevShiftKey = "night-ops|2026-08-31@22:00"
)

func testDutyConfig() duty.Config {
	return duty.Config{Teams: []duty.Team{
		{
			ID: "night-ops", Name: "Night Operations", Start: "22:00", End: "06:00",
			Buckets: []duty.Bucket{
				{ID: "late", Start: "22:00", End: "02:00"},
				{ID: "early", Start: "02:00", End: "06:00"},
			},
		},
		{
			ID: "day-ops", Name: "Day Operations", Start: "08:00", End: "18:00",
			Buckets: []duty.Bucket{
				{ID: "morning", Start: "08:00", End: "13:00"},
				{ID: "afternoon", Start: "13:00", End: "18:00"},
			},
		},
	}}
}

func newTestService(st dataStore) *Service {
	cfg := config.Config{
		JWTSecret:       "test-secret",
		PullPageSize:    200,
		MutationRetries: 3,
	}
	scheduler := duty.NewScheduler(testDutyConfig(), duty.FixedClock{T: testNow})
	return New(cfg, st, scheduler)
}

func testSession(role rbac.Role, userID, teamID string) Session {
	return Session{UserID: userID, UserName: userID, Role: role, TeamID: teamID}
}

func issueTestToken(t *testing.T, role, userID, teamID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: userID,
		Role: role,
		Team: teamID,
		JTI:  util.NewID("jti"),
		Exp:  testNow.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func seedDoc(t *testing.T, st *store.MemoryStore, key string, value any) {
	t.Helper()
	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal %s: %v", key, err)
	}
	if _, err := st.PutDocument(context.Background(), key, raw, ""); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}

func seedSchedule(t *testing.T, st *store.MemoryStore, teamID string, entries []duty.ScheduleEntry) {
	t.Helper()
	seedDoc(t, st, rbac.KeySchedule+teamID, map[string]any{"entries": entries})
}

func seedRoster(t *testing.T, st *store.MemoryStore, teamID string, members []map[string]string) {
	t.Helper()
	seedDoc(t, st, rbac.KeyRoster+teamID, map[string]any{"members": members})
}

func nightOpsRoster(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	seedRoster(t, st, "night-ops", []map[string]string{
		{"id": "u-mem", "name": "Mei", "role": "member"},
		{"id": "u-mem2", "name": "Noor", "role": "member"},
		{"id": "u-lead", "name": "Lito", "role": "lead"},
	})
}

func nightOpsSchedule(t *testing.T, st *store.MemoryStore, managerID string) {
	t.Helper()
	seedSchedule(t, st, "night-ops", []duty.ScheduleEntry{
		{UserID: managerID, Date: "2026-09-01", Start: "22:00", End: "06:00"},
	})
}

// flakyStore silently swallows the first N replacement writes, the lost
// update a concurrent writer causes in a last-write-wins backend.
type flakyStore struct {
	*store.MemoryStore
	drops int

	beforePut func()
}

func (f *flakyStore) PutDocument(ctx context.Context, key string, value json.RawMessage, clientID string) (store.Document, error) {
	if f.beforePut != nil {
		hook := f.beforePut
		f.beforePut = nil
		hook()
	}
	if f.drops > 0 {
		f.drops--
		return store.Document{Key: key, Value: value, UpdatedAt: testNow, UpdatedByClientID: clientID}, nil
	}
	return f.MemoryStore.PutDocument(ctx, key, value, clientID)
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a domain error, got nil")
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected *DomainError, got %T: %v", err, err)
	}
	return domainErr.Code
}
