package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"shiftdesk/api/internal/rbac"
	"shiftdesk/api/internal/store"
)

func TestPushRejectsUnknownKey(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	_, err := svc.Push(context.Background(), testSession(rbac.RoleAdmin, "u-admin", ""), PushInput{
		Key: "secrets:prod", Value: json.RawMessage(`{}`),
	})
	if code := domainCode(t, err); code != "INVALID_KEY" {
		t.Fatalf("expected INVALID_KEY, got %s", code)
	}
}

func TestPushEnforcesWriteACL(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())

	cases := []struct {
		role rbac.Role
		key  string
		want string // "" means allowed
	}{
		{rbac.RoleMember, rbac.KeySchedule + "night-ops", ""},
		{rbac.RoleMember, rbac.KeyNotes + "night-ops", ""},
		{rbac.RoleMember, rbac.KeyRoster + "night-ops", "FORBIDDEN_KEY"},
		{rbac.RoleMember, rbac.KeyMailbox + testShiftKey, "FORBIDDEN_KEY"},
		{rbac.RoleLead, rbac.KeyRoster + "night-ops", ""},
		{rbac.RoleLead, rbac.KeyMailbox + testShiftKey, "FORBIDDEN_KEY"},
		{rbac.RoleLead, rbac.KeyConfig + "ui", "FORBIDDEN_KEY"},
		{rbac.RoleAdmin, rbac.KeyConfig + "ui", ""},
		{rbac.RoleAdmin, rbac.KeyMailbox + testShiftKey, ""},
	}
	for _, tc := range cases {
		_, err := svc.Push(context.Background(), testSession(tc.role, "u-x", "night-ops"), PushInput{
			Key: tc.key, Value: json.RawMessage(`{"v":1}`),
		})
		if tc.want == "" {
			if err != nil {
				t.Errorf("%s push %s: unexpected error %v", tc.role, tc.key, err)
			}
			continue
		}
		if code := domainCode(t, err); code != tc.want {
			t.Errorf("%s push %s: expected %s, got %s", tc.role, tc.key, tc.want, code)
		}
	}
}

func TestPushMergeArraysWithTombstones(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st)
	session := testSession(rbac.RoleMember, "u-mem", "night-ops")
	key := rbac.KeyNotes + "night-ops"

	if _, err := svc.Push(context.Background(), session, PushInput{
		Key:   key,
		Value: json.RawMessage(`[{"id":"n1","text":"old"},{"id":"n2","text":"keep"}]`),
	}); err != nil {
		t.Fatalf("seed push: %v", err)
	}

	if _, err := svc.Push(context.Background(), session, PushInput{
		Key:        key,
		Op:         "merge",
		Value:      json.RawMessage(`[{"id":"n1","text":"new"},{"id":"n3","text":"fresh"}]`),
		RemovedIDs: []string{"n2"},
	}); err != nil {
		t.Fatalf("merge push: %v", err)
	}

	doc, err := st.GetDocument(context.Background(), key)
	if err != nil {
		t.Fatalf("get merged doc: %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal(doc.Value, &items); err != nil {
		t.Fatalf("parse merged doc: %v", err)
	}
	got := map[string]string{}
	for _, item := range items {
		got[item["id"].(string)], _ = item["text"].(string)
	}
	if len(got) != 2 || got["n1"] != "new" || got["n3"] != "fresh" {
		t.Fatalf("unexpected merge result: %v", got)
	}
	if _, present := got["n2"]; present {
		t.Fatalf("tombstoned item n2 survived the merge")
	}
}

func TestPushMergeObjectsOverwritesKeys(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st)
	session := testSession(rbac.RoleAdmin, "u-admin", "")
	key := rbac.KeyConfig + "ui"

	if _, err := svc.Push(context.Background(), session, PushInput{
		Key: key, Value: json.RawMessage(`{"theme":"dark","pageSize":25}`),
	}); err != nil {
		t.Fatalf("seed push: %v", err)
	}
	if _, err := svc.Push(context.Background(), session, PushInput{
		Key: key, Op: "merge", Value: json.RawMessage(`{"theme":"light"}`),
	}); err != nil {
		t.Fatalf("merge push: %v", err)
	}

	doc, _ := st.GetDocument(context.Background(), key)
	var cfg map[string]any
	if err := json.Unmarshal(doc.Value, &cfg); err != nil {
		t.Fatalf("parse merged doc: %v", err)
	}
	if cfg["theme"] != "light" {
		t.Fatalf("expected incoming theme to win, got %v", cfg["theme"])
	}
	if cfg["pageSize"] != float64(25) {
		t.Fatalf("expected untouched key preserved, got %v", cfg["pageSize"])
	}
}

func TestPushRejectsInvalidValue(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	session := testSession(rbac.RoleAdmin, "u-admin", "")

	_, err := svc.Push(context.Background(), session, PushInput{
		Key: rbac.KeyConfig + "ui", Value: json.RawMessage(`{"broken":`),
	})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}

	_, err = svc.Push(context.Background(), session, PushInput{
		Key: rbac.KeyConfig + "ui", Op: "merge", Value: json.RawMessage(`"just a string"`),
	})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for scalar merge, got %s", code)
	}
}

func TestPullReturnsDocumentsAfterCursor(t *testing.T) {
	st := store.NewMemoryStore()
	st.SetClock(func() time.Time { return testNow })
	svc := newTestService(st)
	session := testSession(rbac.RoleAdmin, "u-admin", "")

	if _, err := svc.Push(context.Background(), session, PushInput{
		Key: rbac.KeyNotes + "night-ops", Value: json.RawMessage(`[{"id":"n1"}]`), ClientID: "dev-a",
	}); err != nil {
		t.Fatalf("push: %v", err)
	}

	payload, err := svc.Pull(context.Background(), 0)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	docs := payload["docs"].([]map[string]any)
	if len(docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(docs))
	}
	if docs[0]["key"] != rbac.KeyNotes+"night-ops" {
		t.Fatalf("unexpected doc key %v", docs[0]["key"])
	}
	if docs[0]["updatedByClientId"] != "dev-a" {
		t.Fatalf("expected client attribution, got %v", docs[0]["updatedByClientId"])
	}
	serverNow := payload["serverNow"].(int64)
	if serverNow != testNow.UnixMilli() {
		t.Fatalf("expected serverNow %d, got %d", testNow.UnixMilli(), serverNow)
	}

	// Pulling from the advanced cursor replays nothing.
	payload, err = svc.Pull(context.Background(), serverNow)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if docs := payload["docs"].([]map[string]any); len(docs) != 0 {
		t.Fatalf("expected empty page, got %d docs", len(docs))
	}
}
