package app

import (
	"context"
	"testing"

	"shiftdesk/api/internal/rbac"
	"shiftdesk/api/internal/store"
)

func TestMutateTableRetriesAfterLostWrite(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), drops: 1}
	svc := newTestService(st)

	payload, err := svc.Assign(context.Background(), testSession(rbac.RoleAdmin, "u-admin", ""), AssignInput{
		ShiftKey: testShiftKey, AssigneeID: "u-mem", CaseNo: "CASE-R1",
	})
	if err != nil {
		t.Fatalf("assign should survive one lost write: %v", err)
	}

	table, err := svc.TableByShiftKey(context.Background(), testShiftKey)
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	if !table.HasAssignment(payload["assignmentId"].(string)) {
		t.Fatalf("retried assignment not persisted")
	}
}

func TestMutateTableGivesUpAfterBudget(t *testing.T) {
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), drops: 100}
	svc := newTestService(st)

	_, err := svc.Assign(context.Background(), testSession(rbac.RoleAdmin, "u-admin", ""), AssignInput{
		ShiftKey: testShiftKey, AssigneeID: "u-mem", CaseNo: "CASE-R2",
	})
	if code := domainCode(t, err); code != "MAILBOX_CASE_ACTION_CONFLICT" {
		t.Fatalf("expected MAILBOX_CASE_ACTION_CONFLICT, got %s", code)
	}
	if err.(*DomainError).Status != 409 {
		t.Fatalf("expected 409, got %d", err.(*DomainError).Status)
	}
}
