package mailbox

import "testing"

func testTable(t *testing.T) Table {
	t.Helper()
	tbl := New(
		Meta{TeamID: "night", DutyStart: "22:00", DutyEnd: "06:00"},
		[]Bucket{{ID: "early", Start: "22:00", End: "02:00"}, {ID: "late", Start: "02:00", End: "06:00"}},
		[]Member{{ID: "u1", Name: "Uma", Role: "member"}, {ID: "u2", Name: "Vic", Role: "member"}},
	)
	next, err := tbl.WithAssignment(Assignment{ID: "x1", CaseNo: "C-100", AssigneeID: "u1", AssigneeRole: "member", BucketID: "early", AssignedAt: 1000})
	if err != nil {
		t.Fatalf("WithAssignment: %v", err)
	}
	return next
}

func TestWithAssignmentUpdatesCounts(t *testing.T) {
	tbl := testTable(t)
	if tbl.Counts["u1"]["early"] != 1 {
		t.Fatalf("expected counts[u1][early]=1, got %v", tbl.Counts)
	}
	if _, err := tbl.WithAssignment(Assignment{ID: "x1", CaseNo: "C-999", AssigneeID: "u2", BucketID: "early"}); err == nil {
		t.Fatalf("duplicate assignment id must be rejected")
	}
}

func TestPatchesDoNotAliasReceiver(t *testing.T) {
	tbl := testTable(t)
	next, _ := tbl.WithAssignment(Assignment{ID: "x2", CaseNo: "C-200", AssigneeID: "u1", BucketID: "early"})

	if len(tbl.Assignments) != 1 || tbl.Counts["u1"]["early"] != 1 {
		t.Fatalf("receiver mutated: %+v", tbl)
	}
	if len(next.Assignments) != 2 || next.Counts["u1"]["early"] != 2 {
		t.Fatalf("patch result wrong: %+v", next)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	tbl := testTable(t)

	once, already, ok := tbl.Confirm("x1", 5000)
	if !ok || already {
		t.Fatalf("first confirm: already=%v ok=%v", already, ok)
	}
	a, _ := once.AssignmentByID("x1")
	if a.ConfirmedAt != 5000 {
		t.Fatalf("confirmedAt = %d", a.ConfirmedAt)
	}

	twice, already, ok := once.Confirm("x1", 9999)
	if !ok || !already {
		t.Fatalf("second confirm: already=%v ok=%v", already, ok)
	}
	b, _ := twice.AssignmentByID("x1")
	if b.ConfirmedAt != 5000 {
		t.Fatalf("second confirm must not change confirmedAt, got %d", b.ConfirmedAt)
	}

	if _, _, ok := tbl.Confirm("missing", 1); ok {
		t.Fatalf("confirm of missing assignment must not be ok")
	}
}

func TestReassignConservesCounts(t *testing.T) {
	tbl := testTable(t)
	confirmed, _, _ := tbl.Confirm("x1", 5000)
	before := confirmed.TotalCount()

	next, ok := confirmed.Reassign("x1", "u2", "member", 6000)
	if !ok {
		t.Fatalf("reassign failed")
	}
	if next.TotalCount() != before {
		t.Fatalf("total count changed: %d -> %d", before, next.TotalCount())
	}
	if next.Counts["u1"]["early"] != 0 || next.Counts["u2"]["early"] != 1 {
		t.Fatalf("counts did not move: %v", next.Counts)
	}

	a, _ := next.AssignmentByID("x1")
	if a.AssigneeID != "u2" || a.PreviousAssigneeID != "u1" {
		t.Fatalf("ownership not recorded: %+v", a)
	}
	if a.ConfirmedAt != 0 {
		t.Fatalf("reassign must restart the confirmation cycle, confirmedAt=%d", a.ConfirmedAt)
	}
	if a.ReassignedAt != 6000 {
		t.Fatalf("reassignedAt = %d", a.ReassignedAt)
	}
}

func TestRemoveDecrementsCounts(t *testing.T) {
	tbl := testTable(t)
	next, ok := tbl.Remove("x1")
	if !ok {
		t.Fatalf("remove failed")
	}
	if next.HasAssignment("x1") {
		t.Fatalf("assignment still present after remove")
	}
	if next.TotalCount() != 0 {
		t.Fatalf("counts not decremented: %v", next.Counts)
	}
	if _, ok := next.Remove("x1"); ok {
		t.Fatalf("second remove should report missing")
	}
}

func TestHasCaseIsCaseInsensitive(t *testing.T) {
	tbl := testTable(t)
	if !tbl.HasCase("c-100") {
		t.Fatalf("expected case-insensitive match for c-100")
	}
	if tbl.HasCase("C-101") {
		t.Fatalf("unexpected match for C-101")
	}
}
