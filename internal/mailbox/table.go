// Package mailbox models the per-shift assignment table. Table is treated as
// an immutable value: every patch deep-copies and returns a new Table, so a
// retry loop can re-apply patches against fresh downloads without aliasing.
package mailbox

import (
	"fmt"
	"strings"
)

type Meta struct {
	TeamID         string            `json:"teamId"`
	DutyStart      string            `json:"dutyStart"`
	DutyEnd        string            `json:"dutyEnd"`
	BucketManagers map[string]string `json:"bucketManagers,omitempty"`
}

type Bucket struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Assignment struct {
	ID                 string `json:"id"`
	CaseNo             string `json:"caseNo"`
	Desc               string `json:"desc,omitempty"`
	AssigneeID         string `json:"assigneeId"`
	AssigneeRole       string `json:"assigneeRole"`
	BucketID           string `json:"bucketId"`
	AssignedAt         int64  `json:"assignedAt"`
	ConfirmedAt        int64  `json:"confirmedAt"`
	PreviousAssigneeID string `json:"previousAssigneeId,omitempty"`
	ReassignedAt       int64  `json:"reassignedAt,omitempty"`
}

// Table is one mailbox table document value, keyed by shiftKey in the store.
type Table struct {
	Meta        Meta                      `json:"meta"`
	Buckets     []Bucket                  `json:"buckets"`
	Members     []Member                  `json:"members"`
	Assignments []Assignment              `json:"assignments"`
	Counts      map[string]map[string]int `json:"counts"`
}

func New(meta Meta, buckets []Bucket, members []Member) Table {
	return Table{
		Meta:        meta,
		Buckets:     append([]Bucket(nil), buckets...),
		Members:     append([]Member(nil), members...),
		Assignments: []Assignment{},
		Counts:      map[string]map[string]int{},
	}
}

func (t Table) clone() Table {
	next := Table{
		Meta:        t.Meta,
		Buckets:     append([]Bucket(nil), t.Buckets...),
		Members:     append([]Member(nil), t.Members...),
		Assignments: append([]Assignment(nil), t.Assignments...),
		Counts:      make(map[string]map[string]int, len(t.Counts)),
	}
	if t.Meta.BucketManagers != nil {
		next.Meta.BucketManagers = make(map[string]string, len(t.Meta.BucketManagers))
		for k, v := range t.Meta.BucketManagers {
			next.Meta.BucketManagers[k] = v
		}
	}
	for assignee, byBucket := range t.Counts {
		inner := make(map[string]int, len(byBucket))
		for bucket, n := range byBucket {
			inner[bucket] = n
		}
		next.Counts[assignee] = inner
	}
	return next
}

func (t Table) AssignmentByID(id string) (Assignment, bool) {
	for _, a := range t.Assignments {
		if a.ID == id {
			return a, true
		}
	}
	return Assignment{}, false
}

func (t Table) HasAssignment(id string) bool {
	_, ok := t.AssignmentByID(id)
	return ok
}

// HasCase reports whether a case number is already assigned in this table.
// Case numbers compare case-insensitively.
func (t Table) HasCase(caseNo string) bool {
	for _, a := range t.Assignments {
		if strings.EqualFold(a.CaseNo, caseNo) {
			return true
		}
	}
	return false
}

func (t Table) MemberByID(id string) (Member, bool) {
	for _, m := range t.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// WithAssignment appends a new assignment and bumps its counter.
func (t Table) WithAssignment(a Assignment) (Table, error) {
	if a.ID == "" {
		return Table{}, fmt.Errorf("assignment id required")
	}
	if t.HasAssignment(a.ID) {
		return Table{}, fmt.Errorf("assignment %s already exists", a.ID)
	}
	next := t.clone()
	next.Assignments = append(next.Assignments, a)
	next.bump(a.AssigneeID, a.BucketID, 1)
	return next, nil
}

// Confirm marks an assignment confirmed. Confirming twice is a no-op that
// reports alreadyConfirmed; ConfirmedAt never changes once set.
func (t Table) Confirm(id string, at int64) (Table, bool, bool) {
	idx := t.indexOf(id)
	if idx < 0 {
		return Table{}, false, false
	}
	if t.Assignments[idx].ConfirmedAt > 0 {
		return t, true, true
	}
	next := t.clone()
	next.Assignments[idx].ConfirmedAt = at
	return next, false, true
}

// Reassign moves an assignment to a new owner: counters move with it and the
// confirmation cycle restarts for the new assignee.
func (t Table) Reassign(id, newAssigneeID, newAssigneeRole string, at int64) (Table, bool) {
	idx := t.indexOf(id)
	if idx < 0 {
		return Table{}, false
	}
	next := t.clone()
	a := next.Assignments[idx]
	next.bump(a.AssigneeID, a.BucketID, -1)
	a.PreviousAssigneeID = a.AssigneeID
	a.AssigneeID = newAssigneeID
	a.AssigneeRole = newAssigneeRole
	a.ReassignedAt = at
	a.ConfirmedAt = 0
	next.Assignments[idx] = a
	next.bump(a.AssigneeID, a.BucketID, 1)
	return next, true
}

// Remove deletes an assignment and decrements its counter.
func (t Table) Remove(id string) (Table, bool) {
	idx := t.indexOf(id)
	if idx < 0 {
		return Table{}, false
	}
	next := t.clone()
	a := next.Assignments[idx]
	next.Assignments = append(next.Assignments[:idx], next.Assignments[idx+1:]...)
	next.bump(a.AssigneeID, a.BucketID, -1)
	return next, true
}

// TotalCount sums all counters; conserved by reassign.
func (t Table) TotalCount() int {
	total := 0
	for _, byBucket := range t.Counts {
		for _, n := range byBucket {
			total += n
		}
	}
	return total
}

func (t Table) indexOf(id string) int {
	for i, a := range t.Assignments {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (t *Table) bump(assigneeID, bucketID string, delta int) {
	if t.Counts == nil {
		t.Counts = map[string]map[string]int{}
	}
	byBucket, ok := t.Counts[assigneeID]
	if !ok {
		byBucket = map[string]int{}
		t.Counts[assigneeID] = byBucket
	}
	byBucket[bucketID] += delta
	if byBucket[bucketID] <= 0 {
		delete(byBucket, bucketID)
		if len(byBucket) == 0 {
			delete(t.Counts, assigneeID)
		}
	}
}
