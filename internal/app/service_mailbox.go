package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"shiftdesk/api/internal/audit"
	"shiftdesk/api/internal/duty"
	"shiftdesk/api/internal/mailbox"
	"shiftdesk/api/internal/rbac"
	"shiftdesk/api/internal/search"
	"shiftdesk/api/internal/store"
	"shiftdesk/api/internal/util"
)

type AssignInput struct {
	ShiftKey   string `json:"shiftKey"`
	AssigneeID string `json:"assigneeId"`
	CaseNo     string `json:"caseNo"`
	Desc       string `json:"desc"`
	ClientID   string `json:"clientId"`
}

type ConfirmInput struct {
	ShiftKey     string `json:"shiftKey"`
	AssignmentID string `json:"assignmentId"`
}

type CaseActionInput struct {
	Action        string `json:"action"`
	ShiftKey      string `json:"shiftKey"`
	AssignmentID  string `json:"assignmentId"`
	NewAssigneeID string `json:"newAssigneeId"`
	ClientID      string `json:"clientId"`
}

// Assign creates a new case assignment in the live mailbox table, creating
// the table lazily on the first assignment of a shift.
func (s *Service) Assign(ctx context.Context, session Session, in AssignInput) (map[string]any, error) {
	caseNo := strings.TrimSpace(in.CaseNo)
	assigneeID := strings.TrimSpace(in.AssigneeID)
	if in.ShiftKey == "" || caseNo == "" || assigneeID == "" {
		return nil, errValidation("shiftKey, caseNo and assigneeId are required")
	}

	now := s.duty.Now()
	team, err := s.resolveShift(session, in.ShiftKey, now)
	if err != nil {
		return nil, err
	}
	if err := s.mutationGate(ctx, session, team, now); err != nil {
		return nil, err
	}

	roster := s.loadRoster(ctx, team.ID)
	assigneeRole := rosterRole(roster, assigneeID)
	// The member tier may only hand cases to plain members.
	if session.Role == rbac.RoleMember && assigneeRole != string(rbac.RoleMember) {
		return nil, errForbidden("members may only assign to members")
	}

	prevHasCase := s.tableHasCase(ctx, rbac.KeyMailbox+s.duty.PreviousShiftKey(team, now), caseNo)

	assignmentID := util.NewID("asg")
	key := rbac.KeyMailbox + in.ShiftKey

	table, err := s.mutateTable(ctx, key, strings.TrimSpace(in.ClientID),
		func() (mailbox.Table, error) {
			return s.newTable(team, roster), nil
		},
		func(t mailbox.Table) (mailbox.Table, error) {
			if prevHasCase || t.HasCase(caseNo) {
				return mailbox.Table{}, errDuplicateCase(caseNo)
			}
			// Never trust a client-supplied bucket; recompute from the clock.
			bucket := s.duty.ActiveBucket(toDutyBuckets(t.Buckets), now)
			return t.WithAssignment(mailbox.Assignment{
				ID:           assignmentID,
				CaseNo:       caseNo,
				Desc:         strings.TrimSpace(in.Desc),
				AssigneeID:   assigneeID,
				AssigneeRole: assigneeRole,
				BucketID:     bucket.ID,
				AssignedAt:   util.Millis(now),
			})
		},
		func(t mailbox.Table) bool {
			return t.HasAssignment(assignmentID)
		},
	)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit.Event{
		Type: "assign", ShiftKey: in.ShiftKey, Actor: session.UserID,
		AssignmentID: assignmentID, CaseNo: caseNo, AssigneeID: assigneeID,
		At: util.Millis(now),
	})
	s.notify(ctx, assigneeID, audit.Notification{
		Type: "assigned", Message: "case " + caseNo + " assigned to you",
		ShiftKey: in.ShiftKey, AssignmentID: assignmentID, At: util.Millis(now),
	})
	s.indexAssignment(in.ShiftKey, team.ID, assignmentID, caseNo, in.Desc, assigneeID)

	return map[string]any{"ok": true, "table": table, "assignmentId": assignmentID}, nil
}

// Confirm marks an assignment as accepted by its assignee. Idempotent: a
// repeat confirm reports alreadyConfirmed and leaves confirmedAt untouched.
func (s *Service) Confirm(ctx context.Context, session Session, in ConfirmInput) (map[string]any, error) {
	if in.ShiftKey == "" || in.AssignmentID == "" {
		return nil, errValidation("shiftKey and assignmentId are required")
	}

	now := s.duty.Now()
	already := false
	table, err := s.mutateTable(ctx, rbac.KeyMailbox+in.ShiftKey, "", nil,
		func(t mailbox.Table) (mailbox.Table, error) {
			assignment, ok := t.AssignmentByID(in.AssignmentID)
			if !ok {
				return mailbox.Table{}, errNotFound("assignment not found")
			}
			if session.Role != rbac.RoleAdmin && assignment.AssigneeID != session.UserID {
				return mailbox.Table{}, errForbidden("only the assignee may confirm")
			}
			next, alreadyConfirmed, _ := t.Confirm(in.AssignmentID, util.Millis(now))
			already = alreadyConfirmed
			return next, nil
		},
		func(t mailbox.Table) bool {
			assignment, ok := t.AssignmentByID(in.AssignmentID)
			return ok && assignment.ConfirmedAt > 0
		},
	)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"ok": true, "table": table}
	if already {
		payload["alreadyConfirmed"] = true
	} else {
		s.recordAudit(ctx, audit.Event{
			Type: "confirm", ShiftKey: in.ShiftKey, Actor: session.UserID,
			AssignmentID: in.AssignmentID, At: util.Millis(now),
		})
	}
	return payload, nil
}

// CaseAction reassigns or deletes an existing assignment.
func (s *Service) CaseAction(ctx context.Context, session Session, in CaseActionInput) (map[string]any, error) {
	if in.ShiftKey == "" || in.AssignmentID == "" {
		return nil, errValidation("shiftKey and assignmentId are required")
	}
	if in.Action != "reassign" && in.Action != "delete" {
		return nil, errValidation("action must be \"reassign\" or \"delete\"")
	}

	now := s.duty.Now()
	team, err := s.resolveShift(session, in.ShiftKey, now)
	if err != nil {
		return nil, err
	}
	if err := s.mutationGate(ctx, session, team, now); err != nil {
		return nil, err
	}

	switch in.Action {
	case "reassign":
		return s.reassign(ctx, session, team, in, now)
	default:
		return s.deleteAssignment(ctx, session, in, now)
	}
}

func (s *Service) reassign(ctx context.Context, session Session, team duty.Team, in CaseActionInput, now time.Time) (map[string]any, error) {
	newAssigneeID := strings.TrimSpace(in.NewAssigneeID)
	if newAssigneeID == "" {
		return nil, errValidation("newAssigneeId is required")
	}

	roster := s.loadRoster(ctx, team.ID)
	member, onTeam := rosterMember(roster, newAssigneeID)
	if !onTeam {
		return nil, errValidation("new assignee is not on the team roster")
	}
	if member.Role != string(rbac.RoleMember) && member.Role != string(rbac.RoleLead) {
		return nil, errValidation("new assignee must be a member or lead")
	}

	var previousAssigneeID, caseNo, desc string
	table, err := s.mutateTable(ctx, rbac.KeyMailbox+in.ShiftKey, strings.TrimSpace(in.ClientID), nil,
		func(t mailbox.Table) (mailbox.Table, error) {
			assignment, ok := t.AssignmentByID(in.AssignmentID)
			if !ok {
				return mailbox.Table{}, errNotFound("assignment not found")
			}
			previousAssigneeID = assignment.AssigneeID
			caseNo = assignment.CaseNo
			desc = assignment.Desc
			next, _ := t.Reassign(in.AssignmentID, newAssigneeID, member.Role, util.Millis(now))
			return next, nil
		},
		func(t mailbox.Table) bool {
			assignment, ok := t.AssignmentByID(in.AssignmentID)
			return ok && assignment.AssigneeID == newAssigneeID
		},
	)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit.Event{
		Type: "reassign", ShiftKey: in.ShiftKey, Actor: session.UserID,
		AssignmentID: in.AssignmentID, CaseNo: caseNo, AssigneeID: newAssigneeID,
		At: util.Millis(now),
	})
	s.notify(ctx, newAssigneeID, audit.Notification{
		Type: "assigned", Message: "case " + caseNo + " reassigned to you",
		ShiftKey: in.ShiftKey, AssignmentID: in.AssignmentID, At: util.Millis(now),
	})
	s.notify(ctx, previousAssigneeID, audit.Notification{
		Type: "unassigned", Message: "case " + caseNo + " was reassigned",
		ShiftKey: in.ShiftKey, AssignmentID: in.AssignmentID, At: util.Millis(now),
	})
	s.indexAssignment(in.ShiftKey, team.ID, in.AssignmentID, caseNo, desc, newAssigneeID)

	return map[string]any{"ok": true, "table": table}, nil
}

func (s *Service) deleteAssignment(ctx context.Context, session Session, in CaseActionInput, now time.Time) (map[string]any, error) {
	var removedAssigneeID, caseNo string
	table, err := s.mutateTable(ctx, rbac.KeyMailbox+in.ShiftKey, strings.TrimSpace(in.ClientID), nil,
		func(t mailbox.Table) (mailbox.Table, error) {
			assignment, ok := t.AssignmentByID(in.AssignmentID)
			if !ok {
				return mailbox.Table{}, errNotFound("assignment not found")
			}
			removedAssigneeID = assignment.AssigneeID
			caseNo = assignment.CaseNo
			next, _ := t.Remove(in.AssignmentID)
			return next, nil
		},
		func(t mailbox.Table) bool {
			return !t.HasAssignment(in.AssignmentID)
		},
	)
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, audit.Event{
		Type: "delete", ShiftKey: in.ShiftKey, Actor: session.UserID,
		AssignmentID: in.AssignmentID, CaseNo: caseNo, AssigneeID: removedAssigneeID,
		At: util.Millis(now),
	})
	s.notify(ctx, removedAssigneeID, audit.Notification{
		Type: "removed", Message: "case " + caseNo + " was removed from your queue",
		ShiftKey: in.ShiftKey, AssignmentID: in.AssignmentID, At: util.Millis(now),
	})
	if s.search != nil {
		s.search.DeleteAssignment(in.ShiftKey + "/" + in.AssignmentID)
	}

	return map[string]any{"ok": true, "table": table}, nil
}

// resolveShift parses the team out of a shift key and pins non-admin callers
// to the key the server itself derives for that team right now. Admins may
// target any stored table (archive corrections).
func (s *Service) resolveShift(session Session, shiftKey string, now time.Time) (duty.Team, error) {
	teamID := shiftKey
	if i := strings.IndexByte(shiftKey, '|'); i >= 0 {
		teamID = shiftKey[:i]
	}
	team, ok := s.duty.TeamByID(teamID)
	if !ok {
		return duty.Team{}, errValidation("shiftKey does not name a configured team")
	}
	if session.Role != rbac.RoleAdmin && shiftKey != s.duty.ShiftKeyFor(team, now) {
		return duty.Team{}, errValidation("shiftKey is not the live shift for this team")
	}
	return team, nil
}

// mutationGate is the tiered permission check shared by assign, reassign and
// delete. Duty state is always evaluated server-side against the clock.
func (s *Service) mutationGate(ctx context.Context, session Session, team duty.Team, now time.Time) error {
	switch session.Role {
	case rbac.RoleAdmin:
		return nil
	case rbac.RoleLead:
		if session.TeamID != team.ID {
			return errForbidden("leads may only manage their own team's table")
		}
		if !s.duty.OnDuty(team, now) {
			return errForbidden("team is not on duty")
		}
		return nil
	case rbac.RoleMember:
		if session.TeamID != team.ID {
			return errForbidden("members may only manage their own team's table")
		}
		manager, ok := s.scheduledManager(ctx, team.ID, now)
		if !ok || manager != session.UserID {
			return errForbidden("caller is not the scheduled mailbox manager")
		}
		return nil
	default:
		return errForbidden("role may not mutate mailbox tables")
	}
}

// scheduledManager resolves the on-duty mailbox manager from the team's
// published schedule document.
func (s *Service) scheduledManager(ctx context.Context, teamID string, now time.Time) (string, bool) {
	doc, err := s.store.GetDocument(ctx, rbac.KeySchedule+teamID)
	if err != nil {
		return "", false
	}
	var schedule struct {
		Entries []duty.ScheduleEntry `json:"entries"`
	}
	if err := json.Unmarshal(doc.Value, &schedule); err != nil {
		return "", false
	}
	return duty.ScheduledManager(schedule.Entries, now)
}

func (s *Service) tableHasCase(ctx context.Context, key, caseNo string) bool {
	table, err := s.loadTable(ctx, key)
	if err != nil {
		return false
	}
	return table.HasCase(caseNo)
}

func (s *Service) newTable(team duty.Team, roster []mailbox.Member) mailbox.Table {
	buckets := make([]mailbox.Bucket, 0, len(team.Buckets))
	for _, b := range team.Buckets {
		buckets = append(buckets, mailbox.Bucket{ID: b.ID, Start: b.Start, End: b.End})
	}
	return mailbox.New(mailbox.Meta{
		TeamID:    team.ID,
		DutyStart: team.Start,
		DutyEnd:   team.End,
	}, buckets, roster)
}

// loadRoster reads the team's roster document; a missing or malformed roster
// degrades to an empty member list rather than blocking the workflow.
func (s *Service) loadRoster(ctx context.Context, teamID string) []mailbox.Member {
	doc, err := s.store.GetDocument(ctx, rbac.KeyRoster+teamID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("roster: read %s failed: %v", teamID, err)
		}
		return nil
	}
	var roster struct {
		Members []mailbox.Member `json:"members"`
	}
	if err := json.Unmarshal(doc.Value, &roster); err != nil {
		return nil
	}
	return roster.Members
}

func rosterMember(roster []mailbox.Member, userID string) (mailbox.Member, bool) {
	for _, m := range roster {
		if m.ID == userID {
			return m, true
		}
	}
	return mailbox.Member{}, false
}

// rosterRole falls back to plain member for assignees missing from the
// roster document; the roster is advisory for assign, strict for reassign.
func rosterRole(roster []mailbox.Member, userID string) string {
	if m, ok := rosterMember(roster, userID); ok && m.Role != "" {
		return m.Role
	}
	return string(rbac.RoleMember)
}

func (s *Service) indexAssignment(shiftKey, teamID, assignmentID, caseNo, desc, assigneeID string) {
	if s.search == nil {
		return
	}
	s.search.IndexAssignment(search.Record{
		ID:         shiftKey + "/" + assignmentID,
		CaseNo:     caseNo,
		Desc:       strings.TrimSpace(desc),
		AssigneeID: assigneeID,
		ShiftKey:   shiftKey,
		TeamID:     teamID,
	})
}

func toDutyBuckets(buckets []mailbox.Bucket) []duty.Bucket {
	out := make([]duty.Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, duty.Bucket{ID: b.ID, Start: b.Start, End: b.End})
	}
	return out
}
