package rbac

import "strings"

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleLead   Role = "lead"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionAssign Action = "assign"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleLead:
		return action == ActionRead || action == ActionWrite || action == ActionAssign
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleLead, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// Document key namespaces recognized by the sync gateway.
const (
	KeyMailbox  = "mailbox:"
	KeySchedule = "mbx_sched:"
	KeyRoster   = "roster:"
	KeyNotes    = "notes:"
	KeyConfig   = "config:"
)

var knownPrefixes = []string{KeyMailbox, KeySchedule, KeyRoster, KeyNotes, KeyConfig}

// Keys safe for unprivileged concurrent writes. Everything else requires the
// admin tier; mailbox tables in particular mutate only through the workflow
// endpoints, never through a raw sync push.
var unprivilegedPrefixes = map[Role][]string{
	RoleMember: {KeySchedule, KeyNotes},
	RoleLead:   {KeySchedule, KeyNotes, KeyRoster},
}

// KnownKey reports whether key belongs to a namespace the gateway serves.
func KnownKey(key string) bool {
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return true
		}
	}
	return false
}

// CanWriteKey evaluates the sync-push write ACL for a role.
func CanWriteKey(role Role, key string) bool {
	if !KnownKey(key) {
		return false
	}
	if role == RoleAdmin {
		return true
	}
	for _, prefix := range unprivilegedPrefixes[role] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
