package domain

import (
	"path"
	"strings"
)

// Permission grants one action on one service, written "service:action"
// (e.g. "kv:write", "events:publish"). The action part may be a glob
// pattern, and the single permission "*" grants everything. Matching is
// done with path.Match so patterns like "kv:*" behave the same way
// function scopes do elsewhere in the platform.
type Permission string

const (
	PermKVRead         Permission = "kv:read"
	PermKVWrite        Permission = "kv:write"
	PermKVDelete       Permission = "kv:delete"
	PermArtifactsRead  Permission = "artifacts:read"
	PermArtifactsWrite Permission = "artifacts:write"
	PermArtifactsList  Permission = "artifacts:list"
	PermEventsPublish  Permission = "events:publish"
	PermWorkflowStart  Permission = "workflows:start"
	PermAll            Permission = "*"
)

// Perm builds the permission naming action on service.
func Perm(service Service, action Action) Permission {
	return Permission(string(service) + ":" + string(action))
}

// Matches reports whether the permission covers (service, action).
// A plain permission matches by equality; a permission containing glob
// metacharacters matches by pattern.
func (p Permission) Matches(service Service, action Action) bool {
	if p == PermAll {
		return true
	}
	want := string(service) + ":" + string(action)
	if string(p) == want {
		return true
	}
	if !strings.ContainsAny(string(p), "*?[") {
		return false
	}
	matched, _ := path.Match(string(p), want)
	return matched
}

// Role is a named tier of authority within a tenant.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// RolePermissions maps each role to the permissions it implies when a
// tenant grants no explicit permission set. Admin is handled separately:
// it bypasses the gate entirely.
var RolePermissions = map[Role][]Permission{
	RoleUser: {
		PermKVRead, PermKVWrite,
		PermArtifactsRead, PermArtifactsWrite, PermArtifactsList,
		PermEventsPublish,
	},
	RoleViewer: {
		PermKVRead,
		PermArtifactsRead, PermArtifactsList,
	},
}

// ValidRole returns true if r is a known role.
func ValidRole(r Role) bool {
	return r == RoleAdmin || r == RoleUser || r == RoleViewer
}
