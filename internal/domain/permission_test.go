package domain

import "testing"

func TestPermissionMatches(t *testing.T) {
	tests := []struct {
		name    string
		perm    Permission
		service Service
		action  Action
		want    bool
	}{
		{"exact match", PermKVWrite, ServiceKV, ActionWrite, true},
		{"exact mismatch action", PermKVWrite, ServiceKV, ActionRead, false},
		{"exact mismatch service", PermKVWrite, ServiceEvents, ActionWrite, false},
		{"service wildcard", Permission("kv:*"), ServiceKV, ActionDelete, true},
		{"service wildcard other service", Permission("kv:*"), ServiceArtifacts, ActionRead, false},
		{"global wildcard", PermAll, ServiceWorkflows, ActionStart, true},
		{"glob question mark", Permission("artifacts:l?st"), ServiceArtifacts, ActionList, true},
		{"no glob chars never pattern-matches", Permission("kv:writeextra"), ServiceKV, ActionWrite, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.perm.Matches(tt.service, tt.action); got != tt.want {
				t.Errorf("Permission(%q).Matches(%q, %q) = %v, want %v", tt.perm, tt.service, tt.action, got, tt.want)
			}
		})
	}
}

func TestPerm(t *testing.T) {
	if got := Perm(ServiceEvents, ActionPublish); got != PermEventsPublish {
		t.Errorf("Perm(events, publish) = %q, want %q", got, PermEventsPublish)
	}
}

func TestResourceLimitsValidate(t *testing.T) {
	ok := ResourceLimits{Services: map[Service]ServiceLimit{
		ServiceKV: {Capacity: 5, RefillRate: 1},
	}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	bad := ResourceLimits{Services: map[Service]ServiceLimit{
		ServiceKV: {Capacity: 0, RefillRate: 1},
	}}
	if err := bad.Validate(); err == nil {
		t.Fatal("Validate() = nil for zero capacity, want error")
	}
}
