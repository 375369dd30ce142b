package domain

import (
	"encoding/json"
	"testing"
)

func TestPermissionsFor(t *testing.T) {
	tests := []struct {
		role    Role
		has     []Capability
		hasNot  []Capability
		wantLen int
	}{
		{
			role:    RoleAuditor,
			has:     []Capability{CapViewAuditLogs},
			hasNot:  []Capability{CapUploadKnowledge, CapApproveKnowledge, CapEmergencyControls},
			wantLen: 1,
		},
		{
			role:    RoleKnowledgeAdmin,
			has:     []Capability{CapUploadKnowledge, CapApproveKnowledge, CapTrainAgents, CapViewAuditLogs},
			hasNot:  []Capability{CapManageAdminUsers, CapEmergencyControls, CapDeleteKnowledge},
			wantLen: 4,
		},
		{
			role:    RoleSuperAdmin,
			has:     AllCapabilities,
			wantLen: len(AllCapabilities),
		},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			id := &Identity{Role: tt.role, Permissions: PermissionsFor(tt.role)}
			if len(id.Permissions) != tt.wantLen {
				t.Fatalf("got %d permissions, want %d", len(id.Permissions), tt.wantLen)
			}
			for _, c := range tt.has {
				if !id.Has(c) {
					t.Errorf("%s should have %s", tt.role, c)
				}
			}
			for _, c := range tt.hasNot {
				if id.Has(c) {
					t.Errorf("%s should not have %s", tt.role, c)
				}
			}
		})
	}
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	caps := PermissionsFor(RoleAuditor)
	caps[0] = CapEmergencyControls
	if PermissionsFor(RoleAuditor)[0] != CapViewAuditLogs {
		t.Fatal("mutating the result changed the permission table")
	}
}

func TestPermissionsForUnknownRole(t *testing.T) {
	if got := PermissionsFor(Role(42)); len(got) != 0 {
		t.Fatalf("unknown role got %v", got)
	}
}

func TestEveryCapabilityIsGranted(t *testing.T) {
	for _, c := range AllCapabilities {
		granted := false
		for _, r := range AllRoles {
			id := &Identity{Permissions: PermissionsFor(r)}
			if id.Has(c) {
				granted = true
				break
			}
		}
		if !granted {
			t.Errorf("capability %s is granted by no role", c)
		}
	}
}

func TestRoleAtLeast(t *testing.T) {
	if !RoleSuperAdmin.AtLeast(RoleKnowledgeAdmin) {
		t.Error("super admin should be at least knowledge admin")
	}
	if RoleAuditor.AtLeast(RoleKnowledgeAdmin) {
		t.Error("auditor should not be at least knowledge admin")
	}
	if Role(99).AtLeast(RoleAuditor) {
		t.Error("invalid role should never pass AtLeast")
	}
}

func TestRoleJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Role Role `json:"role"`
	}{RoleKnowledgeAdmin})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"role":"knowledge_admin"}` {
		t.Fatalf("got %s", data)
	}

	var out struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal([]byte(`{"role":"SUPER_ADMIN"}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Role != RoleSuperAdmin {
		t.Fatalf("got %v", out.Role)
	}

	if err := json.Unmarshal([]byte(`{"role":"root"}`), &out); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestIdentityHasNil(t *testing.T) {
	var id *Identity
	if id.Has(CapViewAuditLogs) {
		t.Fatal("nil identity has no capabilities")
	}
}
