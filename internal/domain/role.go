package domain

import (
	"fmt"
	"strings"
)

// Role is one of the three ordered operator levels.
type Role int

// Role constants. The numeric values define the coarse ordering used by AtLeast.
const (
	RoleAuditor        Role = 1
	RoleKnowledgeAdmin Role = 2
	RoleSuperAdmin     Role = 3
)

// AllRoles lists every role in ascending order.
var AllRoles = []Role{RoleAuditor, RoleKnowledgeAdmin, RoleSuperAdmin}

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleAuditor:
		return "auditor"
	case RoleKnowledgeAdmin:
		return "knowledge_admin"
	case RoleSuperAdmin:
		return "super_admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAuditor, RoleKnowledgeAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// AtLeast reports whether r is the same level as floor or higher.
func (r Role) AtLeast(floor Role) bool {
	return r.Valid() && r >= floor
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole parses the wire name produced by Role.String.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auditor":
		return RoleAuditor, nil
	case "knowledge_admin":
		return RoleKnowledgeAdmin, nil
	case "super_admin":
		return RoleSuperAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Capability is an atomic, named permission grantable to a role.
type Capability string

// Capability constants.
const (
	CapUploadKnowledge        Capability = "upload_knowledge"
	CapApproveKnowledge       Capability = "approve_knowledge"
	CapDeleteKnowledge        Capability = "delete_knowledge"
	CapModifyTrainingPipeline Capability = "modify_training_pipeline"
	CapManageAdminUsers       Capability = "manage_admin_users"
	CapSystemConfiguration    Capability = "system_configuration"
	CapViewAuditLogs          Capability = "view_audit_logs"
	CapEmergencyControls      Capability = "emergency_controls"
	CapTrainAgents            Capability = "train_agents"
	CapModifyAgentBehavior    Capability = "modify_agent_behavior"
	CapAccessSensitiveData    Capability = "access_sensitive_data"
)

// AllCapabilities lists every capability referenced by the system.
// Each entry must be granted by at least one role in rolePermissions.
var AllCapabilities = []Capability{
	CapUploadKnowledge,
	CapApproveKnowledge,
	CapDeleteKnowledge,
	CapModifyTrainingPipeline,
	CapManageAdminUsers,
	CapSystemConfiguration,
	CapViewAuditLogs,
	CapEmergencyControls,
	CapTrainAgents,
	CapModifyAgentBehavior,
	CapAccessSensitiveData,
}

// rolePermissions is the explicit role to capability table. It is not
// derived from role ordering.
var rolePermissions = map[Role][]Capability{
	RoleAuditor: {
		CapViewAuditLogs,
	},
	RoleKnowledgeAdmin: {
		CapUploadKnowledge,
		CapApproveKnowledge,
		CapTrainAgents,
		CapViewAuditLogs,
	},
	RoleSuperAdmin: {
		CapUploadKnowledge,
		CapApproveKnowledge,
		CapDeleteKnowledge,
		CapModifyTrainingPipeline,
		CapManageAdminUsers,
		CapSystemConfiguration,
		CapViewAuditLogs,
		CapEmergencyControls,
		CapTrainAgents,
		CapModifyAgentBehavior,
		CapAccessSensitiveData,
	},
}

// PermissionsFor returns a copy of the capability set granted to role.
// Unknown roles get no capabilities.
func PermissionsFor(role Role) []Capability {
	caps := rolePermissions[role]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// CapabilityStrings converts a capability list to its wire form.
func CapabilityStrings(caps []Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}
