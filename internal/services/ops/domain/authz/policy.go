package authz

import (
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
)

// Capability is a named permission checked before an operation.
type Capability string

const (
	CapabilityReadEntities     Capability = "entities.read"
	CapabilityCreateEntities   Capability = "entities.create"
	CapabilityTransition       Capability = "entities.transition"
	CapabilityReadAudit        Capability = "audit.read"
	CapabilityVerifyHistory    Capability = "audit.verify"
	CapabilityAddNotes         Capability = "notes.add"
	CapabilityUpdateCost       Capability = "cost.update"
	CapabilityUpdateLogistics  Capability = "logistics.update"
	CapabilityAddTrackingPoint Capability = "tracking.add"
	CapabilityUploadDocuments  Capability = "documents.upload"
	CapabilityClaim            Capability = "entities.claim"
)

// PolicyRow grants one capability to one role.
type PolicyRow struct {
	Role       actor.Role
	Capability Capability
}

var clientCapabilities = []Capability{
	CapabilityReadEntities,
	CapabilityCreateEntities,
	CapabilityTransition,
	CapabilityReadAudit,
	CapabilityAddNotes,
	CapabilityUpdateLogistics,
	CapabilityUploadDocuments,
	CapabilityClaim,
}

var rolePolicy = map[actor.Role][]Capability{
	actor.RoleClientAdmin: clientCapabilities,
	actor.RoleClientUser:  clientCapabilities,
	actor.RoleAgent: {
		CapabilityReadEntities,
		CapabilityCreateEntities,
		CapabilityTransition,
		CapabilityReadAudit,
		CapabilityAddNotes,
		CapabilityUpdateCost,
		CapabilityUpdateLogistics,
		CapabilityAddTrackingPoint,
		CapabilityUploadDocuments,
	},
	actor.RoleFinance: {
		CapabilityReadEntities,
		CapabilityTransition,
		CapabilityReadAudit,
		CapabilityVerifyHistory,
		CapabilityAddNotes,
		CapabilityUpdateCost,
	},
	actor.RoleAdmin: {
		CapabilityReadEntities,
		CapabilityCreateEntities,
		CapabilityTransition,
		CapabilityReadAudit,
		CapabilityVerifyHistory,
		CapabilityAddNotes,
		CapabilityUpdateCost,
		CapabilityUpdateLogistics,
		CapabilityAddTrackingPoint,
		CapabilityUploadDocuments,
	},
	actor.RoleSystem: {
		CapabilityReadEntities,
		CapabilityCreateEntities,
		CapabilityTransition,
		CapabilityReadAudit,
		CapabilityAddNotes,
		CapabilityUpdateCost,
	},
}

// PolicyTable returns the role/capability grants as rows.
func PolicyTable() []PolicyRow {
	var rows []PolicyRow
	for _, role := range actor.Roles() {
		for _, capability := range rolePolicy[role] {
			rows = append(rows, PolicyRow{Role: role, Capability: capability})
		}
	}
	return rows
}

// RoleHas reports whether role is granted capability.
func RoleHas(role actor.Role, capability Capability) bool {
	for _, granted := range rolePolicy[role] {
		if granted == capability {
			return true
		}
	}
	return false
}
