package authz

import (
	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

// Reason codes attached to decisions for logging and audit.
const (
	ReasonAllowPlatformRole        = "AUTHZ_ALLOW_PLATFORM_ROLE"
	ReasonAllowTenantMatch         = "AUTHZ_ALLOW_TENANT_MATCH"
	ReasonAllowUnownedRecord       = "AUTHZ_ALLOW_UNOWNED_RECORD"
	ReasonDenyUnauthenticated      = "AUTHZ_DENY_UNAUTHENTICATED"
	ReasonDenyMissingTenant        = "AUTHZ_DENY_MISSING_TENANT"
	ReasonDenyTenantMismatch       = "AUTHZ_DENY_TENANT_MISMATCH"
	ReasonDenyCapabilityNotGranted = "AUTHZ_DENY_CAPABILITY_NOT_GRANTED"
	ReasonDenyAlreadyOwned         = "AUTHZ_DENY_ALREADY_OWNED"
	ReasonDenyAccountMismatch      = "AUTHZ_DENY_ACCOUNT_MISMATCH"
)

// Decision is an authorization outcome.
type Decision struct {
	Allowed    bool
	ReasonCode string
}

// Err converts a denial into a structured error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	code := apperrors.CodePermissionDenied
	if d.ReasonCode == ReasonDenyUnauthenticated {
		code = apperrors.CodeUnauthenticated
	}
	return apperrors.WithMetadata(code, "access denied", map[string]string{"reason": d.ReasonCode})
}

func allow(reason string) Decision { return Decision{Allowed: true, ReasonCode: reason} }

func deny(reason string) Decision { return Decision{ReasonCode: reason} }

// CanRead decides whether a may read e.
func CanRead(a actor.Actor, e entity.Entity) Decision {
	return CanMutate(a, e, CapabilityReadEntities)
}

// CanMutate decides whether a may exercise capability on e.
func CanMutate(a actor.Actor, e entity.Entity, capability Capability) Decision {
	d := scopeDecision(a, e)
	if !d.Allowed {
		return d
	}
	if !RoleHas(a.Role, capability) {
		return deny(ReasonDenyCapabilityNotGranted)
	}
	return d
}

// CanCreate decides whether a may create records owned by clientID.
func CanCreate(a actor.Actor, clientID string) Decision {
	return CanMutate(a, entity.Entity{ClientID: clientID}, CapabilityCreateEntities)
}

// CanReconcile decides whether a may attach guest quotes to accountID. It
// requires the create grant, and tenant roles may only target their own
// account.
func CanReconcile(a actor.Actor, accountID string) Decision {
	d := CanUse(a, CapabilityCreateEntities)
	if !d.Allowed {
		return d
	}
	if !a.Role.PlatformScoped() && a.UserID != accountID {
		return deny(ReasonDenyAccountMismatch)
	}
	return d
}

// CanUse decides whether a holds capability independent of any record.
func CanUse(a actor.Actor, capability Capability) Decision {
	if !a.Authenticated() {
		return deny(ReasonDenyUnauthenticated)
	}
	if a.Role.TenantScoped() && a.ClientID == "" {
		return deny(ReasonDenyMissingTenant)
	}
	if !RoleHas(a.Role, capability) {
		return deny(ReasonDenyCapabilityNotGranted)
	}
	if a.Role.PlatformScoped() {
		return allow(ReasonAllowPlatformRole)
	}
	return allow(ReasonAllowTenantMatch)
}

// CanClaim decides whether a may take ownership of e. The record must be
// unowned and either tenant-less or already in a's tenant.
func CanClaim(a actor.Actor, e entity.Entity) Decision {
	if !a.Authenticated() || a.Role == actor.RoleSystem {
		return deny(ReasonDenyUnauthenticated)
	}
	if !a.Role.TenantScoped() {
		return deny(ReasonDenyCapabilityNotGranted)
	}
	if a.ClientID == "" {
		return deny(ReasonDenyMissingTenant)
	}
	if e.Owned() {
		return deny(ReasonDenyAlreadyOwned)
	}
	if e.ClientID != "" && e.ClientID != a.ClientID {
		return deny(ReasonDenyTenantMismatch)
	}
	if !RoleHas(a.Role, CapabilityClaim) {
		return deny(ReasonDenyCapabilityNotGranted)
	}
	return allow(ReasonAllowUnownedRecord)
}

func scopeDecision(a actor.Actor, e entity.Entity) Decision {
	if !a.Authenticated() {
		return deny(ReasonDenyUnauthenticated)
	}
	scope := ScopeFor(a)
	switch scope.Kind {
	case ScopeAll:
		return allow(ReasonAllowPlatformRole)
	case ScopeTenant:
		if scope.Matches(e) {
			return allow(ReasonAllowTenantMatch)
		}
		return deny(ReasonDenyTenantMismatch)
	default:
		return deny(ReasonDenyMissingTenant)
	}
}
