package authz

import (
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

// ScopeKind is the breadth of records an actor may see.
type ScopeKind int

const (
	// ScopeNone matches nothing.
	ScopeNone ScopeKind = iota
	// ScopeTenant matches records of one client.
	ScopeTenant
	// ScopeAll matches every record.
	ScopeAll
)

// Scope is a storage-independent row filter.
type Scope struct {
	Kind     ScopeKind
	ClientID string
}

// ScopeFor resolves the visibility scope of a.
func ScopeFor(a actor.Actor) Scope {
	switch {
	case a.Role.PlatformScoped() && a.Authenticated():
		return Scope{Kind: ScopeAll}
	case a.Role.TenantScoped() && a.Authenticated() && a.ClientID != "":
		return Scope{Kind: ScopeTenant, ClientID: a.ClientID}
	default:
		return Scope{Kind: ScopeNone}
	}
}

// Matches reports whether e falls inside the scope.
func (s Scope) Matches(e entity.Entity) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeTenant:
		return s.ClientID != "" && e.ClientID == s.ClientID
	default:
		return false
	}
}
