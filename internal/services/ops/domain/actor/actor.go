// Package actor identifies who performs an operation.
package actor

import "strings"

// Role is an actor's platform role.
type Role string

const (
	RoleClientAdmin Role = "client_admin"
	RoleClientUser  Role = "client_user"
	RoleAgent       Role = "agent"
	RoleFinance     Role = "finance"
	RoleAdmin       Role = "admin"
	RoleSystem      Role = "system"
	RoleAnonymous   Role = "anonymous"
)

// Roles returns every assignable role.
func Roles() []Role {
	return []Role{RoleClientAdmin, RoleClientUser, RoleAgent, RoleFinance, RoleAdmin, RoleSystem}
}

// ParseRole normalises a role name.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Roles() {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// TenantScoped reports whether the role only sees its own client's records.
func (r Role) TenantScoped() bool {
	return r == RoleClientAdmin || r == RoleClientUser
}

// PlatformScoped reports whether the role sees every tenant.
func (r Role) PlatformScoped() bool {
	switch r {
	case RoleAgent, RoleFinance, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the authenticated principal behind a request.
type Actor struct {
	UserID   string
	Role     Role
	ClientID string
	Email    string
	Phone    string
}

// System returns the actor used for system-generated events.
func System() Actor {
	return Actor{Role: RoleSystem}
}

// Anonymous returns the actor for unauthenticated public requests.
func Anonymous() Actor {
	return Actor{Role: RoleAnonymous}
}

// Authenticated reports whether the actor is a signed-in user or the system.
func (a Actor) Authenticated() bool {
	if a.Role == RoleSystem {
		return true
	}
	return a.UserID != "" && a.Role != RoleAnonymous && a.Role != ""
}

// NormalizeEmail lowercases and trims an email for matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps digits and a leading plus for matching.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
