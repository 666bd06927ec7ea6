package auth

import "context"

// Role is the closed set of privilege levels a caller can hold. Roles are
// global, not namespace-scoped — namespace isolation is enforced by the
// routing policy engine and the store layer, not by RBAC (spec §4.F, §6).
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Authentication methods recorded on an Identity for audit logging.
const (
	MethodSession = "session"
	MethodOIDC    = "oidc"
	MethodDev     = "dev"
)

var validRoles = map[string]bool{
	RoleAdmin:    true,
	RoleOperator: true,
	RoleViewer:   true,
}

// IsValidRole reports whether role is one of the known roles.
func IsValidRole(role string) bool {
	return validRoles[role]
}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Subject string
	Email   string
	Role    string
	UserID  string
	Method  string
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying identity.
func NewContext(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext returns the Identity stored in ctx, or nil if none is present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
