package auth

import (
	"context"
	"strings"
)

// Principal is the resolved caller identity: who is calling, which group
// they act for, and the roles they carry. It is produced by the HTTP layer
// (bearer token or placeholder headers) and consumed by the gate.
type Principal struct {
	Subject string
	GroupID string
	Roles   []string
}

// IsAdmin reports whether the principal carries the admin role,
// case-insensitively.
func (p Principal) IsAdmin() bool {
	for _, role := range p.Roles {
		if strings.EqualFold(role, "admin") {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the caller identity to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the caller identity from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// RequireAdmin gates a mutating call: the caller must present the admin
// role. Failure is an *Error with a stable code; the caller's request must
// not reach the ledger.
func RequireAdmin(ctx context.Context) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok || !principal.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
