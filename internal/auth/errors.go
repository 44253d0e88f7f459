package auth

import "errors"

// CodeForbiddenAdminOnly is the stable machine-readable code attached to
// admin-gate failures.
const CodeForbiddenAdminOnly = "FORBIDDEN_ADMIN_ONLY"

// Error is an authorization failure with a stable code, distinct from
// validation and not-found errors at the HTTP boundary.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrForbidden is returned when the caller lacks the admin capability.
var ErrForbidden = &Error{
	Code:    CodeForbiddenAdminOnly,
	Message: "access denied: admin privileges required",
}

// ErrInvalidToken indicates the bearer token failed validation.
var ErrInvalidToken = errors.New("invalid token")
