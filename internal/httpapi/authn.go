package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"slotmarket.org/internal/auth"
)

const (
	authHeader  = "Authorization"
	bearer      = "Bearer "
	roleHeader  = "X-Role"
	groupHeader = "X-Group-Id"
)

// withPrincipal resolves the caller identity and attaches it to the request
// context. A bearer token wins when present; otherwise the X-Role and
// X-Group-Id placeholder headers stand in for the upstream identity
// provider. The gate itself runs in the mutating handlers, so reads never
// pay for authorization.
func (a *API) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header != "" && auth.SecretConfigured() {
			token, err := extractBearerToken(header)
			if err != nil {
				respondUnauthorized(w, r, err.Error())
				return
			}
			claims, err := auth.ParseAndValidate(token)
			if err != nil {
				respondUnauthorized(w, r, "invalid token")
				return
			}
			principal := auth.Principal{
				Subject: claims.Subject,
				GroupID: claims.GroupID,
				Roles:   claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
			return
		}

		role := strings.TrimSpace(r.Header.Get(roleHeader))
		group := strings.TrimSpace(r.Header.Get(groupHeader))
		if role == "" && group == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal := auth.Principal{GroupID: group}
		if role != "" {
			principal.Roles = []string{role}
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusUnauthorized, msg)
}
