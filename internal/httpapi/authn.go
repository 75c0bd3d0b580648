package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"paperstack.io/internal/identity"
	"paperstack.io/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	orgHeader  = "X-Org-Id"
)

// authenticate validates the bearer access token and returns its claims.
// Verification is pure: signature and expiry only, no storage lookup.
func (a *API) authenticate(r *http.Request) (*token.Claims, error) {
	raw, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return nil, token.ErrInvalidToken
	}
	return a.tokens.VerifyAccess(raw)
}

// writeAuthError maps access token verification failures to 401 responses.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "access token expired")
	default:
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "invalid access token")
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	tok := strings.TrimSpace(header[len(bearer):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}

// resolveOrg picks the organization a request operates on, with a fixed
// precedence: explicit query parameter, then header, then the token claim.
// It is a pure function of its inputs.
func resolveOrg(query, header string, claims *token.Claims) string {
	if v := strings.TrimSpace(query); v != "" {
		return v
	}
	if v := strings.TrimSpace(header); v != "" {
		return v
	}
	return claims.OrgID
}

// actorFromClaims builds the immutable request identity attached at the
// authentication boundary.
func actorFromClaims(claims *token.Claims) identity.Actor {
	return identity.Actor{
		UserID: claims.UserID(),
		OrgID:  claims.OrgID,
		Role:   identity.Role(claims.Role),
	}
}
