package httpapi

import (
	"errors"
	"net/http"

	"paperstack.io/internal/audit"
	"paperstack.io/internal/identity"
)

type memberAddRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// handleMemberAdd lets an admin attach an account to their organization,
// creating the account when the email is new. Existing accounts keep their
// password; the request's password is ignored for them.
func (a *API) handleMemberAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, err := a.authenticate(r)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	var req memberAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	role := identity.Role(req.Role)
	if req.Role == "" {
		role = identity.RoleUser
	}

	orgID := resolveOrg(r.URL.Query().Get("org"), r.Header.Get(orgHeader), claims)
	callerRole, err := a.directory.ResolveMembership(r.Context(), claims.UserID(), orgID)
	if err != nil {
		if errors.Is(err, identity.ErrNotAMember) {
			writeError(w, r, http.StatusForbidden, codeNotAMember, "not a member of this organization")
			return
		}
		writeStorageError(w, r, err)
		return
	}
	if callerRole != identity.RoleAdmin {
		writeError(w, r, http.StatusForbidden, codeNotAMember, "admin role required")
		return
	}

	user, created, err := a.directory.AttachMember(r.Context(), orgID, req.Email, req.Password, req.Name, role)
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "email, a valid role and a password for new accounts are required")
		return
	case errors.Is(err, identity.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, codeBadRequest, "already a member")
		return
	case err != nil:
		writeStorageError(w, r, err)
		return
	}

	ctx := identity.ContextWithActor(r.Context(), actorFromClaims(claims))
	_ = audit.LogEvent(ctx, "identity.member_added", map[string]any{
		"org_id":  orgID,
		"user_id": user.ID,
		"role":    string(role),
		"created": created,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"role":    string(role),
		"created": created,
	})
}
