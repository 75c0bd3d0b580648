package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"paperstack.io/internal/audit"
	"paperstack.io/internal/entitlement"
	"paperstack.io/internal/identity"
	"paperstack.io/internal/obs"
	"paperstack.io/internal/token"
)

// refreshCookieName is the HttpOnly cookie carrying the opaque refresh
// token, scoped to the auth path so it never rides along on API calls.
const (
	refreshCookieName = "ps_refresh"
	refreshCookiePath = "/v1/auth"
)

type bootstrapRequest struct {
	Organization string `json:"organization"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Org      string `json:"org,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req bootstrapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	res, err := a.directory.Bootstrap(r.Context(), identity.BootstrapInput{
		OrgName:  req.Organization,
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAlreadyInitialized):
			writeError(w, r, http.StatusConflict, codeAlreadyInitialized, "already initialized")
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "organization, email and password are required")
		default:
			writeStorageError(w, r, err)
		}
		return
	}

	// The first organization starts on the default plan so entitlement
	// checks have something to resolve.
	if err := a.subs.Create(r.Context(), &entitlement.Subscription{
		OrgID:   res.OrgID,
		PlanKey: a.cfg.DefaultPlan,
		Status:  entitlement.StatusActive,
		RenewAt: time.Now().UTC().Add(30 * 24 * time.Hour),
	}); err != nil {
		writeStorageError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "identity.bootstrap", map[string]any{
		"org_id":  res.OrgID,
		"user_id": res.UserID,
		"plan":    a.cfg.DefaultPlan,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":  res.OrgID,
		"user_id": res.UserID,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	user, err := a.directory.VerifyCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			obs.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
			writeError(w, r, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
			return
		}
		writeStorageError(w, r, err)
		return
	}

	orgID, role, err := a.pickMembership(r.Context(), user.ID, req.Org)
	if err != nil {
		if errors.Is(err, identity.ErrNotAMember) {
			obs.LoginsTotal.WithLabelValues("no_membership").Inc()
			writeError(w, r, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
			return
		}
		writeStorageError(w, r, err)
		return
	}

	pair, err := a.tokens.Login(r.Context(), user.ID, orgID, string(role))
	if err != nil {
		writeStorageError(w, r, err)
		return
	}

	obs.LoginsTotal.WithLabelValues("success").Inc()
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": user.ID,
		"org_id":  orgID,
	})
	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken, ExpiresAt: pair.AccessExpiresAt})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, err := a.authenticate(r)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    claims.UserID(),
		"org_id":     claims.OrgID,
		"role":       claims.Role,
		"expires_at": claims.ExpiresAt.Time,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	presented := a.refreshCookieValue(r)
	pair, err := a.tokens.Refresh(r.Context(), presented)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNoRefresh):
			a.clearRefreshCookie(w)
			writeError(w, r, http.StatusUnauthorized, codeNoRefresh, "no valid refresh token")
		case errors.Is(err, token.ErrTokenReuse):
			a.clearRefreshCookie(w)
			_ = audit.LogEvent(r.Context(), "auth.token_reuse", map[string]any{
				"remote": clientIP(r),
			})
			writeError(w, r, http.StatusUnauthorized, codeTokenReuse, "refresh token reuse detected")
		default:
			writeStorageError(w, r, err)
		}
		return
	}

	a.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse{Token: pair.AccessToken, ExpiresAt: pair.AccessExpiresAt})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	// Idempotent: a missing or dead cookie is still a successful logout.
	if presented := a.refreshCookieValue(r); presented != "" {
		if err := a.tokens.Logout(r.Context(), presented); err != nil {
			writeStorageError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// pickMembership resolves the org context for a login. An explicit org wins;
// otherwise the user's earliest membership is used.
func (a *API) pickMembership(ctx context.Context, userID, explicitOrg string) (string, identity.Role, error) {
	if org := strings.TrimSpace(explicitOrg); org != "" {
		role, err := a.directory.ResolveMembership(ctx, userID, org)
		if err != nil {
			return "", "", err
		}
		return org, role, nil
	}
	memberships, err := a.directory.Memberships(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if len(memberships) == 0 {
		return "", "", identity.ErrNotAMember
	}
	sort.Slice(memberships, func(i, j int) bool {
		if memberships[i].CreatedAt.Equal(memberships[j].CreatedAt) {
			return memberships[i].OrgID < memberships[j].OrgID
		}
		return memberships[i].CreatedAt.Before(memberships[j].CreatedAt)
	})
	return memberships[0].OrgID, memberships[0].Role, nil
}

func (a *API) refreshCookieValue(r *http.Request) string {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (a *API) setRefreshCookie(w http.ResponseWriter, pair token.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// writeStorageError surfaces backend faults. Context deadline hits are the
// retryable class; everything else is an opaque internal error.
func writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusServiceUnavailable, codeTransientStorage, "storage temporarily unavailable")
		return
	}
	obs.LogRequest(map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"level":      "error",
		"msg":        "internal error",
		"request_id": RequestIDFromContext(r.Context()),
		"error":      err.Error(),
	})
	writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
}
