package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"paperstack.io/internal/entitlement"
	"paperstack.io/internal/identity"
	"paperstack.io/internal/token"
	"paperstack.io/internal/usage"
)

func limit(v int64) *int64 { return &v }

type testEnv struct {
	api     *API
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithTokenStore(t, token.NewMemStore())
}

func newTestEnvWithTokenStore(t *testing.T, tokStore token.Store) *testEnv {
	t.Helper()

	directory := identity.NewDirectory(identity.NewMemStore())
	tokens, err := token.NewService(tokStore, "test-secret")
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}
	catalog, err := entitlement.NewCatalog(
		[]entitlement.Plan{
			{Key: "normal", Name: "Normal"},
			{Key: "pro", Name: "Pro"},
		},
		[]entitlement.Entitlement{
			{PlanKey: "normal", Key: "doc_upload", Enabled: true},
			{PlanKey: "pro", Key: "doc_upload", Enabled: true},
			{PlanKey: "pro", Key: "ai_extract", Enabled: true, Limit: limit(2)},
		},
	)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	subs := entitlement.NewMemSubscriptionStore()
	meter := usage.NewMeter(usage.NewMemStore())
	resolver := entitlement.NewResolver(catalog, subs, meter)

	api := New(Config{Version: "test"}, directory, tokens, resolver, subs, meter)
	return &testEnv{api: api, handler: api.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func refreshCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", refreshCookieName)
	return nil
}

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func TestEndToEndSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Bootstrap Acme with its first admin.
	rr := env.do(t, http.MethodPost, "/v1/bootstrap", bootstrapRequest{
		Organization: "Acme", Email: "a@x.com", Password: "pw123", Name: "Ada",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("bootstrap: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/bootstrap", bootstrapRequest{
		Organization: "Other", Email: "b@x.com", Password: "pw",
	}, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second bootstrap: expected 409, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeAlreadyInitialized {
		t.Fatalf("expected code %s, got %v", codeAlreadyInitialized, body["code"])
	}

	// Wrong credentials are a 401 with no hint of which part was wrong.
	rr = env.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "a@x.com", Password: "nope"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeInvalidCredentials {
		t.Fatalf("expected code %s, got %v", codeInvalidCredentials, body["code"])
	}

	// Login returns T1 and sets the refresh cookie C1.
	rr = env.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "a@x.com", Password: "pw123"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	t1 := decodeBody(t, rr)["token"].(string)
	c1 := refreshCookie(t, rr)
	if !c1.HttpOnly || c1.Path != refreshCookiePath {
		t.Fatalf("refresh cookie must be HttpOnly and path-scoped, got %+v", c1)
	}

	// T1 introspects as the admin of Acme.
	rr = env.do(t, http.MethodGet, "/v1/auth/me", nil, withBearer(t1))
	if rr.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["role"] != "admin" {
		t.Fatalf("expected admin role, got %v", body["role"])
	}

	rr = env.do(t, http.MethodGet, "/v1/auth/me", nil, withBearer("bogus"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("me with bad token: expected 401, got %d", rr.Code)
	}

	// Refresh with C1 rotates to T2/C2.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", nil, withCookie(c1))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	c2 := refreshCookie(t, rr)

	// T1 keeps working until its own expiry; rotation does not revoke it.
	rr = env.do(t, http.MethodGet, "/v1/auth/me", nil, withBearer(t1))
	if rr.Code != http.StatusOK {
		t.Fatalf("me with T1 after rotation: expected 200, got %d", rr.Code)
	}

	// Replaying C1 is reuse: the whole family burns.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", nil, withCookie(c1))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay refresh: expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeTokenReuse {
		t.Fatalf("expected code %s, got %v", codeTokenReuse, body["code"])
	}

	// C2 was revoked along with the family.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", nil, withCookie(c2))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh with revoked family: expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeTokenReuse {
		t.Fatalf("expected code %s, got %v", codeTokenReuse, body["code"])
	}

	// Refresh with no cookie at all.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh without cookie: expected 401, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeNoRefresh {
		t.Fatalf("expected code %s, got %v", codeNoRefresh, body["code"])
	}
}

func TestEntitlementGatedOperation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/bootstrap", bootstrapRequest{
		Organization: "Acme", Email: "a@x.com", Password: "pw123",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("bootstrap: %d", rr.Code)
	}
	orgID := decodeBody(t, rr)["org_id"].(string)

	rr = env.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "a@x.com", Password: "pw123"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}
	tok := decodeBody(t, rr)["token"].(string)

	// Unauthenticated calls never reach the entitlement check.
	rr = env.do(t, http.MethodPost, "/v1/documents/extract", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("extract without token: expected 401, got %d", rr.Code)
	}

	// The bootstrap org is on the normal plan: ai_extract is denied.
	rr = env.do(t, http.MethodPost, "/v1/documents/extract", nil, withBearer(tok))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("extract on normal plan: expected 403, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeEntitlementDenied {
		t.Fatalf("expected code %s, got %v", codeEntitlementDenied, body["code"])
	}

	rr = env.do(t, http.MethodGet, "/v1/entitlements/ai_extract", nil, withBearer(tok))
	if rr.Code != http.StatusOK {
		t.Fatalf("entitlement check: expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["decision"] != "denied" {
		t.Fatalf("expected denied, got %v", body["decision"])
	}

	// Admin upgrades the org to pro (limit 2).
	rr = env.do(t, http.MethodPost, "/v1/subscription", subscriptionChangeRequest{
		OrgID: orgID, PlanKey: "pro",
	}, withBearer(tok))
	if rr.Code != http.StatusOK {
		t.Fatalf("subscription change: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Two units pass, the third exceeds the limit.
	for i := 0; i < 2; i++ {
		rr = env.do(t, http.MethodPost, "/v1/documents/extract", nil, withBearer(tok))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("extract %d on pro plan: expected 202, got %d: %s", i+1, rr.Code, rr.Body.String())
		}
	}
	rr = env.do(t, http.MethodPost, "/v1/documents/extract", nil, withBearer(tok))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("extract over limit: expected 403, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeLimitExceeded {
		t.Fatalf("expected code %s, got %v", codeLimitExceeded, body["code"])
	}

	// An org the caller is not a member of is rejected before any check.
	rr = env.do(t, http.MethodPost, "/v1/documents/extract?org=someone-else", nil, withBearer(tok))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("extract for foreign org: expected 403, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["code"] != codeNotAMember {
		t.Fatalf("expected code %s, got %v", codeNotAMember, body["code"])
	}
}

func TestLogoutIsIdempotentOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/bootstrap", bootstrapRequest{
		Organization: "Acme", Email: "a@x.com", Password: "pw123",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("bootstrap: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "a@x.com", Password: "pw123"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}
	c1 := refreshCookie(t, rr)

	for i := 0; i < 2; i++ {
		rr = env.do(t, http.MethodPost, "/v1/auth/logout", nil, withCookie(c1))
		if rr.Code != http.StatusOK {
			t.Fatalf("logout %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	// No cookie at all is still fine.
	rr = env.do(t, http.MethodPost, "/v1/auth/logout", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout without cookie: expected 200, got %d", rr.Code)
	}

	// The session is unusable afterwards.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", nil, withCookie(c1))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

// outageTokenStore fails reads, simulating a storage backend outage after
// sessions were issued.
type outageTokenStore struct {
	*token.MemStore
	down bool
}

func (s *outageTokenStore) Find(ctx context.Context, id string) (*token.RefreshTokenRecord, error) {
	if s.down {
		return nil, context.DeadlineExceeded
	}
	return s.MemStore.Find(ctx, id)
}

func TestStorageOutageDoesNotDestroySessions(t *testing.T) {
	store := &outageTokenStore{MemStore: token.NewMemStore()}
	env := newTestEnvWithTokenStore(t, store)

	rr := env.do(t, http.MethodPost, "/v1/bootstrap", bootstrapRequest{
		Organization: "Acme", Email: "a@x.com", Password: "pw123",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("bootstrap: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "a@x.com", Password: "pw123"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}
	c1 := refreshCookie(t, rr)

	store.down = true

	// A DB blip during refresh is answered 503, and the cookie survives: a
	// 401 here would clear it and destroy a valid session.
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", nil, withCookie(c1))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("refresh during outage: expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["code"] != codeTransientStorage {
		t.Fatalf("expected code %s, got %v", codeTransientStorage, body["code"])
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == refreshCookieName {
			t.Fatalf("refresh cookie must not be touched during an outage, got %+v", c)
		}
	}

	// Logout cannot claim success while revocation is impossible.
	rr = env.do(t, http.MethodPost, "/v1/auth/logout", nil, withCookie(c1))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("logout during outage: expected 503, got %d", rr.Code)
	}

	// Once storage is back the session still works.
	store.down = false
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", nil, withCookie(c1))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh after recovery: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMemberManagement(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/bootstrap", bootstrapRequest{
		Organization: "Acme", Email: "a@x.com", Password: "pw123",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("bootstrap: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "a@x.com", Password: "pw123"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d", rr.Code)
	}
	adminTok := decodeBody(t, rr)["token"].(string)

	// Admin creates a regular member.
	rr = env.do(t, http.MethodPost, "/v1/members", memberAddRequest{
		Email: "b@x.com", Password: "pw456", Name: "Bea",
	}, withBearer(adminTok))
	if rr.Code != http.StatusOK {
		t.Fatalf("add member: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["created"] != true || body["role"] != "user" {
		t.Fatalf("expected created user with default role, got %v", body)
	}

	// Adding the same member again is a conflict.
	rr = env.do(t, http.MethodPost, "/v1/members", memberAddRequest{
		Email: "b@x.com",
	}, withBearer(adminTok))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate member: expected 409, got %d", rr.Code)
	}

	// The new member can log in and sees the user role.
	rr = env.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: "b@x.com", Password: "pw456"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("member login: %d", rr.Code)
	}
	memberTok := decodeBody(t, rr)["token"].(string)
	rr = env.do(t, http.MethodGet, "/v1/auth/me", nil, withBearer(memberTok))
	if rr.Code != http.StatusOK {
		t.Fatalf("member me: %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["role"] != "user" {
		t.Fatalf("expected user role, got %v", body["role"])
	}

	// Regular members cannot manage membership.
	rr = env.do(t, http.MethodPost, "/v1/members", memberAddRequest{
		Email: "c@x.com", Password: "pw789",
	}, withBearer(memberTok))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("member adding member: expected 403, got %d", rr.Code)
	}
}

func TestResolveOrgPrecedence(t *testing.T) {
	claims := &token.Claims{OrgID: "org-claim"}
	if got := resolveOrg("org-query", "org-header", claims); got != "org-query" {
		t.Fatalf("query should win, got %s", got)
	}
	if got := resolveOrg("", "org-header", claims); got != "org-header" {
		t.Fatalf("header should win over claim, got %s", got)
	}
	if got := resolveOrg("", "", claims); got != "org-claim" {
		t.Fatalf("claim is the default, got %s", got)
	}
	if got := resolveOrg("  ", "\t", claims); got != "org-claim" {
		t.Fatalf("whitespace inputs are ignored, got %s", got)
	}
}
