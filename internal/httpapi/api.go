// Package httpapi presents the identity, session and entitlement core as
// HTTP endpoints, cookies and status codes. It carries no business logic of
// its own.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"paperstack.io/internal/entitlement"
	"paperstack.io/internal/identity"
	"paperstack.io/internal/obs"
	"paperstack.io/internal/token"
	"paperstack.io/internal/usage"
)

const (
	defaultHandlerTimeout = 5 * time.Second
	authRateBurst         = 10
	authRatePerSecond     = 5
)

// ReadyProbe checks backing-store readiness (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries transport-level settings.
type Config struct {
	Version string
	// SecureCookies marks the refresh cookie Secure; disable only for local
	// plain-HTTP development.
	SecureCookies bool
	// DefaultPlan is the plan assigned to the organization created by
	// bootstrap.
	DefaultPlan string
	ReadyProbe  ReadyProbe
}

// API is the HTTP layer over the core services.
type API struct {
	mux *http.ServeMux
	cfg Config

	directory *identity.Directory
	tokens    *token.Service
	resolver  *entitlement.Resolver
	subs      entitlement.SubscriptionStore
	meter     *usage.Meter
}

// New wires the endpoint table.
func New(cfg Config, directory *identity.Directory, tokens *token.Service,
	resolver *entitlement.Resolver, subs entitlement.SubscriptionStore, meter *usage.Meter) *API {
	if cfg.DefaultPlan == "" {
		cfg.DefaultPlan = "normal"
	}
	a := &API{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		directory: directory,
		tokens:    tokens,
		resolver:  resolver,
		subs:      subs,
		meter:     meter,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/bootstrap", authLimited(http.HandlerFunc(a.handleBootstrap)))
	a.mux.Handle("/v1/auth/login", authLimited(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/v1/auth/refresh", authLimited(http.HandlerFunc(a.handleRefresh)))
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/v1/members", a.handleMemberAdd)
	a.mux.HandleFunc("/v1/entitlements/", a.handleEntitlementCheck)
	a.mux.HandleFunc("/v1/documents/extract", a.handleDocumentExtract)
	a.mux.HandleFunc("/v1/subscription", a.handleSubscriptionChange)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// authLimited rate-limits credential-bearing endpoints per client IP.
func authLimited(next http.Handler) http.Handler {
	return RateLimit(next, authRateBurst, authRatePerSecond)
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = WithTimeout(h, defaultHandlerTimeout)
	h = MaxBodyBytes(h, 1<<20)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- Health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "paperstack-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.cfg.ReadyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "paperstack-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}
