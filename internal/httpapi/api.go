// Package httpapi is the HTTP surface of the identity core. Handlers stay
// thin: they decode, call a service, map the error taxonomy once and
// serialize. The effective identity is produced exactly once per request by
// the identity middleware and threaded through the context.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/invite"
	"pagegrid.org/internal/obs"
	"pagegrid.org/internal/tenant"
	"pagegrid.org/internal/token"
)

// ReadyProbe checks downstream readiness (database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	identity *identity.Service
	tenants  *tenant.Service
	invites  *invite.Service

	authSecret    []byte
	secureCookies bool
	rateBurst     int
	ratePerSec    int
}

// Options carries construction parameters beyond the services.
type Options struct {
	AuthSecret    string
	SecureCookies bool
	RateBurst     int
	RatePerSec    int
}

// New wires the routes.
func New(rp ReadyProbe, version string, idsvc *identity.Service, tenants *tenant.Service, invites *invite.Service, opts Options) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		identity:      idsvc,
		tenants:       tenants,
		invites:       invites,
		authSecret:    []byte(opts.AuthSecret),
		secureCookies: opts.SecureCookies,
		rateBurst:     opts.RateBurst,
		ratePerSec:    opts.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/signin", a.handleSignIn)
	a.mux.HandleFunc("/v1/auth/signout", a.handleSignOut)
	a.mux.HandleFunc("/v1/auth/reset-password", a.handleResetRequest)
	a.mux.HandleFunc("/v1/auth/reset-password/confirm", a.handleResetConfirm)
	a.mux.HandleFunc("/v1/auth/verify-email", a.handleVerifyEmail)

	a.mux.HandleFunc("/v1/admin/impersonate", a.handleImpersonate)
	a.mux.HandleFunc("/v1/admin/users/", a.handleAdminUsers)

	a.mux.HandleFunc("/v1/orgs", a.handleOrgs)
	a.mux.HandleFunc("/v1/orgs/", a.handleOrgScoped)
	a.mux.HandleFunc("/v1/teams/", a.handleTeamScoped)
	a.mux.HandleFunc("/v1/invites/", a.handleInviteScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withIdentity(h)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- Service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "pagegrid-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "pagegrid-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleCoreError maps the error taxonomy to HTTP once, at the boundary.
// Anything outside the taxonomy is an opaque internal failure: storage
// detail never reaches the caller.
func handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "not signed in")
	case errors.Is(err, identity.ErrForbidden), errors.Is(err, tenant.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, invite.ErrExpired), errors.Is(err, token.ErrExpired):
		writeError(w, r, http.StatusGone, "expired")
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, tenant.ErrNotFound),
		errors.Is(err, invite.ErrNotFound), errors.Is(err, token.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, identity.ErrConflict), errors.Is(err, tenant.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrInvalidInput), errors.Is(err, tenant.ErrInvalidInput),
		errors.Is(err, invite.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
