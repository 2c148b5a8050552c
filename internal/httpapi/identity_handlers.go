package httpapi

import (
	"net/http"
	"strings"
	"time"

	"pagegrid.org/internal/audit"
	"pagegrid.org/internal/identity"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	meta := identity.SessionMeta{UserAgent: r.UserAgent(), IP: clientIP(r)}
	sess, user, err := a.identity.SignIn(r.Context(), req.Email, req.Password, meta)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	a.writeSessionCookie(w, sess.Token, sess.ExpiresAt)
	_ = audit.LogEvent(r.Context(), "auth.signin", map[string]any{"user_id": user.ID})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if rawToken, ok := readSessionCookie(r); ok {
		if err := a.identity.SignOut(r.Context(), rawToken); err != nil {
			handleCoreError(w, r, err)
			return
		}
	}
	a.clearSessionCookie(w)
	a.clearImpersonationCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
}

type resetRequest struct {
	Email string `json:"email"`
}

// handleResetRequest is always success-shaped: whether the email matched a
// principal is never disclosed on this public path.
func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := a.identity.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.identity.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_updated"})
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.identity.VerifyEmail(r.Context(), req.Token); err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "email_verified"})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// handleAdminUsers serves system-admin user management: PATCH
// /v1/admin/users/{id}/role. The decision runs on the effective identity,
// so an admin impersonating an ordinary user loses this surface.
func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/users/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) != 2 || parts[1] != "role" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := a.tenants.Authorizer().RequireSystemAdmin(eff); err != nil {
		handleCoreError(w, r, err)
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.identity.SetRole(r.Context(), parts[0], role)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.role", map[string]any{
		"user_id": user.ID,
		"role":    string(role),
	})
	writeJSON(w, http.StatusOK, user)
}

type impersonateRequest struct {
	UserID string `json:"user_id"`
}

// handleImpersonate starts (POST) or stops (DELETE) impersonation. Starting
// is decided on the caller's real, freshly re-verified identity; stopping is
// always permitted and has no role precondition.
func (a *API) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		eff, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req impersonateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		target, err := a.identity.StartImpersonation(r.Context(), eff.Real.ID, req.UserID)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		signed, err := a.signImpersonation(eff.Real.ID, target.ID, time.Now().UTC())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		a.writeImpersonationCookie(w, signed)
		_ = audit.LogEvent(r.Context(), "auth.impersonation.start", map[string]any{
			"target_id": target.ID,
		})
		writeJSON(w, http.StatusOK, map[string]any{
			"impersonating": target.ID,
		})
	case http.MethodDelete:
		eff, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		a.clearImpersonationCookie(w)
		_ = audit.LogEvent(r.Context(), "auth.impersonation.stop", map[string]any{
			"user_id": eff.Real.ID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}
