package httpapi

import (
	"net/http"
	"strings"

	"pagegrid.org/internal/audit"
	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/invite"
	"pagegrid.org/internal/tenant"
)

type createInviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// handleCreateInvite serves both nested invite routes; exactly one of orgID
// and teamID is non-empty, fixed by the route the request arrived on.
func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request, orgID, teamID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := tenant.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := a.invites.Create(r.Context(), eff, invite.CreateParams{
		Email:          req.Email,
		OrganizationID: orgID,
		TeamID:         teamID,
		Role:           role,
	})
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invite.create", map[string]any{
		"invite_id": inv.ID,
		"email":     inv.Email,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"invite": inv,
		"link":   a.invites.Link(inv),
	})
}

type acceptInviteRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (a *API) handleInviteScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/invites/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(path, "/")
	rawToken := parts[0]
	switch {
	case len(parts) == 1:
		a.handleInvitePreview(w, r, rawToken)
	case len(parts) == 2 && parts[1] == "accept":
		a.handleInviteAccept(w, r, rawToken)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

// handleInvitePreview is the pre-acceptance lookup behind the invite link.
// It is unauthenticated: the token itself is the capability.
func (a *API) handleInvitePreview(w http.ResponseWriter, r *http.Request, rawToken string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	inv, err := a.invites.FetchByToken(r.Context(), rawToken)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) handleInviteAccept(w http.ResponseWriter, r *http.Request, rawToken string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req acceptInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.invites.Accept(r.Context(), rawToken, invite.AcceptParams{
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		handleCoreError(w, r, err)
		return
	}

	// A freshly created principal is signed in as part of acceptance so the
	// invite link lands them in a usable session.
	if res.CreatedUser {
		meta := identity.SessionMeta{UserAgent: r.UserAgent(), IP: clientIP(r)}
		sess, err := a.identity.IssueSession(r.Context(), res.User.ID, meta)
		if err == nil {
			a.writeSessionCookie(w, sess.Token, sess.ExpiresAt)
		}
	}

	_ = audit.LogEvent(r.Context(), "invite.accept", map[string]any{
		"invite_id":        res.Invite.ID,
		"user_id":          res.User.ID,
		"created_user":     res.CreatedUser,
		"already_accepted": res.AlreadyAccepted,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"invite":           res.Invite,
		"user":             res.User,
		"created_user":     res.CreatedUser,
		"already_accepted": res.AlreadyAccepted,
	})
}
