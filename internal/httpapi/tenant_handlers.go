package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"pagegrid.org/internal/audit"
	"pagegrid.org/internal/tenant"
)

type createOrgRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateOrgRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type createTeamRequest struct {
	Name string `json:"name"`
}

func (a *API) handleOrgs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createOrgRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.tenants.CreateOrganization(r.Context(), eff, req.Slug, req.Name, req.Description)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.organization.create", map[string]any{
		"organization_id": org.ID,
		"slug":            org.Slug,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/orgs/%s", org.ID))
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrgScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/orgs/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]
	switch {
	case len(parts) == 2 && parts[0] == "by-slug":
		a.handleOrgBySlug(w, r, parts[1])
	case len(parts) == 1:
		a.handleOrgResource(w, r, orgID)
	case len(parts) == 2 && parts[1] == "teams":
		a.handleOrgTeams(w, r, orgID)
	case len(parts) == 2 && parts[1] == "members":
		a.handleMembers(w, r, tenant.OrgScope(orgID))
	case len(parts) == 3 && parts[1] == "members":
		a.handleMemberResource(w, r, tenant.OrgScope(orgID), parts[2])
	case len(parts) == 2 && parts[1] == "invites":
		a.handleCreateInvite(w, r, orgID, "")
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) handleOrgBySlug(w http.ResponseWriter, r *http.Request, slug string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	org, err := a.tenants.GetOrganizationBySlug(r.Context(), slug)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	err = a.tenants.Authorizer().RequireMembership(r.Context(), eff, tenant.OrgScope(org.ID),
		tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleOrgResource(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		eff, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		org, err := a.tenants.GetOrganization(r.Context(), orgID)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		err = a.tenants.Authorizer().RequireMembership(r.Context(), eff, tenant.OrgScope(org.ID),
			tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case http.MethodPatch:
		eff, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req updateOrgRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.tenants.UpdateOrganization(r.Context(), eff, orgID, tenant.OrganizationUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "tenant.organization.update", map[string]any{
			"organization_id": org.ID,
		})
		writeJSON(w, http.StatusOK, org)
	case http.MethodDelete:
		eff, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		if err := a.tenants.DeleteOrganization(r.Context(), eff, orgID); err != nil {
			handleCoreError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "tenant.organization.delete", map[string]any{
			"organization_id": orgID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleOrgTeams(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method == http.MethodGet {
		eff, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		teams, err := a.tenants.ListTeams(r.Context(), eff, orgID)
		if err != nil {
			handleCoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createTeamRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	team, err := a.tenants.CreateTeam(r.Context(), eff, orgID, req.Name)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.team.create", map[string]any{
		"organization_id": orgID,
		"team_id":         team.ID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/teams/%s", team.ID))
	writeJSON(w, http.StatusCreated, team)
}

func (a *API) handleTeamScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/teams/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	parts := strings.Split(path, "/")
	teamID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleTeamResource(w, r, teamID)
	case len(parts) == 2 && parts[1] == "members":
		a.handleMembers(w, r, tenant.TeamScope(teamID))
	case len(parts) == 3 && parts[1] == "members":
		a.handleMemberResource(w, r, tenant.TeamScope(teamID), parts[2])
	case len(parts) == 2 && parts[1] == "invites":
		a.handleCreateInvite(w, r, "", teamID)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) handleTeamResource(w http.ResponseWriter, r *http.Request, teamID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	team, err := a.tenants.GetTeam(r.Context(), teamID)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	// A membership in either the team or its owning organization grants view.
	err = a.tenants.Authorizer().RequireMembership(r.Context(), eff, tenant.TeamScope(team.ID),
		tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember)
	if err != nil {
		err = a.tenants.Authorizer().RequireMembership(r.Context(), eff, tenant.OrgScope(team.OrganizationID),
			tenant.RoleOwner, tenant.RoleAdmin, tenant.RoleMember)
	}
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request, scope tenant.Scope, principalID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := a.tenants.RemoveMember(r.Context(), eff, scope, principalID); err != nil {
		handleCoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tenant.member.remove", map[string]any{
		"scope_kind":   string(scope.Kind),
		"scope_id":     scope.ID,
		"principal_id": principalID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

func (a *API) handleMembers(w http.ResponseWriter, r *http.Request, scope tenant.Scope) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	eff, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	members, err := a.tenants.ListMembers(r.Context(), eff, scope)
	if err != nil {
		handleCoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}
