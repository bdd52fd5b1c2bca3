package httpapi

import (
	"net/http"

	"teamledger.io/internal/tenancy"
)

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type acceptInvitationRequest struct {
	Token string `json:"token"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type overrideRequest struct {
	Granted *bool `json:"granted"`
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.svc.ListMembers(r.Context(), actor(r), r.PathValue("org"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": nonNil(members)})
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := parseRole(w, r, req.Role)
	if !ok {
		return
	}
	inv, err := a.svc.InviteMember(r.Context(), actor(r), r.PathValue("org"), req.Email, role)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.svc.AcceptInvitation(r.Context(), actor(r), req.Token)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RemoveMember(r.Context(), actor(r), r.PathValue("org"), r.PathValue("member")); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := parseRole(w, r, req.Role)
	if !ok {
		return
	}
	m, err := a.svc.ChangeRole(r.Context(), actor(r), r.PathValue("org"), r.PathValue("member"), role)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleMemberPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.svc.MemberPermissions(r.Context(), actor(r), r.PathValue("org"), r.PathValue("member"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNil(perms)})
}

func (a *API) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := a.svc.ListOverrides(r.Context(), actor(r), r.PathValue("org"), r.PathValue("member"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": nonNil(overrides)})
}

func (a *API) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Granted == nil {
		writeError(w, r, http.StatusBadRequest, "granted is required")
		return
	}
	o, err := a.svc.SetOverride(r.Context(), actor(r), r.PathValue("org"), r.PathValue("member"),
		r.PathValue("permission"), *req.Granted)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	err := a.svc.ClearOverride(r.Context(), actor(r), r.PathValue("org"), r.PathValue("member"), r.PathValue("permission"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	m, err := a.svc.SetPrimary(r.Context(), actor(r), r.PathValue("member"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// parseRole rejects unknown role names with 400.
func parseRole(w http.ResponseWriter, r *http.Request, raw string) (tenancy.Role, bool) {
	role, err := tenancy.ParseRole(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "role must be one of owner, admin, accountant, member")
		return "", false
	}
	return role, true
}
