package httpapi

import (
	"net/http"
	"strings"

	"teamledger.io/internal/tenancy"
)

type createClientLinkRequest struct {
	ClientOrganizationID string `json:"client_organization_id"`
	ManagedByUserID      string `json:"managed_by_user_id"`
	ServicesProvided     string `json:"services_provided"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (a *API) handleCreateClientLink(w http.ResponseWriter, r *http.Request) {
	var req createClientLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	link, err := a.svc.CreateClientLink(r.Context(), actor(r), r.PathValue("org"), tenancy.NewClientLink{
		ClientOrganizationID: req.ClientOrganizationID,
		ManagedByUserID:      req.ManagedByUserID,
		ServicesProvided:     req.ServicesProvided,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (a *API) handleListClientLinks(w http.ResponseWriter, r *http.Request) {
	links, err := a.svc.ListClientLinks(r.Context(), actor(r), r.PathValue("org"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": nonNil(links)})
}

func (a *API) handleTransitionClientLink(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	next, err := tenancy.ParseLinkStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "status must be one of pending, active, suspended, terminated")
		return
	}
	link, err := a.svc.TransitionClientLink(r.Context(), actor(r), r.PathValue("link"), next)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// handleCanAccess reports the access one of the caller's organizations has
// over a target organization.
func (a *API) handleCanAccess(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("org")
	if _, err := a.callerMembership(r, orgID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	decision, err := a.svc.CanAccess(r.Context(), orgID, r.PathValue("target"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handleAuthorizeClientAccess(w http.ResponseWriter, r *http.Request) {
	permission := strings.TrimSpace(r.URL.Query().Get("permission"))
	if permission == "" {
		writeError(w, r, http.StatusBadRequest, "permission query parameter is required")
		return
	}
	decision, err := a.svc.AuthorizeClientAccess(r.Context(), actor(r), r.PathValue("target"), permission)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
