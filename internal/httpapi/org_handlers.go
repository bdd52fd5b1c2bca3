package httpapi

import (
	"net/http"

	"teamledger.io/internal/tenancy"
)

type createOrganizationRequest struct {
	Name                 string `json:"name"`
	RegistrationNumber   string `json:"registration_number"`
	VATNumber            string `json:"vat_number"`
	BusinessType         string `json:"business_type"`
	FiscalYearStartDay   int    `json:"fiscal_year_start_day"`
	FiscalYearStartMonth int    `json:"fiscal_year_start_month"`
	DefaultCurrency      string `json:"default_currency"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	Country              string `json:"country"`
}

type updateOrganizationRequest struct {
	Name                 *string `json:"name"`
	BusinessType         *string `json:"business_type"`
	VATNumber            *string `json:"vat_number"`
	FiscalYearStartDay   *int    `json:"fiscal_year_start_day"`
	FiscalYearStartMonth *int    `json:"fiscal_year_start_month"`
	DefaultCurrency      *string `json:"default_currency"`
	IsActive             *bool   `json:"is_active"`
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.CreateOrganization(r.Context(), actor(r), tenancy.NewOrganization{
		Name:                 req.Name,
		RegistrationNumber:   req.RegistrationNumber,
		VATNumber:            req.VATNumber,
		BusinessType:         req.BusinessType,
		FiscalYearStartDay:   req.FiscalYearStartDay,
		FiscalYearStartMonth: req.FiscalYearStartMonth,
		DefaultCurrency:      req.DefaultCurrency,
		Email:                req.Email,
		Phone:                req.Phone,
		Country:              req.Country,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/organizations/"+org.ID)
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := a.svc.GetOrganization(r.Context(), actor(r), r.PathValue("org"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var req updateOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.svc.UpdateOrganization(r.Context(), actor(r), r.PathValue("org"), tenancy.OrganizationUpdate{
		Name:                 req.Name,
		BusinessType:         req.BusinessType,
		VATNumber:            req.VATNumber,
		FiscalYearStartDay:   req.FiscalYearStartDay,
		FiscalYearStartMonth: req.FiscalYearStartMonth,
		DefaultCurrency:      req.DefaultCurrency,
		IsActive:             req.IsActive,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// handleMyPermissions returns the caller's effective set in the organization.
func (a *API) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("org")
	m, err := a.callerMembership(r, orgID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	perms, err := a.svc.EffectivePermissions(r.Context(), m.ID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"membership_id": m.ID,
		"role":          m.Role,
		"permissions":   nonNil(perms),
	})
}

func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	permission := r.PathValue("permission")
	m, err := a.svc.Authorize(r.Context(), actor(r), r.PathValue("org"), permission)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":       true,
		"permission":    permission,
		"membership_id": m.ID,
	})
}

// callerMembership finds the caller's accepted membership in orgID. Missing
// and invited memberships produce the same denial.
func (a *API) callerMembership(r *http.Request, orgID string) (tenancy.Membership, error) {
	memberships, err := a.svc.Memberships(r.Context(), actor(r))
	if err != nil {
		return tenancy.Membership{}, err
	}
	for _, m := range memberships {
		if m.OrganizationID == orgID && m.Active() {
			return m, nil
		}
	}
	return tenancy.Membership{}, tenancy.ErrPermissionDenied
}
