package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"teamledger.io/internal/books"
	"teamledger.io/internal/tenancy"
)

type createAccountRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	CategoryID    string `json:"category_id"`
	IsBankAccount bool   `json:"is_bank_account"`
	TaxCode       string `json:"tax_code"`
}

type updateAccountRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	TaxCode     *string `json:"tax_code"`
	IsArchived  *bool   `json:"is_archived"`
}

type applyTemplateRequest struct {
	TemplateID string `json:"template_id"`
}

type setSchemeRequest struct {
	SchemeType         string              `json:"scheme_type"`
	FlatRatePercentage decimal.NullDecimal `json:"flat_rate_percentage"`
	EffectiveFrom      string              `json:"effective_from"`
}

type addRateRequest struct {
	Name          string          `json:"name"`
	Code          string          `json:"code"`
	Rate          decimal.Decimal `json:"rate"`
	IsDefault     bool            `json:"is_default"`
	EffectiveFrom string          `json:"effective_from"`
}

type setReturnPeriodRequest struct {
	PeriodType         string `json:"period_type"`
	QuartersStartMonth int    `json:"quarters_start_month"`
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", tenancy.ErrInvalidArgument, field)
	}
	return t, nil
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.books.ListCategories(r.Context())
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": nonNil(cats)})
}

func (a *API) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := a.books.ListTemplates(r.Context())
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": nonNil(tpls)})
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	archived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	accounts, err := a.books.ListAccounts(r.Context(), actor(r), r.PathValue("org"), archived)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": nonNil(accounts)})
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.books.CreateAccount(r.Context(), actor(r), r.PathValue("org"), books.NewAccount{
		Code:          req.Code,
		Name:          req.Name,
		Description:   req.Description,
		CategoryID:    req.CategoryID,
		IsBankAccount: req.IsBankAccount,
		TaxCode:       req.TaxCode,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/organizations/"+acct.OrganizationID+"/accounts/"+acct.ID)
	writeJSON(w, http.StatusCreated, acct)
}

func (a *API) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.books.UpdateAccount(r.Context(), actor(r), r.PathValue("org"), r.PathValue("account"), books.AccountUpdate{
		Name:        req.Name,
		Description: req.Description,
		TaxCode:     req.TaxCode,
		IsArchived:  req.IsArchived,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleApplyTemplate accepts an empty body to use the organization's business type.
func (a *API) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var req applyTemplateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}
	created, err := a.books.ApplyTemplate(r.Context(), actor(r), r.PathValue("org"), req.TemplateID)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": nonNil(created)})
}

func (a *API) handleGetVAT(w http.ResponseWriter, r *http.Request) {
	settings, err := a.books.GetVATSettings(r.Context(), actor(r), r.PathValue("org"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleSetScheme(w http.ResponseWriter, r *http.Request) {
	var req setSchemeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseDate("effective_from", req.EffectiveFrom)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	sc, err := a.books.SetScheme(r.Context(), actor(r), r.PathValue("org"), books.NewScheme{
		Type:               books.SchemeType(req.SchemeType),
		FlatRatePercentage: req.FlatRatePercentage,
		EffectiveFrom:      from,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (a *API) handleAddRate(w http.ResponseWriter, r *http.Request) {
	var req addRateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseDate("effective_from", req.EffectiveFrom)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	rate, err := a.books.AddRate(r.Context(), actor(r), r.PathValue("org"), books.NewRate{
		Name:          req.Name,
		Code:          req.Code,
		Rate:          req.Rate,
		IsDefault:     req.IsDefault,
		EffectiveFrom: from,
	})
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rate)
}

func (a *API) handleSetReturnPeriod(w http.ResponseWriter, r *http.Request) {
	var req setReturnPeriodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.books.SetReturnPeriod(r.Context(), actor(r), r.PathValue("org"), books.PeriodType(req.PeriodType), req.QuartersStartMonth)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
