package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"teamledger.io/internal/authn"
	"teamledger.io/internal/books"
	"teamledger.io/internal/obs"
	"teamledger.io/internal/tenancy"
)

const serviceName = "teamledger"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck pings the database and an optional shared cache; nil fields are
// skipped.
type ReadinessCheck struct {
	DB    *sql.DB
	Cache Pinger
}

func (rp ReadinessCheck) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

// Options tunes the middleware chain.
type Options struct {
	Version        string
	Ready          ReadinessChecker
	MaxBodyBytes   int64
	RateBurst      int
	RatePerSecond  float64
	AllowedOrigins []string
	TrustedProxies TrustedProxies
	Logger         *zap.Logger
	// Books enables the chart of accounts and VAT routes.
	Books *books.Service
}

// API is the HTTP layer over the tenancy and books services.
type API struct {
	mux     *http.ServeMux
	svc     *tenancy.Service
	books   *books.Service
	tokens  *authn.Issuer
	ready   ReadinessChecker
	version string
	log     *zap.Logger

	maxBody    int64
	rateBurst  int
	ratePerSec float64
	origins    []string
	proxies    TrustedProxies
}

func New(svc *tenancy.Service, tokens *authn.Issuer, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		books:      opts.Books,
		tokens:     tokens,
		ready:      opts.Ready,
		version:    opts.Version,
		log:        opts.Logger,
		maxBody:    opts.MaxBodyBytes,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSecond,
		origins:    opts.AllowedOrigins,
		proxies:    opts.TrustedProxies,
	}
	if a.ready == nil {
		a.ready = ReadinessCheck{}
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	a.log = a.log.Named("http")
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// accounts
	a.mux.HandleFunc("POST /v1/users", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("GET /v1/me", a.handleMe)
	a.mux.HandleFunc("GET /v1/users/{user}", a.handleGetUser)
	a.mux.HandleFunc("GET /v1/permissions", a.handleCatalog)

	// organizations
	a.mux.HandleFunc("POST /v1/organizations", a.handleCreateOrganization)
	a.mux.HandleFunc("GET /v1/organizations/{org}", a.handleGetOrganization)
	a.mux.HandleFunc("PATCH /v1/organizations/{org}", a.handleUpdateOrganization)
	a.mux.HandleFunc("GET /v1/organizations/{org}/permissions", a.handleMyPermissions)
	a.mux.HandleFunc("GET /v1/organizations/{org}/authorize/{permission}", a.handleAuthorize)

	// members and overrides
	a.mux.HandleFunc("GET /v1/organizations/{org}/members", a.handleListMembers)
	a.mux.HandleFunc("POST /v1/organizations/{org}/invitations", a.handleInvite)
	a.mux.HandleFunc("POST /v1/invitations/accept", a.handleAcceptInvitation)
	a.mux.HandleFunc("DELETE /v1/organizations/{org}/members/{member}", a.handleRemoveMember)
	a.mux.HandleFunc("PUT /v1/organizations/{org}/members/{member}/role", a.handleChangeRole)
	a.mux.HandleFunc("GET /v1/organizations/{org}/members/{member}/permissions", a.handleMemberPermissions)
	a.mux.HandleFunc("GET /v1/organizations/{org}/members/{member}/overrides", a.handleListOverrides)
	a.mux.HandleFunc("PUT /v1/organizations/{org}/members/{member}/overrides/{permission}", a.handleSetOverride)
	a.mux.HandleFunc("DELETE /v1/organizations/{org}/members/{member}/overrides/{permission}", a.handleClearOverride)
	a.mux.HandleFunc("POST /v1/memberships/{member}/primary", a.handleSetPrimary)

	// firm-client links
	a.mux.HandleFunc("POST /v1/organizations/{org}/clients", a.handleCreateClientLink)
	a.mux.HandleFunc("GET /v1/organizations/{org}/clients", a.handleListClientLinks)
	a.mux.HandleFunc("PUT /v1/client-links/{link}/status", a.handleTransitionClientLink)
	a.mux.HandleFunc("GET /v1/organizations/{org}/access/{target}", a.handleCanAccess)
	a.mux.HandleFunc("GET /v1/access/{target}", a.handleAuthorizeClientAccess)

	if a.books == nil {
		return
	}
	// chart of accounts and VAT
	a.mux.HandleFunc("GET /v1/account-categories", a.handleListCategories)
	a.mux.HandleFunc("GET /v1/account-templates", a.handleListTemplates)
	a.mux.HandleFunc("GET /v1/organizations/{org}/accounts", a.handleListAccounts)
	a.mux.HandleFunc("POST /v1/organizations/{org}/accounts", a.handleCreateAccount)
	a.mux.HandleFunc("PATCH /v1/organizations/{org}/accounts/{account}", a.handleUpdateAccount)
	a.mux.HandleFunc("POST /v1/organizations/{org}/accounts/template", a.handleApplyTemplate)
	a.mux.HandleFunc("GET /v1/organizations/{org}/vat", a.handleGetVAT)
	a.mux.HandleFunc("POST /v1/organizations/{org}/vat/schemes", a.handleSetScheme)
	a.mux.HandleFunc("POST /v1/organizations/{org}/vat/rates", a.handleAddRate)
	a.mux.HandleFunc("PUT /v1/organizations/{org}/vat/return-period", a.handleSetReturnPeriod)
}

// Handler wraps the mux with the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
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
	build := obs.CurrentBuildInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    a.version,
		"commit":     build.Commit,
		"go_version": build.GoVersion,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}
