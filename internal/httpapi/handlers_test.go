package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"

	"teamledger.io/internal/authn"
	"teamledger.io/internal/books"
	"teamledger.io/internal/tenancy"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	svc, err := tenancy.NewService(tenancy.NewMemoryStore(), tenancy.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ledger, err := books.NewService(books.NewMemoryStore(), svc, books.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("new books service: %v", err)
	}
	if err := ledger.Seed(context.Background()); err != nil {
		t.Fatalf("seed books: %v", err)
	}
	tokens, err := authn.NewIssuer("test-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	api := New(svc, tokens, Options{
		Version:       "test",
		RateBurst:     1000,
		RatePerSecond: 1000,
		Logger:        zap.NewNop(),
		Books:         ledger,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

// expect asserts the status and decodes the body into out when non-nil.
func (c *apiClient) expect(resp *http.Response, code int, out any) {
	c.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != code {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		c.t.Fatalf("%s %s: status %d, want %d (%v)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, code, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode response: %v", err)
		}
	}
}

// signup registers a user and returns its id and bearer token.
func (c *apiClient) signup(email string) (string, string) {
	c.t.Helper()
	c.expect(c.do(http.MethodPost, "/v1/users", "", map[string]any{
		"email":    email,
		"password": "correct horse battery",
	}), http.StatusCreated, nil)
	var tok tokenResponse
	c.expect(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email":    email,
		"password": "correct horse battery",
	}), http.StatusOK, &tok)
	if tok.Token == "" || tok.UserID == "" {
		c.t.Fatalf("empty token issued")
	}
	return tok.UserID, tok.Token
}

func (c *apiClient) createOrg(token, name string) tenancy.Organization {
	c.t.Helper()
	var org tenancy.Organization
	c.expect(c.do(http.MethodPost, "/v1/organizations", token, map[string]any{
		"name":                    name,
		"business_type":           "limited_company",
		"fiscal_year_start_day":   6,
		"fiscal_year_start_month": 4,
	}), http.StatusCreated, &org)
	return org
}

func (c *apiClient) invite(token, orgID, email, role string) tenancy.Invitation {
	c.t.Helper()
	var inv tenancy.Invitation
	c.expect(c.do(http.MethodPost, "/v1/organizations/"+orgID+"/invitations", token, map[string]any{
		"email": email,
		"role":  role,
	}), http.StatusCreated, &inv)
	return inv
}

type permissionsBody struct {
	MembershipID string   `json:"membership_id"`
	Permissions  []string `json:"permissions"`
}

func TestMembershipFlow(t *testing.T) {
	c := newTestAPI(t)
	_, ownerTok := c.signup("owner@example.com")
	_, bobTok := c.signup("bob@example.com")
	org := c.createOrg(ownerTok, "Acme Ltd")
	if org.DefaultCurrency != "GBP" || org.DataRetentionMonths != 84 {
		t.Fatalf("unexpected defaults %+v", org)
	}

	inv := c.invite(ownerTok, org.ID, "bob@example.com", "member")
	var m tenancy.Membership
	c.expect(c.do(http.MethodPost, "/v1/invitations/accept", bobTok, map[string]any{"token": inv.Token}),
		http.StatusOK, &m)
	if !m.Active() {
		t.Fatalf("membership not active: %+v", m)
	}
	c.expect(c.do(http.MethodPost, "/v1/invitations/accept", bobTok, map[string]any{"token": inv.Token}),
		http.StatusConflict, nil)

	var perms permissionsBody
	c.expect(c.do(http.MethodGet, "/v1/organizations/"+org.ID+"/permissions", bobTok, nil), http.StatusOK, &perms)
	if !slices.Equal(perms.Permissions, []string{tenancy.PermViewAccounts, tenancy.PermViewTeam}) {
		t.Fatalf("unexpected member permissions %v", perms.Permissions)
	}

	c.expect(c.do(http.MethodPost, "/v1/organizations/"+org.ID+"/invitations", bobTok, map[string]any{
		"email": "carol@example.com", "role": "member",
	}), http.StatusForbidden, nil)

	path := "/v1/organizations/" + org.ID + "/members/" + m.ID
	c.expect(c.do(http.MethodPut, path+"/overrides/view_team", ownerTok, map[string]any{"granted": false}),
		http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, path+"/permissions", ownerTok, nil), http.StatusOK, &perms)
	if !slices.Equal(perms.Permissions, []string{tenancy.PermViewAccounts}) {
		t.Fatalf("deny override not applied: %v", perms.Permissions)
	}
	c.expect(c.do(http.MethodDelete, path+"/overrides/view_team", ownerTok, nil), http.StatusNoContent, nil)
	c.expect(c.do(http.MethodGet, path+"/permissions", ownerTok, nil), http.StatusOK, &perms)
	if !slices.Contains(perms.Permissions, tenancy.PermViewTeam) {
		t.Fatalf("cleared override still applied: %v", perms.Permissions)
	}

	c.expect(c.do(http.MethodPut, path+"/role", ownerTok, map[string]any{"role": "superuser"}),
		http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPut, path+"/role", ownerTok, map[string]any{"role": "accountant"}),
		http.StatusOK, nil)

	var members struct {
		Members []tenancy.Member `json:"members"`
	}
	c.expect(c.do(http.MethodGet, "/v1/organizations/"+org.ID+"/members", bobTok, nil), http.StatusOK, &members)
	if len(members.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members.Members))
	}

	c.expect(c.do(http.MethodGet, "/v1/organizations/"+org.ID+"/authorize/manage_vat", bobTok, nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, "/v1/organizations/"+org.ID+"/authorize/manage_team", bobTok, nil), http.StatusForbidden, nil)

	c.expect(c.do(http.MethodDelete, path, bobTok, nil), http.StatusNoContent, nil)
	c.expect(c.do(http.MethodGet, "/v1/organizations/"+org.ID, bobTok, nil), http.StatusForbidden, nil)
}

func TestLastOwnerCannotLeave(t *testing.T) {
	c := newTestAPI(t)
	ownerID, ownerTok := c.signup("owner@example.com")
	org := c.createOrg(ownerTok, "Solo Ltd")

	var me meResponse
	c.expect(c.do(http.MethodGet, "/v1/me", ownerTok, nil), http.StatusOK, &me)
	if me.User.ID != ownerID || len(me.Memberships) != 1 || !me.Memberships[0].IsPrimary {
		t.Fatalf("unexpected /v1/me payload %+v", me)
	}
	c.expect(c.do(http.MethodDelete, "/v1/organizations/"+org.ID+"/members/"+me.Memberships[0].ID, ownerTok, nil),
		http.StatusConflict, nil)
}

func TestFirmClientFlow(t *testing.T) {
	c := newTestAPI(t)
	_, firmTok := c.signup("partner@firm.example")
	_, clientTok := c.signup("owner@client.example")
	firm := c.createOrg(firmTok, "Firm LLP")
	client := c.createOrg(clientTok, "Client Ltd")

	c.expect(c.do(http.MethodPost, "/v1/organizations/"+firm.ID+"/clients", firmTok, map[string]any{
		"client_organization_id": firm.ID,
	}), http.StatusBadRequest, nil)

	var link tenancy.ClientLink
	c.expect(c.do(http.MethodPost, "/v1/organizations/"+firm.ID+"/clients", firmTok, map[string]any{
		"client_organization_id": client.ID,
		"services_provided":      "bookkeeping",
	}), http.StatusCreated, &link)
	if link.Status != tenancy.LinkPending {
		t.Fatalf("expected pending link, got %s", link.Status)
	}

	access := "/v1/access/" + client.ID + "?permission=view_accounts"
	c.expect(c.do(http.MethodGet, access, firmTok, nil), http.StatusForbidden, nil)

	statusPath := "/v1/client-links/" + link.ID + "/status"
	c.expect(c.do(http.MethodPut, statusPath, firmTok, map[string]any{"status": "active"}), http.StatusForbidden, nil)
	c.expect(c.do(http.MethodPut, statusPath, clientTok, map[string]any{"status": "bogus"}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPut, statusPath, clientTok, map[string]any{"status": "active"}), http.StatusOK, &link)

	var decision tenancy.AccessDecision
	c.expect(c.do(http.MethodGet, access, firmTok, nil), http.StatusOK, &decision)
	if !decision.Allowed || decision.Scope != "read" || decision.LinkID != link.ID {
		t.Fatalf("unexpected decision %+v", decision)
	}
	c.expect(c.do(http.MethodGet, "/v1/access/"+client.ID+"?permission=manage_accounts", firmTok, nil),
		http.StatusForbidden, nil)
	c.expect(c.do(http.MethodGet, "/v1/access/"+client.ID, firmTok, nil), http.StatusBadRequest, nil)

	c.expect(c.do(http.MethodGet, "/v1/organizations/"+firm.ID+"/access/"+client.ID, firmTok, nil), http.StatusOK, &decision)
	if !decision.Allowed {
		t.Fatalf("expected firm access, got %+v", decision)
	}
	c.expect(c.do(http.MethodGet, "/v1/organizations/"+client.ID+"/access/"+firm.ID, firmTok, nil),
		http.StatusForbidden, nil)

	var links struct {
		Links []tenancy.ClientLink `json:"links"`
	}
	c.expect(c.do(http.MethodGet, "/v1/organizations/"+client.ID+"/clients", clientTok, nil), http.StatusOK, &links)
	if len(links.Links) != 1 {
		t.Fatalf("expected one link, got %d", len(links.Links))
	}

	c.expect(c.do(http.MethodPut, statusPath, firmTok, map[string]any{"status": "terminated"}), http.StatusOK, nil)
	c.expect(c.do(http.MethodPut, statusPath, clientTok, map[string]any{"status": "active"}), http.StatusConflict, nil)
	c.expect(c.do(http.MethodGet, access, firmTok, nil), http.StatusForbidden, nil)
}

func TestAPIEnforcesAuth(t *testing.T) {
	c := newTestAPI(t)
	c.expect(c.do(http.MethodGet, "/v1/me", "", nil), http.StatusUnauthorized, nil)
	c.expect(c.do(http.MethodGet, "/v1/me", "not-a-jwt", nil), http.StatusUnauthorized, nil)
	c.expect(c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, "/readyz", "", nil), http.StatusOK, nil)

	foreign, _ := authn.NewIssuer("other-secret", "", time.Hour)
	tok, _, _ := foreign.Issue("u1", "")
	c.expect(c.do(http.MethodGet, "/v1/permissions", tok, nil), http.StatusUnauthorized, nil)
}

func TestTokenEndpointValidation(t *testing.T) {
	c := newTestAPI(t)
	c.signup("ada@example.com")

	c.expect(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email": "ada@example.com", "password": "wrong password",
	}), http.StatusUnauthorized, nil)
	c.expect(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email": "nobody@example.com", "password": "correct horse battery",
	}), http.StatusUnauthorized, nil)
	c.expect(c.do(http.MethodPost, "/v1/auth/token", "", nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{"user": "x"}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPost, "/v1/users", "", map[string]any{
		"email": "ada@example.com", "password": "correct horse battery",
	}), http.StatusConflict, nil)
}

func TestCatalogListsBuiltins(t *testing.T) {
	c := newTestAPI(t)
	_, tok := c.signup("ada@example.com")
	var body struct {
		Permissions []tenancy.Permission `json:"permissions"`
	}
	c.expect(c.do(http.MethodGet, "/v1/permissions", tok, nil), http.StatusOK, &body)
	if len(body.Permissions) != len(tenancy.BuiltinPermissions()) {
		t.Fatalf("expected %d permissions, got %d", len(tenancy.BuiltinPermissions()), len(body.Permissions))
	}
}
