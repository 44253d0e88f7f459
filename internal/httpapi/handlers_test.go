package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"slotmarket.org/internal/auction"
	"slotmarket.org/internal/auth"
	"slotmarket.org/internal/catalog"
	"slotmarket.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("SLOTMARKET_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api := New(ReadyProbe{}, "test", auction.NewInMemory(), auction.NewIndex(),
		catalog.New(catalog.DemoProperties()), stream.New(), nil)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func adminHeaders(group string) map[string]string {
	return map[string]string{"X-Role": "admin", "X-Group-Id": group}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(subject, group string, roles []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"subject":  subject,
		"group_id": group,
		"roles":    roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestNegotiationFlow(t *testing.T) {
	api := newTestAPI(t)

	// Group A publishes an offer.
	resp := api.post("/v1/auctions/offer", map[string]any{
		"url":      "https://example.org/props/p-001",
		"quantity": 3,
	}, adminHeaders("group-a"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected offer status: %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	offer := decode[auction.Event](t, resp)
	if offer.Operation != auction.OpOffer || offer.AuctionID == "" {
		t.Fatalf("unexpected offer event: %+v", offer)
	}
	if offer.ProposalID != "" {
		t.Fatalf("offer must not carry a proposal_id: %+v", offer)
	}
	if offer.GroupID != "group-a" {
		t.Fatalf("unexpected offer group: %s", offer.GroupID)
	}
	if location != "/v1/auctions/"+offer.AuctionID {
		t.Fatalf("unexpected Location header: %s", location)
	}

	// Group B counters with a proposal.
	resp = api.post("/v1/auctions/proposal", map[string]any{
		"auction_id": offer.AuctionID,
		"url":        offer.URL,
		"quantity":   2,
	}, adminHeaders("group-b"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected proposal status: %d", resp.StatusCode)
	}
	proposal := decode[auction.Event](t, resp)
	if proposal.ProposalID == "" || proposal.ProposalID == proposal.AuctionID {
		t.Fatalf("proposal needs its own id: %+v", proposal)
	}

	// Group A accepts; the acceptance copies the proposal's terms.
	resp = api.post("/v1/auctions/accept", map[string]any{
		"auction_id":  offer.AuctionID,
		"proposal_id": proposal.ProposalID,
	}, adminHeaders("group-a"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected accept status: %d", resp.StatusCode)
	}
	accepted := decode[auction.Event](t, resp)
	if accepted.URL != proposal.URL || accepted.Quantity != proposal.Quantity {
		t.Fatalf("acceptance did not copy proposal terms: %+v", accepted)
	}

	// The detail view returns the full ordered history.
	resp = api.get("/v1/auctions/"+offer.AuctionID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected detail status: %d", resp.StatusCode)
	}
	detail := decode[auctionDetailResponse](t, resp)
	if detail.AuctionID != offer.AuctionID || len(detail.Events) != 3 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	want := []auction.Operation{auction.OpOffer, auction.OpProposal, auction.OpAcceptance}
	for i, op := range want {
		if detail.Events[i].Operation != op {
			t.Fatalf("event %d: expected %s, got %s", i, op, detail.Events[i].Operation)
		}
	}
}

func TestOfferRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)

	body := map[string]any{"url": "https://x", "quantity": 1}
	for _, headers := range []map[string]string{
		nil,
		{"X-Role": "member", "X-Group-Id": "group-b"},
	} {
		resp := api.post("/v1/auctions/offer", body, headers)
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", resp.StatusCode)
		}
		errBody := decode[map[string]any](t, resp)
		if errBody["code"] != auth.CodeForbiddenAdminOnly {
			t.Fatalf("unexpected error code: %v", errBody["code"])
		}
	}

	// Rejected calls must not mutate the offers projection.
	resp := api.get("/v1/auctions/offers", nil, nil)
	page := decode[auction.Page](t, resp)
	if page.TotalCount != 0 {
		t.Fatalf("forbidden offer leaked into the index: %+v", page)
	}
}

func TestAdminRoleIsCaseInsensitive(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auctions/offer", map[string]any{
		"url":      "https://x",
		"quantity": 1,
	}, map[string]string{"X-Role": "ADMIN", "X-Group-Id": "group-a"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for uppercase role, got %d", resp.StatusCode)
	}
}

func TestOfferValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := []map[string]any{
		{"url": "https://x", "quantity": 0},
		{"url": "https://x", "quantity": -2},
		{"url": "", "quantity": 1},
	}
	for _, body := range cases {
		resp := api.post("/v1/auctions/offer", body, adminHeaders("group-a"))
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, resp.StatusCode)
		}
	}

	// Malformed JSON.
	resp := api.post("/v1/auctions/offer", nil, adminHeaders("group-a"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.StatusCode)
	}
}

func TestProposalUnknownAuction(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auctions/proposal", map[string]any{
		"auction_id": "ghost",
		"url":        "https://x",
		"quantity":   1,
	}, adminHeaders("group-b"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAcceptUnknownProposal(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auctions/offer", map[string]any{
		"url":      "https://x",
		"quantity": 2,
	}, adminHeaders("group-a"))
	offer := decode[auction.Event](t, resp)

	resp = api.post("/v1/auctions/accept", map[string]any{
		"auction_id":  offer.AuctionID,
		"proposal_id": "ghost",
	}, adminHeaders("group-a"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestOffersPagination(t *testing.T) {
	api := newTestAPI(t)

	for i := 0; i < 12; i++ {
		resp := api.post("/v1/auctions/offer", map[string]any{
			"url":      "https://x",
			"quantity": 1,
		}, adminHeaders("group-a"))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("seed offer %d: status %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := api.get("/v1/auctions/offers", url.Values{"page": {"2"}, "limit": {"5"}}, nil)
	page := decode[auction.Page](t, resp)
	if page.TotalCount != 12 || page.TotalPages != 3 || len(page.Offers) != 5 {
		t.Fatalf("unexpected page: %+v", page)
	}

	// Non-numeric and sub-minimum values clamp to 1.
	resp = api.get("/v1/auctions/offers", url.Values{"page": {"zero"}, "limit": {"-1"}}, nil)
	page = decode[auction.Page](t, resp)
	if page.Page != 1 || page.Limit != 1 || len(page.Offers) != 1 {
		t.Fatalf("clamping failed: %+v", page)
	}

	// Past the end: empty page, metadata intact.
	resp = api.get("/v1/auctions/offers", url.Values{"page": {"9"}, "limit": {"10"}}, nil)
	page = decode[auction.Page](t, resp)
	if len(page.Offers) != 0 || page.TotalCount != 12 {
		t.Fatalf("unexpected past-end page: %+v", page)
	}
}

func TestAuctionDetailNotFound(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/auctions/ghost", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestBearerTokenIdentity(t *testing.T) {
	api := newTestAPI(t)
	token := api.obtainToken("demo", "group-a", []string{"admin"})

	resp := api.post("/v1/auctions/offer", map[string]any{
		"url":      "https://x",
		"quantity": 2,
	}, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	offer := decode[auction.Event](t, resp)
	if offer.GroupID != "group-a" {
		t.Fatalf("token group not applied: %s", offer.GroupID)
	}

	resp = api.post("/v1/auctions/offer", map[string]any{
		"url":      "https://x",
		"quantity": 2,
	}, map[string]string{"Authorization": "Bearer not-a-token"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"subject": ""}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp = api.post("/v1/auth/token", map[string]any{"subject": "demo"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing roles, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["service"] != "slotmarket-api" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp = api.get("/v1/health", nil, nil)
	body = decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["time"] == nil {
		t.Fatalf("unexpected health body: %v", body)
	}

	resp = api.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}
}

func TestPropertyCatalog(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/properties", nil, nil)
	listing := decode[map[string][]catalog.Property](t, resp)
	if len(listing["properties"]) != 3 {
		t.Fatalf("unexpected property count: %d", len(listing["properties"]))
	}

	resp = api.get("/v1/properties/detail/casa%20centro/santiago", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected detail status: %d", resp.StatusCode)
	}
	detail := decode[map[string][]catalog.Property](t, resp)
	if len(detail["properties"]) != 1 || detail["properties"][0].ID != "p-001" {
		t.Fatalf("unexpected detail: %v", detail)
	}

	resp = api.get("/v1/properties/detail/nope/nowhere", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown property, got %d", resp.StatusCode)
	}
}

func TestPurchaseRequests(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/purchase-requests", map[string]any{
		"group_id":    "group-a",
		"property_id": "p-002",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	created := decode[catalog.PurchaseRequest](t, resp)
	if created.ID == "" || created.PropertyID != "p-002" {
		t.Fatalf("unexpected purchase request: %+v", created)
	}

	resp = api.post("/v1/purchase-requests", map[string]any{"group_id": "group-a"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing property_id, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/purchase-requests", nil, nil)
	listing := decode[map[string][]catalog.PurchaseRequest](t, resp)
	if len(listing["purchase_requests"]) != 1 {
		t.Fatalf("unexpected request count: %d", len(listing["purchase_requests"]))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/auctions/offer", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("missing Allow header: %q", resp.Header.Get("Allow"))
	}
}
