package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"slotmarket.org/api/spec"
	"slotmarket.org/internal/auction"
	"slotmarket.org/internal/broker"
	"slotmarket.org/internal/catalog"
	"slotmarket.org/internal/obs"
	"slotmarket.org/internal/stream"
)

// ReadyProbe reports readiness (e.g. a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// OffersIndex is the read/append surface of the offers projection. Backed by
// the in-memory index or the SQL offers view.
type OffersIndex interface {
	Append(ev auction.Event)
	List(page, limit int) auction.Page
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	ledger  auction.Service
	offers  OffersIndex
	catalog *catalog.Catalog
	stream  *stream.Stream
	broker  broker.Publisher

	rateBurst  int
	ratePerSec int
}

// New wires the API over the ledger, offers projection, catalog, SSE stream
// and broker publisher. Stream and publisher may be nil.
func New(rp ReadyProbe, version string, ledger auction.Service, offers OffersIndex, cat *catalog.Catalog, st *stream.Stream, pub broker.Publisher) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		ledger:     ledger,
		offers:     offers,
		catalog:    cat,
		stream:     st,
		broker:     pub,
		rateBurst:  40,
		ratePerSec: 20,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/health", a.Health)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// property catalog & purchase requests
	a.mux.HandleFunc("/v1/properties", a.handleProperties)
	a.mux.HandleFunc("/v1/properties/detail/", a.handlePropertyDetail)
	a.mux.HandleFunc("/v1/purchase-requests", a.handlePurchaseRequests)

	// negotiation engine
	a.mux.HandleFunc("/v1/auctions/offer", a.handleOffer)
	a.mux.HandleFunc("/v1/auctions/proposal", a.handleProposal)
	a.mux.HandleFunc("/v1/auctions/accept", a.handleAccept)
	a.mux.HandleFunc("/v1/auctions/reject", a.handleReject)
	a.mux.HandleFunc("/v1/auctions/offers", a.handleOffersList)
	a.mux.HandleFunc("/v1/auctions/stream", a.Stream)
	a.mux.HandleFunc("/v1/auctions/", a.handleAuctionResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withPrincipal(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "slotmarket-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Health serves the versioned health endpoint consumed by group dashboards.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
