package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"slotmarket.org/internal/auction"
	"slotmarket.org/internal/audit"
	"slotmarket.org/internal/auth"
	"slotmarket.org/internal/broker"
	"slotmarket.org/internal/obs"
)

type offerRequest struct {
	Quantity int64  `json:"quantity"`
	URL      string `json:"url"`
}

type proposalRequest struct {
	AuctionID string `json:"auction_id"`
	Quantity  int64  `json:"quantity"`
	URL       string `json:"url"`
}

type resolutionRequest struct {
	AuctionID  string `json:"auction_id"`
	ProposalID string `json:"proposal_id"`
}

type auctionDetailResponse struct {
	AuctionID string          `json:"auction_id"`
	Events    []auction.Event `json:"events"`
}

func (a *API) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	// Authorization runs before body validation.
	if err := auth.RequireAdmin(r.Context()); err != nil {
		handleAuthError(w, r, err)
		return
	}

	var req offerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	created, err := a.ledger.CreateAuction(r.Context(), strings.TrimSpace(req.URL), req.Quantity, callerGroup(r))
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	a.offers.Append(created.Offer)
	a.commit(r, created.Offer, "auction.offer.create")

	w.Header().Set("Location", "/v1/auctions/"+created.ID)
	writeJSON(w, http.StatusCreated, created.Offer)
}

func (a *API) handleProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := auth.RequireAdmin(r.Context()); err != nil {
		handleAuthError(w, r, err)
		return
	}

	var req proposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AuctionID) == "" {
		writeError(w, r, http.StatusBadRequest, "auction_id is required")
		return
	}

	ev, err := a.ledger.AddProposal(r.Context(), req.AuctionID, strings.TrimSpace(req.URL), req.Quantity, callerGroup(r))
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	a.commit(r, ev, "auction.proposal.add")
	writeJSON(w, http.StatusCreated, ev)
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	a.resolveProposal(w, r, auction.OpAcceptance)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	a.resolveProposal(w, r, auction.OpRejection)
}

func (a *API) resolveProposal(w http.ResponseWriter, r *http.Request, op auction.Operation) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := auth.RequireAdmin(r.Context()); err != nil {
		handleAuthError(w, r, err)
		return
	}

	var req resolutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		ev  auction.Event
		err error
	)
	if op == auction.OpAcceptance {
		ev, err = a.ledger.RecordAcceptance(r.Context(), req.AuctionID, req.ProposalID, callerGroup(r))
	} else {
		ev, err = a.ledger.RecordRejection(r.Context(), req.AuctionID, req.ProposalID, callerGroup(r))
	}
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	event := "auction.proposal.accept"
	if op == auction.OpRejection {
		event = "auction.proposal.reject"
	}
	a.commit(r, ev, event)
	writeJSON(w, http.StatusCreated, ev)
}

func (a *API) handleOffersList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	page := clampedQueryInt(r, "page", 1)
	limit := clampedQueryInt(r, "limit", 10)
	writeJSON(w, http.StatusOK, a.offers.List(page, limit))
}

func (a *API) handleAuctionResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/auctions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	events, err := a.ledger.GetEvents(r.Context(), id)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auctionDetailResponse{AuctionID: id, Events: events})
}

// commit runs the post-mutation side effects: async broker publish, SSE
// fan-out, metrics and audit. None of them can fail the request.
func (a *API) commit(r *http.Request, ev auction.Event, event string) {
	broker.Dispatch(a.broker, ev)
	if a.stream != nil {
		a.stream.Publish(ev)
	}
	obs.CountAuctionEvent(string(ev.Operation), "local")

	fields := map[string]any{
		"auction_id": ev.AuctionID,
		"quantity":   ev.Quantity,
		"url":        ev.URL,
	}
	if ev.ProposalID != "" {
		fields["proposal_id"] = ev.ProposalID
	}
	_ = audit.LogEvent(r.Context(), event, fields)
}

// callerGroup resolves the acting group from the principal, falling back to
// the original placeholder value when no group was supplied.
func callerGroup(r *http.Request) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok && principal.GroupID != "" {
		return principal.GroupID
	}
	return "unknown-group"
}

// clampedQueryInt parses a query parameter, clamping non-numeric or
// sub-minimum values up to 1 per the pagination contract.
func clampedQueryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 1
	}
	return val
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAuctionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auction.ErrInvalidQuantity), errors.Is(err, auction.ErrInvalidURL):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auction.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		writeErrorCode(w, r, http.StatusForbidden, authErr.Message, authErr.Code)
		return
	}
	writeError(w, r, http.StatusForbidden, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, msg, "")
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, code int, msg, errCode string) {
	payload := map[string]any{
		"error": msg,
	}
	if errCode != "" {
		payload["code"] = errCode
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
