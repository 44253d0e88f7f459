package auction

import (
	"context"
	"strings"
	"sync"

	"slotmarket.org/internal/ids"
)

// Service defines the negotiation ledger operations.
type Service interface {
	CreateAuction(ctx context.Context, url string, quantity int64, groupID string) (Auction, error)
	AddProposal(ctx context.Context, auctionID, url string, quantity int64, groupID string) (Event, error)
	RecordAcceptance(ctx context.Context, auctionID, proposalID, groupID string) (Event, error)
	RecordRejection(ctx context.Context, auctionID, proposalID, groupID string) (Event, error)
	GetEvents(ctx context.Context, auctionID string) ([]Event, error)
	// Fold upserts an event produced elsewhere; it reports false when the
	// event was already applied (idempotent by event id).
	Fold(ctx context.Context, ev Event) (bool, error)
}

// Auction is the unit of negotiation: one offer, ordered proposals, a single
// acceptance slot and accumulated rejections. A later acceptance replaces the
// earlier one; auctions never close to further proposals or rejections.
type Auction struct {
	ID         string  `json:"auction_id"`
	Offer      Event   `json:"offer"`
	Proposals  []Event `json:"proposals"`
	Acceptance *Event  `json:"acceptance,omitempty"`
	Rejections []Event `json:"rejections"`
}

// Events returns the auction history in its canonical order: offer,
// proposals in submission order, acceptance if present, then rejections.
func (a Auction) Events() []Event {
	out := make([]Event, 0, 2+len(a.Proposals)+len(a.Rejections))
	out = append(out, a.Offer)
	out = append(out, a.Proposals...)
	if a.Acceptance != nil {
		out = append(out, *a.Acceptance)
	}
	out = append(out, a.Rejections...)
	return out
}

type auctionState struct {
	mu sync.Mutex // serializes mutations to this auction only

	offer      Event
	proposals  []Event
	acceptance *Event
	rejections []Event
	seen       map[string]struct{} // folded event ids
}

func (st *auctionState) snapshot(id string) Auction {
	a := Auction{
		ID:         id,
		Offer:      st.offer,
		Proposals:  append([]Event(nil), st.proposals...),
		Rejections: append([]Event(nil), st.rejections...),
	}
	if st.acceptance != nil {
		acc := *st.acceptance
		a.Acceptance = &acc
	}
	return a
}

// InMemory implements Service with in-process concurrency safety: the
// registry map is guarded by an RWMutex and each auction carries its own
// mutex, so mutations to distinct auctions never contend.
// NOTE: replace with the pg store for durable deployments.
type InMemory struct {
	mu       sync.RWMutex
	auctions map[string]*auctionState
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{auctions: make(map[string]*auctionState)}
}

func (s *InMemory) CreateAuction(ctx context.Context, url string, quantity int64, groupID string) (Auction, error) {
	if err := ValidateOffer(url, quantity); err != nil {
		return Auction{}, err
	}

	id := ids.New()
	offer := NewEvent(OpOffer, id, "", url, quantity, groupID)
	st := &auctionState{offer: offer, seen: map[string]struct{}{offer.ID: {}}}

	s.mu.Lock()
	s.auctions[id] = st
	s.mu.Unlock()

	return st.snapshot(id), nil
}

func (s *InMemory) AddProposal(ctx context.Context, auctionID, url string, quantity int64, groupID string) (Event, error) {
	if err := ValidateOffer(url, quantity); err != nil {
		return Event{}, err
	}
	st, err := s.state(auctionID)
	if err != nil {
		return Event{}, err
	}

	ev := NewEvent(OpProposal, auctionID, ids.NewProposalID(), url, quantity, groupID)

	st.mu.Lock()
	st.proposals = append(st.proposals, ev)
	st.seen[ev.ID] = struct{}{}
	st.mu.Unlock()

	return ev, nil
}

func (s *InMemory) RecordAcceptance(ctx context.Context, auctionID, proposalID, groupID string) (Event, error) {
	return s.resolve(auctionID, proposalID, groupID, OpAcceptance)
}

func (s *InMemory) RecordRejection(ctx context.Context, auctionID, proposalID, groupID string) (Event, error) {
	return s.resolve(auctionID, proposalID, groupID, OpRejection)
}

// resolve records an acceptance or rejection against an existing proposal,
// copying the proposal's url and quantity without re-validation.
func (s *InMemory) resolve(auctionID, proposalID, groupID string, op Operation) (Event, error) {
	st, err := s.state(auctionID)
	if err != nil {
		return Event{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	prop, ok := findProposal(st.proposals, proposalID)
	if !ok {
		return Event{}, ErrNotFound
	}

	ev := NewEvent(op, auctionID, proposalID, prop.URL, prop.Quantity, groupID)
	if op == OpAcceptance {
		st.acceptance = &ev
	} else {
		st.rejections = append(st.rejections, ev)
	}
	st.seen[ev.ID] = struct{}{}
	return ev, nil
}

func (s *InMemory) GetEvents(ctx context.Context, auctionID string) ([]Event, error) {
	st, err := s.state(auctionID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(auctionID).Events(), nil
}

// Fold upserts an event produced by another instance. Folding is idempotent
// by event id; events referencing unknown auctions or proposals are rejected
// with ErrNotFound (offers excepted, which create the auction).
func (s *InMemory) Fold(ctx context.Context, ev Event) (bool, error) {
	if !ev.Operation.Valid() || ev.ID == "" || ev.AuctionID == "" {
		return false, ErrInvalidEvent
	}

	if ev.Operation == OpOffer {
		if err := ValidateOffer(ev.URL, ev.Quantity); err != nil {
			return false, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.auctions[ev.AuctionID]; exists {
			return false, nil // already folded
		}
		s.auctions[ev.AuctionID] = &auctionState{
			offer: ev,
			seen:  map[string]struct{}{ev.ID: {}},
		}
		return true, nil
	}

	st, err := s.state(ev.AuctionID)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, dup := st.seen[ev.ID]; dup {
		return false, nil
	}

	switch ev.Operation {
	case OpProposal:
		if err := ValidateOffer(ev.URL, ev.Quantity); err != nil {
			return false, err
		}
		st.proposals = append(st.proposals, ev)
	case OpAcceptance:
		if _, ok := findProposal(st.proposals, ev.ProposalID); !ok {
			return false, ErrNotFound
		}
		acc := ev
		st.acceptance = &acc
	case OpRejection:
		if _, ok := findProposal(st.proposals, ev.ProposalID); !ok {
			return false, ErrNotFound
		}
		st.rejections = append(st.rejections, ev)
	}
	st.seen[ev.ID] = struct{}{}
	return true, nil
}

func (s *InMemory) state(auctionID string) (*auctionState, error) {
	if strings.TrimSpace(auctionID) == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	st, ok := s.auctions[auctionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

func findProposal(proposals []Event, proposalID string) (Event, bool) {
	if proposalID == "" {
		return Event{}, false
	}
	for _, p := range proposals {
		if p.ProposalID == proposalID {
			return p, true
		}
	}
	return Event{}, false
}
