package auction

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Operation identifies the kind of negotiation event.
type Operation string

const (
	OpOffer      Operation = "offer"
	OpProposal   Operation = "proposal"
	OpAcceptance Operation = "acceptance"
	OpRejection  Operation = "rejection"
)

// Valid reports whether the operation is one of the four negotiation kinds.
func (op Operation) Valid() bool {
	switch op {
	case OpOffer, OpProposal, OpAcceptance, OpRejection:
		return true
	}
	return false
}

// Event is an immutable negotiation record. ProposalID is empty on offers.
// Timestamp and CreatedAt carry the same construction-time instant; both are
// kept on the wire because existing consumers read both fields.
type Event struct {
	ID         string    `json:"id"`
	AuctionID  string    `json:"auction_id"`
	ProposalID string    `json:"proposal_id,omitempty"`
	URL        string    `json:"url"`
	Quantity   int64     `json:"quantity"`
	GroupID    string    `json:"group_id"`
	Operation  Operation `json:"operation"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrNotFound        = errors.New("auction: not found")
	ErrInvalidQuantity = errors.New("auction: quantity must be > 0")
	ErrInvalidURL      = errors.New("auction: url is required")
	ErrInvalidEvent    = errors.New("auction: malformed event")
)

// NewEvent stamps a fresh event with a unique id and a single clock read.
// Both timestamp fields come from the same instant.
func NewEvent(op Operation, auctionID, proposalID, url string, quantity int64, groupID string) Event {
	now := time.Now().UTC()
	return Event{
		ID:         uuid.NewString(),
		AuctionID:  auctionID,
		ProposalID: proposalID,
		URL:        url,
		Quantity:   quantity,
		GroupID:    groupID,
		Operation:  op,
		Timestamp:  now,
		CreatedAt:  now,
	}
}

// ValidateOffer checks the shared offer/proposal field constraints.
func ValidateOffer(url string, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if url == "" {
		return ErrInvalidURL
	}
	return nil
}
