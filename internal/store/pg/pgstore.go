package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"slotmarket.org/internal/auction"
	"slotmarket.org/internal/ids"
)

// Store implements auction.Service on PostgreSQL. All events live in a
// single position-ordered auction_events table; an auction exists when its
// offer row does. Mutations to one auction serialize on a row lock taken on
// the offer row, so the single-writer-per-auction contract carries over.
type Store struct {
	db *sql.DB
}

var _ auction.Service = (*Store)(nil)

// Open connects with tuned pool defaults; adjust under load tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const insertEvent = `
	insert into auction_events (id, auction_id, proposal_id, url, quantity, group_id, operation, ts, created_at)
	values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

func (s *Store) CreateAuction(ctx context.Context, url string, quantity int64, groupID string) (auction.Auction, error) {
	if err := auction.ValidateOffer(url, quantity); err != nil {
		return auction.Auction{}, err
	}

	id := ids.New()
	offer := auction.NewEvent(auction.OpOffer, id, "", url, quantity, groupID)

	if _, err := s.db.ExecContext(ctx, insertEvent,
		offer.ID, offer.AuctionID, nullable(offer.ProposalID), offer.URL, offer.Quantity,
		offer.GroupID, string(offer.Operation), offer.Timestamp, offer.CreatedAt,
	); err != nil {
		return auction.Auction{}, err
	}

	return auction.Auction{ID: id, Offer: offer}, nil
}

func (s *Store) AddProposal(ctx context.Context, auctionID, url string, quantity int64, groupID string) (auction.Event, error) {
	if err := auction.ValidateOffer(url, quantity); err != nil {
		return auction.Event{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auction.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOffer(ctx, tx, auctionID); err != nil {
		return auction.Event{}, err
	}

	ev := auction.NewEvent(auction.OpProposal, auctionID, ids.NewProposalID(), url, quantity, groupID)
	if _, err := tx.ExecContext(ctx, insertEvent,
		ev.ID, ev.AuctionID, nullable(ev.ProposalID), ev.URL, ev.Quantity,
		ev.GroupID, string(ev.Operation), ev.Timestamp, ev.CreatedAt,
	); err != nil {
		return auction.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return auction.Event{}, err
	}
	return ev, nil
}

func (s *Store) RecordAcceptance(ctx context.Context, auctionID, proposalID, groupID string) (auction.Event, error) {
	return s.resolve(ctx, auctionID, proposalID, groupID, auction.OpAcceptance)
}

func (s *Store) RecordRejection(ctx context.Context, auctionID, proposalID, groupID string) (auction.Event, error) {
	return s.resolve(ctx, auctionID, proposalID, groupID, auction.OpRejection)
}

func (s *Store) resolve(ctx context.Context, auctionID, proposalID, groupID string, op auction.Operation) (auction.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auction.Event{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockOffer(ctx, tx, auctionID); err != nil {
		return auction.Event{}, err
	}

	var url string
	var quantity int64
	err = tx.QueryRowContext(ctx, `
		select url, quantity from auction_events
		where auction_id=$1 and proposal_id=$2 and operation='proposal'`,
		auctionID, proposalID,
	).Scan(&url, &quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.Event{}, auction.ErrNotFound
	}
	if err != nil {
		return auction.Event{}, err
	}

	ev := auction.NewEvent(op, auctionID, proposalID, url, quantity, groupID)
	if _, err := tx.ExecContext(ctx, insertEvent,
		ev.ID, ev.AuctionID, nullable(ev.ProposalID), ev.URL, ev.Quantity,
		ev.GroupID, string(ev.Operation), ev.Timestamp, ev.CreatedAt,
	); err != nil {
		return auction.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return auction.Event{}, err
	}
	return ev, nil
}

func (s *Store) GetEvents(ctx context.Context, auctionID string) ([]auction.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, auction_id, coalesce(proposal_id, ''), url, quantity, group_id, operation, ts, created_at
		from auction_events where auction_id=$1 order by position`,
		auctionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var a auction.Auction
	var found bool
	for rows.Next() {
		var ev auction.Event
		var op string
		if err := rows.Scan(&ev.ID, &ev.AuctionID, &ev.ProposalID, &ev.URL, &ev.Quantity,
			&ev.GroupID, &op, &ev.Timestamp, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Operation = auction.Operation(op)
		found = true
		switch ev.Operation {
		case auction.OpOffer:
			a.Offer = ev
		case auction.OpProposal:
			a.Proposals = append(a.Proposals, ev)
		case auction.OpAcceptance:
			acc := ev
			a.Acceptance = &acc // later acceptances replace earlier ones
		case auction.OpRejection:
			a.Rejections = append(a.Rejections, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, auction.ErrNotFound
	}
	a.ID = auctionID
	return a.Events(), nil
}

func (s *Store) Fold(ctx context.Context, ev auction.Event) (bool, error) {
	if !ev.Operation.Valid() || ev.ID == "" || ev.AuctionID == "" {
		return false, auction.ErrInvalidEvent
	}
	if ev.Operation == auction.OpOffer || ev.Operation == auction.OpProposal {
		if err := auction.ValidateOffer(ev.URL, ev.Quantity); err != nil {
			return false, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if ev.Operation != auction.OpOffer {
		if err := lockOffer(ctx, tx, ev.AuctionID); err != nil {
			return false, err
		}
	}
	if ev.Operation == auction.OpAcceptance || ev.Operation == auction.OpRejection {
		var one int
		err := tx.QueryRowContext(ctx, `
			select 1 from auction_events
			where auction_id=$1 and proposal_id=$2 and operation='proposal'`,
			ev.AuctionID, ev.ProposalID,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, auction.ErrNotFound
		}
		if err != nil {
			return false, err
		}
	}

	res, err := tx.ExecContext(ctx, insertEvent+` on conflict (id) do nothing`,
		ev.ID, ev.AuctionID, nullable(ev.ProposalID), ev.URL, ev.Quantity,
		ev.GroupID, string(ev.Operation), ev.Timestamp, ev.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Offers returns the paginated projection of offer events backed by the
// events table. Append is a no-op because offer rows are already durable.
func (s *Store) Offers() *OffersView { return &OffersView{db: s.db} }

// OffersView serves the offers list from SQL with the same page semantics
// as the in-memory index.
type OffersView struct {
	db *sql.DB
}

func (v *OffersView) Append(auction.Event) {}

func (v *OffersView) List(page, limit int) auction.Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	out := auction.Page{Offers: []auction.Event{}, Page: page, Limit: limit, TotalPages: 1}

	var total int
	if err := v.db.QueryRow(`select count(*) from auction_events where operation='offer'`).Scan(&total); err != nil {
		return out
	}
	out.TotalCount = total
	if tp := (total + limit - 1) / limit; tp > 1 {
		out.TotalPages = tp
	}

	rows, err := v.db.Query(`
		select id, auction_id, url, quantity, group_id, ts, created_at
		from auction_events where operation='offer'
		order by position limit $1 offset $2`,
		limit, (page-1)*limit,
	)
	if err != nil {
		return out
	}
	defer rows.Close()

	for rows.Next() {
		ev := auction.Event{Operation: auction.OpOffer}
		if err := rows.Scan(&ev.ID, &ev.AuctionID, &ev.URL, &ev.Quantity,
			&ev.GroupID, &ev.Timestamp, &ev.CreatedAt); err != nil {
			break
		}
		out.Offers = append(out.Offers, ev)
	}
	return out
}

// lockOffer pins the auction's offer row for the duration of the
// transaction, serializing concurrent mutations to the same auction.
func lockOffer(ctx context.Context, tx *sql.Tx, auctionID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `
		select 1 from auction_events
		where auction_id=$1 and operation='offer' for update`,
		auctionID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return auction.ErrNotFound
	}
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
