package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestOfferProposalAcceptFlow(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a, err := s.CreateAuction(ctx, "https://example.org/props/1", 4, "group-a")
	if err != nil {
		t.Fatal(err)
	}
	if a.Offer.Operation != OpOffer || a.Offer.ProposalID != "" {
		t.Fatalf("unexpected offer event: %+v", a.Offer)
	}

	prop, err := s.AddProposal(ctx, a.ID, "https://example.org/props/1", 2, "group-b")
	if err != nil {
		t.Fatal(err)
	}
	if prop.ProposalID == "" {
		t.Fatalf("proposal missing proposal_id")
	}

	acc, err := s.RecordAcceptance(ctx, a.ID, prop.ProposalID, "group-a")
	if err != nil {
		t.Fatal(err)
	}
	if acc.URL != prop.URL || acc.Quantity != prop.Quantity {
		t.Fatalf("acceptance did not copy proposal terms: %+v", acc)
	}

	events, err := s.GetEvents(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []Operation{OpOffer, OpProposal, OpAcceptance}
	for i, op := range want {
		if events[i].Operation != op {
			t.Fatalf("event %d: expected %s, got %s", i, op, events[i].Operation)
		}
	}
}

func TestOfferValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.CreateAuction(ctx, "", 1, "g"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if _, err := s.CreateAuction(ctx, "https://x", 0, "g"); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := s.CreateAuction(ctx, "https://x", -3, "g"); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestUnknownAuctionAndProposal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.AddProposal(ctx, "missing", "https://x", 1, "g"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetEvents(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	a, _ := s.CreateAuction(ctx, "https://x", 1, "g")
	if _, err := s.RecordAcceptance(ctx, a.ID, "nope", "g"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown proposal, got %v", err)
	}
	if _, err := s.RecordRejection(ctx, a.ID, "nope", "g"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown proposal, got %v", err)
	}
}

func TestSecondAcceptanceReplacesFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a, _ := s.CreateAuction(ctx, "https://x", 5, "g")
	p1, _ := s.AddProposal(ctx, a.ID, "https://x", 1, "b1")
	p2, _ := s.AddProposal(ctx, a.ID, "https://x", 2, "b2")

	if _, err := s.RecordAcceptance(ctx, a.ID, p1.ProposalID, "g"); err != nil {
		t.Fatal(err)
	}
	acc2, err := s.RecordAcceptance(ctx, a.ID, p2.ProposalID, "g")
	if err != nil {
		t.Fatal(err)
	}

	events, _ := s.GetEvents(ctx, a.ID)
	var acceptances []Event
	for _, ev := range events {
		if ev.Operation == OpAcceptance {
			acceptances = append(acceptances, ev)
		}
	}
	if len(acceptances) != 1 {
		t.Fatalf("expected a single acceptance slot, got %d", len(acceptances))
	}
	if acceptances[0].ProposalID != p2.ProposalID || acceptances[0].ID != acc2.ID {
		t.Fatalf("latest acceptance did not win: %+v", acceptances[0])
	}
}

func TestRejectionsAccumulate(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	a, _ := s.CreateAuction(ctx, "https://x", 5, "g")
	p1, _ := s.AddProposal(ctx, a.ID, "https://x", 1, "b1")
	p2, _ := s.AddProposal(ctx, a.ID, "https://x", 2, "b2")

	if _, err := s.RecordRejection(ctx, a.ID, p1.ProposalID, "g"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordRejection(ctx, a.ID, p2.ProposalID, "g"); err != nil {
		t.Fatal(err)
	}

	events, _ := s.GetEvents(ctx, a.ID)
	var rejections int
	for _, ev := range events {
		if ev.Operation == OpRejection {
			rejections++
		}
	}
	if rejections != 2 {
		t.Fatalf("expected 2 rejections, got %d", rejections)
	}
}

func TestConcurrentProposals(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a, _ := s.CreateAuction(ctx, "https://x", 10, "g")

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AddProposal(ctx, a.ID, "https://x", 1, "b")
		}()
	}
	wg.Wait()

	events, err := s.GetEvents(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != N+1 {
		t.Fatalf("lost proposals under contention: %d events", len(events))
	}
	ids := make(map[string]struct{}, len(events))
	for _, ev := range events[1:] {
		if _, dup := ids[ev.ProposalID]; dup {
			t.Fatalf("duplicate proposal id %s", ev.ProposalID)
		}
		ids[ev.ProposalID] = struct{}{}
	}
}

func TestFoldIdempotency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	offer := NewEvent(OpOffer, "a-1", "", "https://x", 3, "remote")
	applied, err := s.Fold(ctx, offer)
	if err != nil || !applied {
		t.Fatalf("first fold: applied=%v err=%v", applied, err)
	}
	applied, err = s.Fold(ctx, offer)
	if err != nil || applied {
		t.Fatalf("duplicate fold: applied=%v err=%v", applied, err)
	}

	prop := NewEvent(OpProposal, "a-1", "p-1", "https://x", 2, "remote")
	if applied, err = s.Fold(ctx, prop); err != nil || !applied {
		t.Fatalf("fold proposal: applied=%v err=%v", applied, err)
	}
	if applied, err = s.Fold(ctx, prop); err != nil || applied {
		t.Fatalf("duplicate proposal fold: applied=%v err=%v", applied, err)
	}

	events, _ := s.GetEvents(ctx, "a-1")
	if len(events) != 2 {
		t.Fatalf("expected 2 events after duplicate folds, got %d", len(events))
	}
}

func TestFoldRejectsOrphans(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	prop := NewEvent(OpProposal, "ghost", "p-1", "https://x", 2, "remote")
	if _, err := s.Fold(ctx, prop); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for orphan proposal, got %v", err)
	}

	offer := NewEvent(OpOffer, "a-2", "", "https://x", 3, "remote")
	if _, err := s.Fold(ctx, offer); err != nil {
		t.Fatal(err)
	}
	acc := NewEvent(OpAcceptance, "a-2", "unseen", "https://x", 3, "remote")
	if _, err := s.Fold(ctx, acc); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for acceptance of unseen proposal, got %v", err)
	}

	bad := Event{Operation: "bogus", ID: "x", AuctionID: "a-2"}
	if _, err := s.Fold(ctx, bad); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
