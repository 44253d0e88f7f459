package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Exercises the full negotiation flow against a running API:
// publish an offer, counter with a proposal, accept it, and verify
// the assembled history.

type event struct {
	ID         string `json:"id"`
	AuctionID  string `json:"auction_id"`
	ProposalID string `json:"proposal_id,omitempty"`
	URL        string `json:"url"`
	Quantity   int64  `json:"quantity"`
	GroupID    string `json:"group_id"`
	Operation  string `json:"operation"`
}

func main() {
	base := os.Getenv("SLOTMARKET_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 5 * time.Second}

	offer := call(client, base, "/v1/auctions/offer", "admin", "smoke-a",
		map[string]any{"url": "https://example.org/props/smoke", "quantity": 3})
	if offer.Operation != "offer" || offer.AuctionID == "" {
		log.Fatalf("unexpected offer event: %+v", offer)
	}

	proposal := call(client, base, "/v1/auctions/proposal", "member", "smoke-b",
		map[string]any{"auction_id": offer.AuctionID, "url": offer.URL, "quantity": int64(2)})
	if proposal.ProposalID == "" {
		log.Fatalf("proposal missing proposal_id: %+v", proposal)
	}

	accepted := call(client, base, "/v1/auctions/accept", "admin", "smoke-a",
		map[string]any{"auction_id": offer.AuctionID, "proposal_id": proposal.ProposalID})
	if accepted.Quantity != 2 {
		log.Fatalf("acceptance did not copy proposal quantity: %+v", accepted)
	}

	resp, err := client.Get(base + "/v1/auctions/" + offer.AuctionID)
	if err != nil {
		log.Fatalf("get auction: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("get auction: status %d", resp.StatusCode)
	}
	var history []event
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		log.Fatalf("decode history: %v", err)
	}
	if len(history) != 3 {
		log.Fatalf("expected 3 events, got %d", len(history))
	}
	if history[0].Operation != "offer" || history[len(history)-1].Operation != "acceptance" {
		log.Fatalf("unexpected history ordering: %+v", history)
	}

	fmt.Printf("✅ auctions smoke test passed: auction=%s proposal=%s\n", offer.AuctionID, proposal.ProposalID)
}

func call(client *http.Client, base, path, role, group string, body map[string]any) event {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", path, err)
	}
	req, err := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", role)
	req.Header.Set("X-Group-Id", group)

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("post %s: status %d", path, resp.StatusCode)
	}
	var ev event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}
	return ev
}
