package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Property is a catalog record with reserved visit slots.
type Property struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Location        string `json:"location"`
	VisitsAvailable int    `json:"visits_available"`
}

// PurchaseRequest records a group's intent to buy visits for a property.
type PurchaseRequest struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"group_id"`
	PropertyID string    `json:"property_id"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrNotFound     = errors.New("catalog: property not found")
	ErrMissingField = errors.New("catalog: group_id and property_id are required")
)

// Catalog holds the property list and purchase requests. The property side
// is read-only after construction; purchase requests accumulate in memory.
type Catalog struct {
	properties []Property

	mu       sync.RWMutex
	requests []PurchaseRequest
}

// New creates a catalog with the given property records.
func New(properties []Property) *Catalog {
	return &Catalog{properties: append([]Property(nil), properties...)}
}

// DemoProperties returns the seeded catalog used when no external property
// service is wired in.
func DemoProperties() []Property {
	return []Property{
		{ID: "p-001", Name: "Casa Centro", Location: "Santiago", VisitsAvailable: 5},
		{ID: "p-002", Name: "Depto Playa", Location: "Viña del Mar", VisitsAvailable: 2},
		{ID: "p-003", Name: "Cabaña Bosque", Location: "Pucón", VisitsAvailable: 3},
	}
}

// Properties returns the full property list.
func (c *Catalog) Properties(ctx context.Context) []Property {
	return append([]Property(nil), c.properties...)
}

// FindDetail returns properties matching name and location, case-insensitively.
func (c *Catalog) FindDetail(ctx context.Context, name, location string) ([]Property, error) {
	var found []Property
	for _, p := range c.properties {
		if strings.EqualFold(p.Name, name) && strings.EqualFold(p.Location, location) {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found, nil
}

// CreatePurchaseRequest stores a purchase request and returns it.
func (c *Catalog) CreatePurchaseRequest(ctx context.Context, groupID, propertyID string) (PurchaseRequest, error) {
	if strings.TrimSpace(groupID) == "" || strings.TrimSpace(propertyID) == "" {
		return PurchaseRequest{}, ErrMissingField
	}
	pr := PurchaseRequest{
		ID:         uuid.NewString(),
		GroupID:    groupID,
		PropertyID: propertyID,
		CreatedAt:  time.Now().UTC(),
	}
	c.mu.Lock()
	c.requests = append(c.requests, pr)
	c.mu.Unlock()
	return pr, nil
}

// PurchaseRequests returns all recorded purchase requests in creation order.
func (c *Catalog) PurchaseRequests(ctx context.Context) []PurchaseRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]PurchaseRequest(nil), c.requests...)
}
