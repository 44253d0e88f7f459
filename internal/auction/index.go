package auction

import "sync"

// Page is one slice of the global offers projection.
type Page struct {
	Offers     []Event `json:"offers"`
	TotalCount int     `json:"total_count"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int     `json:"total_pages"`
}

// Index is the append-only, globally ordered projection of every offer event
// ever seen, locally created or folded in from the federation channel.
type Index struct {
	mu     sync.RWMutex
	offers []Event
}

// NewIndex creates an empty offers index.
func NewIndex() *Index {
	return &Index{}
}

// Append records an offer event at the end of the projection.
func (ix *Index) Append(ev Event) {
	if ev.Operation != OpOffer {
		return
	}
	ix.mu.Lock()
	ix.offers = append(ix.offers, ev)
	ix.mu.Unlock()
}

// List returns one page of offers. Page and limit are clamped up to 1; a
// page past the end of the data yields an empty slice, not an error.
func (ix *Index) List(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	total := len(ix.offers)
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	start := (page - 1) * limit
	end := start + limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	out := make([]Event, end-start)
	copy(out, ix.offers[start:end])

	return Page{
		Offers:     out,
		TotalCount: total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}

// Len reports the number of indexed offers.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.offers)
}
