// Package market holds the registry of prediction markets the exchange
// serves. Each market has a fixed set of outcome indices; every (market,
// outcome) pair gets its own order book.
package market

import (
	"fmt"
	"sort"
	"sync"
)

// Status is the trading state of a market.
type Status int8

const (
	Active Status = iota
	Paused
	Resolved
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Market describes one prediction market. Outcomes is the number of outcome
// tokens; valid outcome IDs are 0..Outcomes-1. Binary markets have 2.
type Market struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Outcomes int    `json:"outcomes"`
	Status   Status `json:"status"`
}

// ValidOutcome reports whether the outcome index exists in this market.
func (m *Market) ValidOutcome(outcomeID int) bool {
	return outcomeID >= 0 && outcomeID < m.Outcomes
}

// Registry is the thread-safe market catalog.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Register adds a market. Duplicate IDs and markets without at least two
// outcomes are rejected.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	if m.Outcomes < 2 {
		return fmt.Errorf("market %s needs at least 2 outcomes, got %d", m.ID, m.Outcomes)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[m.ID]; exists {
		return fmt.Errorf("market %s already registered", m.ID)
	}
	r.markets[m.ID] = m
	return nil
}

// Get retrieves a market by ID.
func (r *Registry) Get(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, exists := r.markets[id]
	if !exists {
		return nil, fmt.Errorf("market %s not found", id)
	}
	return m, nil
}

// List returns all markets sorted by ID, so callers iterating markets (the
// periodic sweep in particular) see a stable order.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActive returns markets currently accepting orders, sorted by ID.
func (r *Registry) ListActive() []*Market {
	all := r.List()
	out := all[:0]
	for _, m := range all {
		if m.Status == Active {
			out = append(out, m)
		}
	}
	return out
}

// SetStatus transitions a market's trading state. Resolved is terminal.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.markets[id]
	if !exists {
		return fmt.Errorf("market %s not found", id)
	}
	if m.Status == Resolved {
		return fmt.Errorf("market %s is resolved, status is final", id)
	}
	m.Status = status
	return nil
}
