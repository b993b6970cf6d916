package orchestrator

import (
	"context"
	"sync"
)

// MaxHistory is the rolling window size per agent.
const MaxHistory = 100

// Trend windows.
const (
	trendMinPoints = 3
	trendWindow    = 10
	trendThreshold = 5.0
)

// HistoryStore persists per-agent quality observations.
//
// Implementations keep at most MaxHistory entries per agent, evicting the
// oldest first, and serialize appends for the same agent.
type HistoryStore interface {
	HistoryReader

	// Append adds a value, evicting the oldest entry beyond MaxHistory.
	Append(ctx context.Context, agentID string, value float64) error

	// Reset replaces the agent's history with a single seed value.
	Reset(ctx context.Context, agentID string, seed float64) error
}

// agentHistory is one agent's bounded window.
type agentHistory struct {
	mu     sync.Mutex
	values []float64
}

// MemoryHistoryStore is an in-process HistoryStore.
//
// The map lock is only held to find or create an agent's entry, so appends
// for different agents never contend on the same mutex.
type MemoryHistoryStore struct {
	mu     sync.RWMutex
	agents map[string]*agentHistory
}

// NewMemoryHistoryStore creates an empty in-memory store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		agents: make(map[string]*agentHistory),
	}
}

func (s *MemoryHistoryStore) entry(agentID string, create bool) *agentHistory {
	s.mu.RLock()
	h, ok := s.agents[agentID]
	s.mu.RUnlock()
	if ok || !create {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.agents[agentID]; ok {
		return h
	}
	h = &agentHistory{}
	s.agents[agentID] = h
	return h
}

// Get returns a copy of the agent's history, oldest first.
func (s *MemoryHistoryStore) Get(ctx context.Context, agentID string) ([]float64, error) {
	h := s.entry(agentID, false)
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.values...), nil
}

// Append adds value to the agent's history.
func (s *MemoryHistoryStore) Append(ctx context.Context, agentID string, value float64) error {
	h := s.entry(agentID, true)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.values = append(h.values, value)
	if over := len(h.values) - MaxHistory; over > 0 {
		h.values = append(h.values[:0:0], h.values[over:]...)
	}
	return nil
}

// Reset replaces the agent's history with seed.
func (s *MemoryHistoryStore) Reset(ctx context.Context, agentID string, seed float64) error {
	h := s.entry(agentID, true)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = []float64{seed}
	return nil
}

// CalculateTrend compares the mean of the last 10 points with the mean of
// the 10 before them. Fewer than 3 points, or no older window, is stable.
func CalculateTrend(history []float64) Trend {
	if len(history) < trendMinPoints {
		return TrendStable
	}

	recentStart := len(history) - trendWindow
	if recentStart < 0 {
		recentStart = 0
	}
	olderStart := recentStart - trendWindow
	if olderStart < 0 {
		olderStart = 0
	}

	recent := history[recentStart:]
	older := history[olderStart:recentStart]
	if len(older) == 0 {
		return TrendStable
	}

	diff := mean(recent) - mean(older)
	switch {
	case diff > trendThreshold:
		return TrendImproving
	case diff < -trendThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}
