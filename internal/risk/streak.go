package risk

import "sync"

// StreakTracker counts consecutive blocked/risky calls per agent. State
// is per-process and deliberately not persisted: a restart clears all
// streaks. Under concurrent calls for one agent the count follows
// completion order, so "consecutive" is best-effort, not linearizable.
type StreakTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewStreakTracker creates an empty tracker.
func NewStreakTracker() *StreakTracker {
	return &StreakTracker{counts: make(map[string]int)}
}

// Record increments the agent's streak and returns the new count.
func (t *StreakTracker) Record(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[agentID]++
	return t.counts[agentID]
}

// Reset clears the agent's streak. Called when a forward completes
// successfully.
func (t *StreakTracker) Reset(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, agentID)
}

// Count returns the agent's current streak.
func (t *StreakTracker) Count(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[agentID]
}
