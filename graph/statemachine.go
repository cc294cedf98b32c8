package graph

import "time"

// nowFunc is indirected so tests can substitute a deterministic clock,
// mirroring the injectable *rand.Rand used for retry jitter in retry.go.
var nowFunc = time.Now

// TransitionTo advances m from its current state to target, appending a new
// StateTransition to m's history. It implements the message state machine
// transitions.
//
// TransitionTo fails with InvalidTransition if m.State().canTransitionTo
// (target) is false. On success it returns a new Message (m is never
// mutated in place) whose Timestamp is assigned by the state machine, never
// by the caller.
func TransitionTo(m Message, target State, reason string, nodeID string) (Message, error) {
	if !m.state.canTransitionTo(target) {
		return m, &InvalidTransitionError{From: m.state, To: target}
	}

	transition := StateTransition{
		From:      m.state,
		To:        target,
		Timestamp: nowFunc(),
		Reason:    reason,
		NodeID:    nodeID,
	}

	next := m
	next.state = target
	next.history = append(appendCopy(m.history), transition)
	if nodeID != "" {
		next.nodeID = nodeID
	}
	return next, nil
}

// appendCopy returns a copy of history with enough room to append one more
// entry without aliasing the slice backing m's original history — stateHistory
// must never be observed to shrink or mutate retroactively.
func appendCopy(history []StateTransition) []StateTransition {
	out := make([]StateTransition, len(history), len(history)+1)
	copy(out, history)
	return out
}

// Stats summarizes a Message's lifecycle, derived entirely from its
// stateHistory.
type Stats struct {
	TotalDuration    time.Duration
	RunningDuration  time.Duration
	WaitingDuration  time.Duration
	TransitionCount  int
	LastFailedReason string // empty unless the message is currently FAILED
}

// DeriveStats computes Stats for m as of now.
func DeriveStats(m Message, now time.Time) Stats {
	history := m.history
	stats := Stats{TransitionCount: len(history)}
	if len(history) == 0 {
		return stats
	}

	stats.TotalDuration = now.Sub(history[0].Timestamp)

	for i, t := range history {
		var end time.Time
		if i+1 < len(history) {
			end = history[i+1].Timestamp
		} else {
			end = now
		}
		span := end.Sub(t.Timestamp)
		switch t.To {
		case StateRunning:
			stats.RunningDuration += span
		case StateWaiting:
			stats.WaitingDuration += span
		}
	}

	if m.state == StateFailed {
		stats.LastFailedReason = history[len(history)-1].Reason
	}

	return stats
}
