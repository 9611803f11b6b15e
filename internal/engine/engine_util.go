package engine

import (
	"maps"
	"slices"
)

// NewEmptyState is the state of a coordinator whose host has not attached.
// Sessions start publicly listed.
func NewEmptyState() State {
	s := State{
		Connected: map[ParticipantID]bool{},
		Public:    true,
	}
	s.Phase = DerivePhase(s)
	return s
}

func (s State) Clone() State {
	c := s
	c.Roster = slices.Clone(s.Roster)
	c.Votes = slices.Clone(s.Votes)
	c.Connected = maps.Clone(s.Connected)
	if c.Connected == nil {
		c.Connected = map[ParticipantID]bool{}
	}
	return c
}

// ComputeGate reports whether the host may begin a session. With nobody else
// connected the host may proceed alone. Otherwise every entry must be ready and
// the roster must cover exactly the connected clients, so a client that
// connected mid-check closes the gate until it reports in.
func ComputeGate(roster []Entry, connected int) bool {
	if connected == 0 {
		return true
	}
	if len(roster) != connected {
		return false
	}
	return ReadyCount(roster) == connected
}

// ComputeReturnGate is the return-to-lobby counterpart of ComputeGate.
func ComputeReturnGate(votes []ParticipantID, connected int) bool {
	if connected == 0 {
		return true
	}
	return len(votes) == connected
}

func ReadyCount(roster []Entry) int {
	n := 0
	for _, e := range roster {
		if e.Ready {
			n++
		}
	}
	return n
}

func DerivePhase(s State) Phase {
	switch {
	case !s.Attached:
		return PhaseIdle
	case s.InSession:
		return PhaseTransitioning
	case s.Gate:
		return PhaseGateOpen
	default:
		return PhaseAwaitingReady
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
