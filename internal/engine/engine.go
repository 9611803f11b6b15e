package engine

import (
	"errors"
	"slices"
)

var ErrNotHost = errors.New("only the host may do that")
var ErrHostParticipant = errors.New("host has no roster entry")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrNotAttached = errors.New("host not attached")
var ErrGateClosed = errors.New("start gate closed")
var ErrAlreadyTransitioning = errors.New("session already in progress")
var ErrNotInSession = errors.New("no session in progress")
var ErrVotingClosed = errors.New("return vote not open")
var ErrReturnGateClosed = errors.New("return gate closed")
var ErrUnsupportedCommand = errors.New("unsupported command")

// ParticipantID is assigned by the server per connection.
type ParticipantID uint64

// HostID is the participant holding write authority.
const HostID ParticipantID = 0

type Entry struct {
	ID    ParticipantID `json:"id"`
	Ready bool          `json:"ready"`
}

type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePopulating    Phase = "populating"
	PhaseAwaitingReady Phase = "awaiting_ready"
	PhaseGateOpen      Phase = "gate_open"
	PhaseTransitioning Phase = "transitioning"
)

type State struct {
	Phase     Phase
	Attached  bool
	Roster    []Entry
	Connected map[ParticipantID]bool // non-host participants only
	Gate      bool
	Public    bool
	InSession bool

	// Return vote, open only while a session's final context is loaded.
	Voting     bool
	Votes      []ParticipantID
	ReturnGate bool
}

type CommandType string

const (
	CmdAttachHost    CommandType = "AttachHost"
	CmdConnect       CommandType = "Connect"
	CmdDisconnect    CommandType = "Disconnect"
	CmdSetReady      CommandType = "SetReady"
	CmdBeginSession  CommandType = "BeginSession"
	CmdAbortSession  CommandType = "AbortSession"
	CmdEndSession    CommandType = "EndSession"
	CmdSetVisibility CommandType = "SetVisibility"
	CmdOpenVoting    CommandType = "OpenVoting"
	CmdReturnVote    CommandType = "ReturnVote"
	CmdReturnToLobby CommandType = "ReturnToLobby"
)

/*
	CmdAttachHost    -> EvtPhaseChanged(populating) -> EvtEntryRemoved/EvtEntryUpdated/EvtEntryAdded -> gate/phase
	CmdConnect       -> EvtEntryAdded or EvtEntryUpdated (stale ready reset) -> gate/phase
	CmdDisconnect    -> EvtEntryRemoved (+ EvtVoteRemoved) -> gate/phase
	CmdSetReady      -> EvtEntryUpdated -> gate/phase
	CmdBeginSession  -> EvtSessionBegun -> EvtPhaseChanged(transitioning)
	CmdEndSession    -> EvtPhaseChanged(populating) -> EvtEntryUpdated... -> gate/phase

	Every command that touches the roster or the connected set ends with a gate
	recompute, so a mutation is never observed without its gate.
*/

type Command struct {
	Type        CommandType
	Sender      ParticipantID
	Participant ParticipantID
	Ready       bool
	Public      bool
	Connected   []ParticipantID // CmdAttachHost only
}

type EventType string

const (
	EvtEntryAdded        EventType = "EntryAdded"
	EvtEntryRemoved      EventType = "EntryRemoved"
	EvtEntryUpdated      EventType = "EntryUpdated"
	EvtGateChanged       EventType = "GateChanged"
	EvtVisibilityChanged EventType = "VisibilityChanged"
	EvtPhaseChanged      EventType = "PhaseChanged"
	EvtSessionBegun      EventType = "SessionBegun"
	EvtVotingOpened      EventType = "VotingOpened"
	EvtVoteAdded         EventType = "VoteAdded"
	EvtVoteRemoved       EventType = "VoteRemoved"
	EvtReturnGateChanged EventType = "ReturnGateChanged"
	EvtReturnAccepted    EventType = "ReturnAccepted"
)

// Event describes one mutation. Index is the roster position at the moment
// the event applies, so replaying events in order onto a list reproduces the
// roster.
type Event struct {
	Type        EventType
	Index       int
	Entry       Entry
	Participant ParticipantID
	Flag        bool
	Phase       Phase
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s.Clone()
	var events []Event

	switch cmd.Type {
	case CmdAttachHost:
		newState.Attached = true
		newState.Phase = PhasePopulating
		events = append(events, Event{Type: EvtPhaseChanged, Phase: PhasePopulating})
		events = append(events, reconcile(&newState, cmd.Connected)...)

	case CmdConnect:
		if cmd.Participant == HostID {
			return nil, s, ErrHostParticipant
		}
		newState.Connected[cmd.Participant] = true
		if i := indexOf(newState.Roster, cmd.Participant); i >= 0 {
			// Reconnect with a stale entry: never carry readiness over.
			if newState.Roster[i].Ready {
				newState.Roster[i].Ready = false
				events = append(events, Event{Type: EvtEntryUpdated, Index: i, Entry: newState.Roster[i]})
			}
		} else {
			e := Entry{ID: cmd.Participant}
			newState.Roster = append(newState.Roster, e)
			events = append(events, Event{Type: EvtEntryAdded, Index: len(newState.Roster) - 1, Entry: e})
		}

	case CmdDisconnect:
		if cmd.Participant == HostID {
			return nil, s, ErrHostParticipant
		}
		delete(newState.Connected, cmd.Participant)
		if i := indexOf(newState.Roster, cmd.Participant); i >= 0 {
			e := newState.Roster[i]
			newState.Roster = slices.Delete(newState.Roster, i, i+1)
			events = append(events, Event{Type: EvtEntryRemoved, Index: i, Entry: e})
		}
		if i := slices.Index(newState.Votes, cmd.Participant); i >= 0 {
			newState.Votes = slices.Delete(newState.Votes, i, i+1)
			events = append(events, Event{Type: EvtVoteRemoved, Index: i, Participant: cmd.Participant})
		}

	case CmdSetReady:
		if cmd.Sender == HostID {
			return nil, s, ErrHostParticipant
		}
		i := indexOf(newState.Roster, cmd.Sender)
		if i < 0 || !newState.Connected[cmd.Sender] {
			return nil, s, ErrUnknownParticipant
		}
		if newState.Roster[i].Ready == cmd.Ready {
			return nil, s, nil
		}
		newState.Roster[i].Ready = cmd.Ready
		events = append(events, Event{Type: EvtEntryUpdated, Index: i, Entry: newState.Roster[i]})

	case CmdBeginSession:
		if cmd.Sender != HostID {
			return nil, s, ErrNotHost
		}
		if !s.Attached {
			return nil, s, ErrNotAttached
		}
		if s.InSession {
			return nil, s, ErrAlreadyTransitioning
		}
		// Re-validate against the roster as it is now, not the replicated gate
		// value a stale UI acted on.
		if !ComputeGate(s.Roster, len(s.Connected)) {
			return nil, s, ErrGateClosed
		}
		newState.InSession = true
		events = append(events, Event{Type: EvtSessionBegun})

	case CmdAbortSession:
		if !s.InSession {
			return nil, s, ErrNotInSession
		}
		newState.InSession = false
		newState.Voting = false
		newState.Votes = nil

	case CmdEndSession:
		if !s.InSession {
			return nil, s, ErrNotInSession
		}
		newState.InSession = false
		newState.Voting = false
		newState.Votes = nil
		newState.Phase = PhasePopulating
		events = append(events, Event{Type: EvtPhaseChanged, Phase: PhasePopulating})
		for i := range newState.Roster {
			if newState.Roster[i].Ready {
				newState.Roster[i].Ready = false
				events = append(events, Event{Type: EvtEntryUpdated, Index: i, Entry: newState.Roster[i]})
			}
		}

	case CmdSetVisibility:
		if cmd.Sender != HostID {
			return nil, s, ErrNotHost
		}
		if s.Public == cmd.Public {
			return nil, s, nil
		}
		newState.Public = cmd.Public
		events = append(events, Event{Type: EvtVisibilityChanged, Flag: cmd.Public})

	case CmdOpenVoting:
		if !s.InSession {
			return nil, s, ErrNotInSession
		}
		newState.Voting = true
		newState.Votes = nil
		events = append(events, Event{Type: EvtVotingOpened})

	case CmdReturnVote:
		if cmd.Sender == HostID {
			return nil, s, ErrHostParticipant
		}
		if !s.Voting {
			return nil, s, ErrVotingClosed
		}
		if !s.Connected[cmd.Sender] {
			return nil, s, ErrUnknownParticipant
		}
		if slices.Contains(s.Votes, cmd.Sender) {
			return nil, s, nil
		}
		newState.Votes = append(newState.Votes, cmd.Sender)
		events = append(events, Event{Type: EvtVoteAdded, Index: len(newState.Votes) - 1, Participant: cmd.Sender})

	case CmdReturnToLobby:
		if cmd.Sender != HostID {
			return nil, s, ErrNotHost
		}
		if !s.Voting {
			return nil, s, ErrVotingClosed
		}
		if !ComputeReturnGate(s.Votes, len(s.Connected)) {
			return nil, s, ErrReturnGateClosed
		}
		newState.Voting = false
		events = append(events, Event{Type: EvtReturnAccepted})

	default:
		return nil, s, ErrUnsupportedCommand
	}

	events = append(events, recompute(&newState)...)
	return events, newState, nil
}

// reconcile brings the roster in line with the live non-host connection set:
// entries for departed ids go, ready entries are reset, missing ids are added
// in the order given.
func reconcile(s *State, connected []ParticipantID) []Event {
	var events []Event

	live := make(map[ParticipantID]bool, len(connected))
	for _, id := range connected {
		if id != HostID {
			live[id] = true
		}
	}

	for i := len(s.Roster) - 1; i >= 0; i-- {
		if !live[s.Roster[i].ID] {
			e := s.Roster[i]
			s.Roster = slices.Delete(s.Roster, i, i+1)
			events = append(events, Event{Type: EvtEntryRemoved, Index: i, Entry: e})
		}
	}

	for _, id := range connected {
		if id == HostID {
			continue
		}
		if i := indexOf(s.Roster, id); i >= 0 {
			if s.Roster[i].Ready {
				s.Roster[i].Ready = false
				events = append(events, Event{Type: EvtEntryUpdated, Index: i, Entry: s.Roster[i]})
			}
			continue
		}
		e := Entry{ID: id}
		s.Roster = append(s.Roster, e)
		events = append(events, Event{Type: EvtEntryAdded, Index: len(s.Roster) - 1, Entry: e})
	}

	s.Connected = live
	return events
}

// recompute refreshes every derived field and reports the ones that moved.
func recompute(s *State) []Event {
	var events []Event

	if gate := ComputeGate(s.Roster, len(s.Connected)); gate != s.Gate {
		s.Gate = gate
		events = append(events, Event{Type: EvtGateChanged, Flag: gate})
	}

	rg := s.Voting && ComputeReturnGate(s.Votes, len(s.Connected))
	if rg != s.ReturnGate {
		s.ReturnGate = rg
		events = append(events, Event{Type: EvtReturnGateChanged, Flag: rg})
	}

	if phase := DerivePhase(*s); phase != s.Phase {
		s.Phase = phase
		events = append(events, Event{Type: EvtPhaseChanged, Phase: phase})
	}
	return events
}

func indexOf(roster []Entry, id ParticipantID) int {
	return slices.IndexFunc(roster, func(e Entry) bool { return e.ID == id })
}
