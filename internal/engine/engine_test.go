package engine

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attached(t *testing.T, connected ...ParticipantID) State {
	t.Helper()
	_, s, err := Apply(NewEmptyState(), Command{Type: CmdAttachHost, Connected: append([]ParticipantID{HostID}, connected...)})
	require.NoError(t, err)
	return s
}

func mustApply(t *testing.T, s State, cmd Command) ([]Event, State) {
	t.Helper()
	events, next, err := Apply(s, cmd)
	require.NoError(t, err, "command %s", cmd.Type)
	return events, next
}

func TestComputeGate(t *testing.T) {
	cases := []struct {
		name      string
		roster    []Entry
		connected int
		want      bool
	}{
		{name: "host alone", roster: nil, connected: 0, want: true},
		{name: "one not ready", roster: []Entry{{ID: 1}}, connected: 1, want: false},
		{name: "one ready", roster: []Entry{{ID: 1, Ready: true}}, connected: 1, want: true},
		{name: "mixed", roster: []Entry{{ID: 1, Ready: true}, {ID: 2}}, connected: 2, want: false},
		{name: "all ready", roster: []Entry{{ID: 1, Ready: true}, {ID: 2, Ready: true}}, connected: 2, want: true},
		{name: "connected ahead of roster", roster: []Entry{{ID: 1, Ready: true}}, connected: 2, want: false},
		{name: "roster ahead of connected", roster: []Entry{{ID: 1, Ready: true}, {ID: 2, Ready: true}}, connected: 1, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeGate(tc.roster, tc.connected))
		})
	}
}

func TestAttachHost_AloneOpensGate(t *testing.T) {
	events, s, err := Apply(NewEmptyState(), Command{Type: CmdAttachHost, Connected: []ParticipantID{HostID}})
	require.NoError(t, err)

	assert.True(t, s.Gate)
	assert.Equal(t, PhaseGateOpen, s.Phase)
	assert.Empty(t, s.Roster)
	assert.True(t, ContainsEvent(events, EvtGateChanged))
	assert.Equal(t, Event{Type: EvtPhaseChanged, Phase: PhasePopulating}, events[0])
}

func TestAttachHost_ReconcilesStaleRoster(t *testing.T) {
	s := NewEmptyState()
	s.Roster = []Entry{{ID: 1, Ready: true}, {ID: 9, Ready: true}, {ID: 2}}

	_, s, err := Apply(s, Command{Type: CmdAttachHost, Connected: []ParticipantID{HostID, 1, 2, 3}})
	require.NoError(t, err)

	assert.Equal(t, []Entry{{ID: 1}, {ID: 2}, {ID: 3}}, s.Roster)
	assert.Len(t, s.Connected, 3)
	assert.False(t, s.Gate)
	assert.Equal(t, PhaseAwaitingReady, s.Phase)
}

func TestSingleClientReadyFlow(t *testing.T) {
	s := attached(t)

	_, s = mustApply(t, s, Command{Type: CmdConnect, Participant: 1})
	require.Equal(t, []Entry{{ID: 1}}, s.Roster)
	require.False(t, s.Gate)

	events, s := mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})
	assert.True(t, s.Gate)
	assert.Equal(t, PhaseGateOpen, s.Phase)
	assert.Equal(t, Event{Type: EvtEntryUpdated, Index: 0, Entry: Entry{ID: 1, Ready: true}}, events[0])

	events, s = mustApply(t, s, Command{Type: CmdBeginSession, Sender: HostID})
	assert.True(t, ContainsEvent(events, EvtSessionBegun))
	assert.Equal(t, PhaseTransitioning, s.Phase)
}

func TestSetReady_Idempotent(t *testing.T) {
	s := attached(t, 1, 2)

	_, once := mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})
	events, twice := mustApply(t, once, Command{Type: CmdSetReady, Sender: 1, Ready: true})

	assert.Empty(t, events)
	assert.Equal(t, once.Roster, twice.Roster)
	assert.Equal(t, once.Gate, twice.Gate)
}

func TestSetReady_Rejections(t *testing.T) {
	s := attached(t, 1)

	cases := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{name: "unknown participant", cmd: Command{Type: CmdSetReady, Sender: 42, Ready: true}, wantErr: ErrUnknownParticipant},
		{name: "host has no entry", cmd: Command{Type: CmdSetReady, Sender: HostID, Ready: true}, wantErr: ErrHostParticipant},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(s, tc.cmd)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, events)
			assert.Equal(t, s, next)
		})
	}
}

func TestConnect_ReconnectResetsReadiness(t *testing.T) {
	s := attached(t, 1)
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})

	events, s := mustApply(t, s, Command{Type: CmdConnect, Participant: 1})

	assert.Equal(t, []Entry{{ID: 1}}, s.Roster)
	assert.False(t, s.Gate)
	assert.True(t, ContainsEvent(events, EvtEntryUpdated))
	assert.False(t, ContainsEvent(events, EvtEntryAdded))
}

func TestConnect_MidCheckClosesGate(t *testing.T) {
	s := attached(t, 1)
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})
	require.True(t, s.Gate)

	_, s = mustApply(t, s, Command{Type: CmdConnect, Participant: 2})
	assert.False(t, s.Gate)

	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 2, Ready: true})
	assert.True(t, s.Gate)
}

func TestDisconnect_OnlyUnreadyClientOpensGate(t *testing.T) {
	s := attached(t, 1, 2)
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})
	require.False(t, s.Gate)

	events, s := mustApply(t, s, Command{Type: CmdDisconnect, Participant: 2})

	assert.Equal(t, []Entry{{ID: 1, Ready: true}}, s.Roster)
	assert.True(t, s.Gate)
	assert.Equal(t, Event{Type: EvtEntryRemoved, Index: 1, Entry: Entry{ID: 2}}, events[0])
}

func TestBeginSession_RevalidatesAfterDisconnect(t *testing.T) {
	s := attached(t, 1, 2)
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 2, Ready: true})
	require.True(t, s.Gate)

	_, s = mustApply(t, s, Command{Type: CmdDisconnect, Participant: 1})
	require.True(t, s.Gate)

	_, s = mustApply(t, s, Command{Type: CmdBeginSession, Sender: HostID})
	assert.True(t, s.InSession)
}

func TestBeginSession_Rejections(t *testing.T) {
	closed := attached(t, 1)

	open := attached(t)
	_, inSession := mustApply(t, open, Command{Type: CmdBeginSession, Sender: HostID})

	// A replicated gate value that went stale must not be trusted.
	stale := closed.Clone()
	stale.Gate = true

	cases := []struct {
		name    string
		state   State
		sender  ParticipantID
		wantErr error
	}{
		{name: "not host", state: open, sender: 1, wantErr: ErrNotHost},
		{name: "not attached", state: NewEmptyState(), sender: HostID, wantErr: ErrNotAttached},
		{name: "gate closed", state: closed, sender: HostID, wantErr: ErrGateClosed},
		{name: "stale gate value", state: stale, sender: HostID, wantErr: ErrGateClosed},
		{name: "already transitioning", state: inSession, sender: HostID, wantErr: ErrAlreadyTransitioning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, next, err := Apply(tc.state, Command{Type: CmdBeginSession, Sender: tc.sender})
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.state, next)
		})
	}
}

func TestEndSession_ResetsReadiness(t *testing.T) {
	s := attached(t, 1, 2)
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 2, Ready: true})
	_, s = mustApply(t, s, Command{Type: CmdBeginSession, Sender: HostID})

	events, s := mustApply(t, s, Command{Type: CmdEndSession})

	assert.Equal(t, []Entry{{ID: 1}, {ID: 2}}, s.Roster)
	assert.False(t, s.Gate)
	assert.False(t, s.InSession)
	assert.Equal(t, PhaseAwaitingReady, s.Phase)
	assert.Equal(t, Event{Type: EvtPhaseChanged, Phase: PhasePopulating}, events[0])
}

func TestAbortSession_RestoresGatePhase(t *testing.T) {
	s := attached(t)
	_, s = mustApply(t, s, Command{Type: CmdBeginSession, Sender: HostID})

	_, s = mustApply(t, s, Command{Type: CmdAbortSession})
	assert.Equal(t, PhaseGateOpen, s.Phase)

	_, _, err := Apply(s, Command{Type: CmdAbortSession})
	assert.ErrorIs(t, err, ErrNotInSession)
}

func TestSetVisibility(t *testing.T) {
	s := attached(t)
	require.True(t, s.Public)

	events, s := mustApply(t, s, Command{Type: CmdSetVisibility, Sender: HostID, Public: false})
	assert.False(t, s.Public)
	assert.Equal(t, []Event{{Type: EvtVisibilityChanged, Flag: false}}, events)

	events, _ = mustApply(t, s, Command{Type: CmdSetVisibility, Sender: HostID, Public: false})
	assert.Empty(t, events)

	_, _, err := Apply(s, Command{Type: CmdSetVisibility, Sender: 3, Public: true})
	assert.ErrorIs(t, err, ErrNotHost)
}

func TestReturnVote(t *testing.T) {
	s := attached(t, 1, 2)
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 1, Ready: true})
	_, s = mustApply(t, s, Command{Type: CmdSetReady, Sender: 2, Ready: true})
	_, s = mustApply(t, s, Command{Type: CmdBeginSession, Sender: HostID})

	_, _, err := Apply(s, Command{Type: CmdReturnVote, Sender: 1})
	require.ErrorIs(t, err, ErrVotingClosed)

	_, s = mustApply(t, s, Command{Type: CmdOpenVoting})
	require.False(t, s.ReturnGate)

	_, _, err = Apply(s, Command{Type: CmdReturnToLobby, Sender: HostID})
	require.ErrorIs(t, err, ErrReturnGateClosed)

	_, s = mustApply(t, s, Command{Type: CmdReturnVote, Sender: 1})
	events, s := mustApply(t, s, Command{Type: CmdReturnVote, Sender: 1})
	assert.Empty(t, events, "duplicate vote")
	assert.False(t, s.ReturnGate)

	// The last holdout leaving opens the gate just as a vote would.
	events, s = mustApply(t, s, Command{Type: CmdDisconnect, Participant: 2})
	assert.True(t, ContainsEvent(events, EvtReturnGateChanged))
	assert.True(t, s.ReturnGate)

	events, s = mustApply(t, s, Command{Type: CmdReturnToLobby, Sender: HostID})
	assert.True(t, ContainsEvent(events, EvtReturnAccepted))
	assert.False(t, s.Voting)
	assert.False(t, s.ReturnGate)
	assert.True(t, s.InSession)
}

func TestReturnVote_NoClientsOpensImmediately(t *testing.T) {
	s := attached(t)
	_, s = mustApply(t, s, Command{Type: CmdBeginSession, Sender: HostID})
	_, s = mustApply(t, s, Command{Type: CmdOpenVoting})
	assert.True(t, s.ReturnGate)
}

func TestApply_EventsReplayOntoRoster(t *testing.T) {
	s := attached(t, 1, 2, 3)
	replayed := slices.Clone(s.Roster)

	cmds := []Command{
		{Type: CmdSetReady, Sender: 2, Ready: true},
		{Type: CmdDisconnect, Participant: 1},
		{Type: CmdConnect, Participant: 4},
		{Type: CmdSetReady, Sender: 4, Ready: true},
		{Type: CmdDisconnect, Participant: 3},
	}
	for _, cmd := range cmds {
		var events []Event
		events, s = mustApply(t, s, cmd)
		for _, ev := range events {
			switch ev.Type {
			case EvtEntryAdded:
				require.Equal(t, len(replayed), ev.Index)
				replayed = append(replayed, ev.Entry)
			case EvtEntryRemoved:
				replayed = slices.Delete(replayed, ev.Index, ev.Index+1)
			case EvtEntryUpdated:
				replayed[ev.Index] = ev.Entry
			}
		}
	}

	assert.Equal(t, s.Roster, replayed)
	assert.Equal(t, []Entry{{ID: 2, Ready: true}, {ID: 4, Ready: true}}, s.Roster)
}

// Random connect/disconnect/ready sequences must keep the roster and gate
// invariants after every step and converge on the live connection set.
func TestApply_RandomSequencesHoldInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for run := 0; run < 50; run++ {
		s := attached(t)
		live := map[ParticipantID]bool{}
		next := ParticipantID(1)

		for step := 0; step < 200; step++ {
			var cmd Command
			switch rng.IntN(4) {
			case 0:
				cmd = Command{Type: CmdConnect, Participant: next}
				live[next] = true
				next++
			case 1:
				id := ParticipantID(rng.IntN(int(next)))
				cmd = Command{Type: CmdDisconnect, Participant: id}
				delete(live, id)
			default:
				id := ParticipantID(rng.IntN(int(next)))
				cmd = Command{Type: CmdSetReady, Sender: id, Ready: rng.IntN(2) == 0}
			}

			_, after, err := Apply(s, cmd)
			if err != nil {
				assert.Equal(t, s, after)
				continue
			}
			s = after

			seen := map[ParticipantID]bool{}
			for _, e := range s.Roster {
				require.NotEqual(t, HostID, e.ID)
				require.False(t, seen[e.ID], "duplicate entry %d", e.ID)
				seen[e.ID] = true
			}
			allReady := ReadyCount(s.Roster) == len(s.Roster)
			want := len(s.Connected) == 0 || (allReady && len(s.Roster) == len(s.Connected))
			require.Equal(t, want, s.Gate)
		}

		ids := map[ParticipantID]bool{}
		for _, e := range s.Roster {
			ids[e.ID] = true
		}
		delete(live, HostID)
		assert.Equal(t, live, ids)
	}
}
