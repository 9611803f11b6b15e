package lobby

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/engine"
	"github.com/fourducktion/party-lobby/internal/slots"
	"github.com/fourducktion/party-lobby/pkg/replica"
	"github.com/fourducktion/party-lobby/pkg/types"
)

// wireReplicas fans every replicated field out as its own frame.
func (l *Lobby) wireReplicas() {
	l.roster.Subscribe(func(ev replica.ListEvent[engine.Entry]) {
		l.broadcast(types.ServerMessage{Type: types.MsgRoster, Roster: rosterChange(ev)})
	})
	l.gate.Subscribe(func(_, v bool) {
		l.broadcast(types.ServerMessage{Type: types.MsgGate, Flag: types.Bool(v)})
	})
	l.public.Subscribe(func(_, v bool) {
		l.broadcast(types.ServerMessage{Type: types.MsgVisibility, Flag: types.Bool(v)})
	})
	l.returnGate.Subscribe(func(_, v bool) {
		l.broadcast(types.ServerMessage{Type: types.MsgReturnGate, Flag: types.Bool(v)})
	})
	l.phase.Subscribe(func(_, p engine.Phase) {
		l.broadcast(types.ServerMessage{Type: types.MsgPhase, Phase: string(p)})
	})
}

// commit installs next and walks events onto the replicas. A roster event
// that no longer fits is logged and the roster is re-sent whole, so observers
// converge either way. It reports whether every event applied cleanly.
func (l *Lobby) commit(events []engine.Event, next engine.State) bool {
	l.state = next
	clean := true
	for _, ev := range events {
		if err := l.project(ev); err != nil {
			clean = false
			l.log.Warn("roster replica out of step",
				zap.String("event", string(ev.Type)),
				zap.Int("index", ev.Index),
				zap.Uint64("participant", uint64(ev.Entry.ID)),
				zap.Error(err))
		}
	}
	if !clean {
		l.roster.Reset(l.state.Roster)
	}
	return clean
}

func (l *Lobby) project(ev engine.Event) error {
	switch ev.Type {
	case engine.EvtEntryAdded:
		if n := l.roster.Len(); ev.Index != n {
			return fmt.Errorf("append at %d of %d: %w", ev.Index, n, replica.ErrIndexOutOfRange)
		}
		l.roster.Append(ev.Entry)
	case engine.EvtEntryRemoved:
		if err := l.expect(ev.Index, ev.Entry.ID); err != nil {
			return err
		}
		return l.roster.RemoveAt(ev.Index)
	case engine.EvtEntryUpdated:
		if err := l.expect(ev.Index, ev.Entry.ID); err != nil {
			return err
		}
		return l.roster.Set(ev.Index, ev.Entry)
	case engine.EvtGateChanged:
		l.gate.Set(ev.Flag)
	case engine.EvtVisibilityChanged:
		l.public.Set(ev.Flag)
	case engine.EvtReturnGateChanged:
		l.returnGate.Set(ev.Flag)
	case engine.EvtPhaseChanged:
		l.phase.Set(ev.Phase)
	}
	return nil
}

// expect checks that the roster slot at i still belongs to id.
func (l *Lobby) expect(i int, id engine.ParticipantID) error {
	e, err := l.roster.At(i)
	if err != nil {
		return err
	}
	if e.ID != id {
		return fmt.Errorf("index %d holds %d, not %d: %w", i, e.ID, id, replica.ErrIndexOutOfRange)
	}
	return nil
}

func (l *Lobby) send(p *participant, msg types.ServerMessage) {
	if p.dropped {
		return
	}
	select {
	case p.outbox <- msg:
	default:
		// Slow or stuck reader: stop feeding it and disconnect it once the
		// current message is done.
		p.dropped = true
		l.drops = append(l.drops, p.id)
	}
}

func (l *Lobby) broadcast(msg types.ServerMessage) {
	for _, id := range l.participantIDs() {
		l.send(l.conns[id], msg)
	}
}

func (l *Lobby) welcome(p *participant, pos slots.Vec3) {
	roster := l.roster.Items()
	entries := make([]types.RosterEntry, len(roster))
	for i, e := range roster {
		entries[i] = wireEntry(e)
	}
	l.send(p, types.ServerMessage{Type: types.MsgWelcome, Snapshot: &types.Snapshot{
		You:        uint64(p.id),
		Host:       p.id == engine.HostID,
		Code:       l.code,
		Phase:      string(l.phase.Get()),
		Roster:     entries,
		Gate:       l.gate.Get(),
		Public:     l.public.Get(),
		ReturnGate: l.returnGate.Get(),
		Context:    l.context,
		Position:   wirePosition(pos),
	}})
}

func rosterChange(ev replica.ListEvent[engine.Entry]) *types.RosterChange {
	rc := &types.RosterChange{Op: string(ev.Op), Index: ev.Index}
	switch ev.Op {
	case replica.OpAppend, replica.OpSet:
		e := wireEntry(ev.Value)
		rc.Entry = &e
	case replica.OpRemove:
		e := wireEntry(ev.Previous)
		rc.Entry = &e
	case replica.OpReset:
		rc.Items = make([]types.RosterEntry, len(ev.Items))
		for i, e := range ev.Items {
			rc.Items[i] = wireEntry(e)
		}
	}
	return rc
}

func wireEntry(e engine.Entry) types.RosterEntry {
	return types.RosterEntry{ID: uint64(e.ID), Ready: e.Ready}
}

func wirePosition(v slots.Vec3) types.Position {
	return types.Position{X: v.X, Y: v.Y, Z: v.Z}
}

func repositionFrame(v slots.Vec3) types.ServerMessage {
	pos := wirePosition(v)
	return types.ServerMessage{Type: types.MsgReposition, Position: &pos}
}
