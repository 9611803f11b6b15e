package lobby

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/engine"
	"github.com/fourducktion/party-lobby/internal/slots"
	"github.com/fourducktion/party-lobby/pkg/types"
)

// spawnPosition looks up the slot a participant is sent back to.
var spawnPosition = func(r *slots.Registry, id uint64) (slots.Vec3, bool) { return r.Position(id) }

// LoadStatus is the answer to a group context load request.
type LoadStatus int

const (
	LoadStarted LoadStatus = iota
	LoadInProgress
	LoadInvalid
)

func (s LoadStatus) String() string {
	switch s {
	case LoadStarted:
		return "started"
	case LoadInProgress:
		return "in_progress"
	case LoadInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int(s))
	}
}

type stage int

const (
	stageCutscene stage = iota + 1
	stageMinigame
	stageLobby
)

// contextLoad tracks one "load this context for everyone" request until every
// participant has acknowledged it or the timeout fires.
type contextLoad struct {
	name    string
	stage   stage
	gen     int
	pending map[engine.ParticipantID]bool
	timer   *time.Timer
}

type cutsceneTimer struct {
	gen   int
	timer *time.Timer
}

// loadContext asks every connected participant to load name. Only the
// coordinator issues loads; completion is reported through contextLoaded or
// loadTimedOut.
func (l *Lobby) loadContext(name string, st stage) LoadStatus {
	if strings.TrimSpace(name) == "" {
		return LoadInvalid
	}
	if l.load != nil {
		return LoadInProgress
	}

	l.loadGen++
	gen := l.loadGen
	ld := &contextLoad{
		name:    name,
		stage:   st,
		gen:     gen,
		pending: make(map[engine.ParticipantID]bool, len(l.conns)),
	}
	for id := range l.conns {
		ld.pending[id] = true
	}
	ld.timer = time.AfterFunc(l.cfg.LoadTimeout, func() { l.post(loadTimedOut{gen: gen}) })
	l.load = ld
	l.context = name

	l.log.Info("loading context", zap.String("context", name), zap.Int("participants", len(ld.pending)))
	l.broadcast(types.ServerMessage{Type: types.MsgLoadContext, Context: name})
	return LoadStarted
}

func (l *Lobby) contextLoaded(from engine.ParticipantID, name string) {
	if l.life != LifecycleActive || l.load == nil || l.load.name != name {
		l.log.Debug("stale context ack", zap.Uint64("participant", uint64(from)), zap.String("context", name))
		return
	}
	if !l.load.pending[from] {
		return
	}
	delete(l.load.pending, from)
	l.maybeFinishLoad()
}

func (l *Lobby) maybeFinishLoad() {
	if l.load != nil && len(l.load.pending) == 0 {
		l.finishLoad()
	}
}

func (l *Lobby) loadTimedOut(gen int) {
	if l.life != LifecycleActive || l.load == nil || l.load.gen != gen {
		return
	}
	missing := make([]uint64, 0, len(l.load.pending))
	for id := range l.load.pending {
		missing = append(missing, uint64(id))
	}
	slices.Sort(missing)
	l.log.Warn("context load timed out", zap.String("context", l.load.name), zap.Uint64s("missing", missing))
	l.finishLoad()
}

func (l *Lobby) finishLoad() {
	ld := l.load
	ld.timer.Stop()
	l.load = nil
	l.log.Info("context loaded", zap.String("context", ld.name))

	switch ld.stage {
	case stageCutscene:
		l.cutscene.gen++
		gen := l.cutscene.gen
		l.cutscene.timer = time.AfterFunc(l.cfg.CutsceneDuration, func() { l.post(cutsceneElapsed{gen: gen}) })
	case stageMinigame:
		l.apply(engine.Command{Type: engine.CmdOpenVoting, Sender: engine.HostID}, "open_voting")
	case stageLobby:
		l.completeReturn()
	}
}

func (l *Lobby) cutsceneElapsed(gen int) {
	if l.life != LifecycleActive || gen != l.cutscene.gen || !l.state.InSession {
		return
	}
	l.cutscene.timer = nil
	if status := l.loadContext(l.destination.Minigame, stageMinigame); status != LoadStarted {
		l.log.Warn("minigame load rejected", zap.String("minigame", l.destination.Minigame), zap.Stringer("status", status))
		l.rec.TransitionRejected()
	}
}

// completeReturn runs once the waiting room has loaded for everyone after a
// session.
func (l *Lobby) completeReturn() {
	var errs error
	for _, id := range l.participantIDs() {
		errs = multierr.Append(errs, l.reposition(id))
	}
	if errs != nil {
		l.log.Warn("reposition incomplete", zap.Error(errs))
	}

	// Resets every ready flag and recomputes the gate.
	events, next, err := engine.Apply(l.state, engine.Command{Type: engine.CmdEndSession, Sender: engine.HostID})
	if err != nil {
		l.log.Warn("end session not applied", zap.Error(err))
		return
	}
	if !l.commit(events, next) {
		// Never leave a gate open that was derived from a roster we could
		// not walk. The engine is closed too so the two stay in agreement.
		l.state.Gate = false
		l.state.Phase = engine.DerivePhase(l.state)
		l.gate.Set(false)
		l.phase.Set(l.state.Phase)
	}
	l.destination = Destination{}

	// One diff update restores the pre-session privacy and refreshes the
	// player count and host name.
	l.refreshAdvert(nil)
	l.log.Info("returned to lobby", zap.Int("clients", len(l.state.Connected)), zap.Bool("gate", l.state.Gate))
}

// reposition sends id back to its recorded spawn slot. A failure for one
// participant does not stop the others.
func (l *Lobby) reposition(id engine.ParticipantID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reposition %d: %v", id, r)
		}
	}()

	p := l.conns[id]
	if p == nil {
		return fmt.Errorf("reposition %d: %w", id, engine.ErrUnknownParticipant)
	}
	pos, ok := spawnPosition(l.slots, uint64(id))
	if !ok {
		l.log.Warn("no spawn slot recorded, using origin", zap.Uint64("participant", uint64(id)))
	}
	l.send(p, repositionFrame(pos))
	return nil
}

func (l *Lobby) stopTransitions() {
	if l.load != nil {
		l.load.timer.Stop()
		l.load = nil
	}
	l.cutscene.gen++
	if l.cutscene.timer != nil {
		l.cutscene.timer.Stop()
		l.cutscene.timer = nil
	}
}

// post delivers an internal message unless the lobby is gone.
func (l *Lobby) post(m Msg) {
	if l.ctx.Err() != nil {
		return
	}
	select {
	case l.inbox <- m:
	case <-l.ctx.Done():
	}
}
