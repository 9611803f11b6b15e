// Package lobby runs one coordinator per waiting room. A single goroutine owns
// the readiness roster, start gate, visibility flag, spawn slots and scene
// transitions; everything else talks to it through its inbox.
package lobby

import (
	"context"
	"crypto/subtle"
	"errors"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/engine"
	"github.com/fourducktion/party-lobby/internal/slots"
	"github.com/fourducktion/party-lobby/pkg/replica"
	"github.com/fourducktion/party-lobby/pkg/types"
)

var (
	ErrRoomFull   = errors.New("room is full")
	ErrHostAbsent = errors.New("host not present")
	ErrHostTaken  = errors.New("host already attached")
	ErrClosed     = errors.New("session closed")
)

type Lifecycle string

const (
	LifecycleIdle         Lifecycle = "idle"
	LifecycleActive       Lifecycle = "active"
	LifecycleShuttingDown Lifecycle = "shutting_down"
)

const unnamedHost = "Unnamed Host"

// pickDestination chooses one of n destinations.
var pickDestination = func(n int) int { return rand.IntN(n) }

type participant struct {
	id      engine.ParticipantID
	name    string
	outbox  chan types.ServerMessage
	dropped bool
}

type Option func(*Lobby)

func WithLogger(log *zap.Logger) Option { return func(l *Lobby) { l.log = log } }

// WithDirectory enables advertisement sync. Without it the lobby is simply
// not discoverable.
func WithDirectory(dir directory.Client) Option { return func(l *Lobby) { l.dir = dir } }

func WithRecorder(rec Recorder) Option { return func(l *Lobby) { l.rec = rec } }

// WithHostToken sets the secret the host presents on join. With no token the
// first participant to join becomes the host.
func WithHostToken(token string) Option { return func(l *Lobby) { l.hostToken = token } }

// OnClose is called from the lobby goroutine after Done is closed.
func OnClose(fn func(code string)) Option { return func(l *Lobby) { l.onClose = fn } }

type Lobby struct {
	code      string
	cfg       Config
	log       *zap.Logger
	dir       directory.Client
	rec       Recorder
	hostToken string
	onClose   func(code string)

	inbox    chan Msg
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closeErr error

	life     Lifecycle
	state    engine.State
	hostName string
	nextID   engine.ParticipantID
	conns    map[engine.ParticipantID]*participant
	drops    []engine.ParticipantID

	// Replicated fields. Every change is fanned out to all participants.
	roster     *replica.List[engine.Entry]
	gate       *replica.Value[bool]
	public     *replica.Value[bool]
	returnGate *replica.Value[bool]
	phase      *replica.Value[engine.Phase]

	slots *slots.Registry

	context     string
	load        *contextLoad
	loadGen     int
	destination Destination
	cutscene    cutsceneTimer

	advert  advertSync
	created chan advertCreated // result of the one advertisement create
}

func NewLobby(parent context.Context, code string, cfg Config, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	cfg = cfg.withDefaults()

	l := &Lobby{
		code:     code,
		cfg:      cfg,
		log:      zap.NewNop(),
		rec:      nopRecorder{},
		inbox:    make(chan Msg, 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		life:     LifecycleIdle,
		state:    engine.NewEmptyState(),
		hostName: unnamedHost,
		nextID:   engine.HostID + 1,
		conns:    make(map[engine.ParticipantID]*participant),
		roster:   replica.NewList[engine.Entry](),
		slots:    slots.New(cfg.SpawnPositions),
		context:  cfg.LobbyContext,
		created:  make(chan advertCreated, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(zap.String("lobby", code))
	l.gate = replica.NewValue(l.state.Gate)
	l.public = replica.NewValue(l.state.Public)
	l.returnGate = replica.NewValue(l.state.ReturnGate)
	l.phase = replica.NewValue(l.state.Phase)
	l.wireReplicas()

	l.rec.LobbyOpened()
	go l.loop()
	return l
}

func (l *Lobby) Code() string { return l.code }

// Send delivers m to the coordinator. It reports false once the lobby has
// shut down. Messages carrying a Reply channel need it buffered.
func (l *Lobby) Send(m Msg) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

// Done is closed when the coordinator goroutine has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Close tears the lobby down and waits for it, returning whatever the
// teardown could not clean up.
func (l *Lobby) Close(ctx context.Context) error {
	l.Send(Shutdown{})
	select {
	case <-l.done:
		return l.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lobby) loop() {
	defer func() {
		close(l.done)
		if l.onClose != nil {
			l.onClose(l.code)
		}
	}()
	for {
		select {
		case <-l.ctx.Done():
			l.teardown("context cancelled")
			return

		case <-l.advert.heartbeatC():
			l.sendHeartbeat()

		case <-l.advert.refreshC():
			l.refreshAdvert(nil)

		case c := <-l.created:
			l.advertCreated(c)

		case m := <-l.inbox:
			l.handle(m)
			l.flushDrops()
			if l.life == LifecycleShuttingDown {
				return
			}
		}
	}
}

func (l *Lobby) handle(m Msg) {
	switch msg := m.(type) {
	case Join:
		msg.Reply <- l.join(msg)

	case Leave:
		p := l.conns[msg.ID]
		if p == nil || p.outbox != msg.Outbox {
			l.log.Debug("stale leave ignored", zap.Uint64("participant", uint64(msg.ID)))
			break
		}
		l.disconnect(msg.ID, "left")

	case SetReady:
		if l.known(msg.From, "set_ready") {
			l.apply(engine.Command{Type: engine.CmdSetReady, Sender: msg.From, Ready: msg.Ready}, "set_ready")
		}

	case BeginSession:
		l.beginSession(msg.From)

	case ToggleVisibility:
		l.toggleVisibility(msg.From)

	case SetName:
		l.setName(msg.From, msg.Name)

	case ContextLoaded:
		l.contextLoaded(msg.From, msg.Context)

	case ReturnVote:
		if l.known(msg.From, "return_vote") {
			l.apply(engine.Command{Type: engine.CmdReturnVote, Sender: msg.From}, "return_vote")
		}

	case ReturnToLobby:
		l.returnToLobby(msg.From)

	case SpawnPosition:
		pos, ok := l.slots.Position(uint64(msg.ID))
		msg.Reply <- SpawnResult{Pos: pos, Recorded: ok}

	case RegisterSpawn:
		if l.life == LifecycleActive {
			l.slots.Register(uint64(msg.ID), msg.Pos)
		}

	case GetState:
		msg.Reply <- l.view()

	case Shutdown:
		l.teardown("shutdown requested")

	case loadTimedOut:
		l.loadTimedOut(msg.gen)

	case cutsceneElapsed:
		l.cutsceneElapsed(msg.gen)

	case advertUpdated:
		l.advertUpdated(msg)

	case advertHeartbeat:
		l.advertHeartbeat(msg)
	}
}

// join runs connection approval.
func (l *Lobby) join(msg Join) JoinResult {
	if l.life == LifecycleShuttingDown {
		return JoinResult{Err: ErrClosed}
	}
	if l.isHostToken(msg.Token) {
		return l.attachHost(msg)
	}
	if !l.state.Attached {
		l.reject(0, "join", ErrHostAbsent)
		return JoinResult{Err: ErrHostAbsent}
	}
	if len(l.conns) >= l.cfg.MaxPlayers {
		l.reject(0, "join", ErrRoomFull)
		return JoinResult{Err: ErrRoomFull}
	}

	id := l.nextID
	l.nextID++
	pos := l.slots.Assign(uint64(id), len(l.conns))

	events, next, err := engine.Apply(l.state, engine.Command{Type: engine.CmdConnect, Participant: id})
	if err != nil {
		l.slots.Release(uint64(id))
		return JoinResult{Err: err}
	}
	l.commit(events, next)

	p := &participant{id: id, name: strings.TrimSpace(msg.Name), outbox: msg.Outbox}
	l.conns[id] = p
	l.welcome(p, pos)
	if l.load != nil {
		// Late joiner: it has to report the in-flight context too.
		l.load.pending[id] = true
	}

	l.rec.ParticipantConnected()
	l.log.Info("participant joined", zap.Uint64("participant", uint64(id)), zap.String("name", p.name), zap.Int("connected", len(l.conns)))
	l.refreshAdvert(nil)
	return JoinResult{ID: id, Position: pos}
}

func (l *Lobby) isHostToken(token string) bool {
	if l.hostToken == "" {
		return !l.state.Attached
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(l.hostToken)) == 1
}

func (l *Lobby) attachHost(msg Join) JoinResult {
	if l.state.Attached {
		l.reject(engine.HostID, "join", ErrHostTaken)
		return JoinResult{Err: ErrHostTaken}
	}
	if name := strings.TrimSpace(msg.Name); name != "" {
		l.hostName = name
	}
	pos := l.slots.Assign(uint64(engine.HostID), len(l.conns))

	events, next, err := engine.Apply(l.state, engine.Command{Type: engine.CmdAttachHost, Connected: l.clientIDs()})
	if err != nil {
		return JoinResult{Err: err}
	}
	l.commit(events, next)
	l.life = LifecycleActive

	p := &participant{id: engine.HostID, name: l.hostName, outbox: msg.Outbox}
	l.conns[engine.HostID] = p
	l.welcome(p, pos)

	l.rec.ParticipantConnected()
	l.log.Info("host attached", zap.String("host", l.hostName))
	l.createAdvert()
	return JoinResult{ID: engine.HostID, Host: true, Position: pos}
}

func (l *Lobby) disconnect(id engine.ParticipantID, reason string) {
	p := l.conns[id]
	if p == nil {
		return
	}
	if id == engine.HostID {
		l.teardown("host " + reason)
		return
	}

	delete(l.conns, id)
	close(p.outbox)
	l.rec.ParticipantDisconnected()
	l.log.Info("participant left", zap.Uint64("participant", uint64(id)), zap.String("reason", reason), zap.Int("connected", len(l.conns)))

	events, next, err := engine.Apply(l.state, engine.Command{Type: engine.CmdDisconnect, Participant: id})
	if err != nil {
		l.log.Warn("disconnect not applied", zap.Uint64("participant", uint64(id)), zap.Error(err))
	} else {
		l.commit(events, next)
	}

	for _, mv := range l.slots.Release(uint64(id)) {
		if q := l.conns[engine.ParticipantID(mv.ID)]; q != nil {
			l.send(q, repositionFrame(mv.Pos))
		}
	}

	if l.load != nil {
		delete(l.load.pending, id)
		l.maybeFinishLoad()
	}
	l.refreshAdvert(nil)
}

// flushDrops disconnects participants whose outbox overflowed while the last
// message was handled. Dropping one can overflow another, hence the loop.
func (l *Lobby) flushDrops() {
	for len(l.drops) > 0 && l.life != LifecycleShuttingDown {
		id := l.drops[0]
		l.drops = l.drops[1:]
		l.log.Warn("dropping slow participant", zap.Uint64("participant", uint64(id)))
		l.disconnect(id, "outbox full")
	}
	l.drops = nil
}

func (l *Lobby) teardown(reason string) {
	if l.life == LifecycleShuttingDown {
		return
	}
	l.life = LifecycleShuttingDown
	l.log.Info("lobby closing", zap.String("reason", reason))

	l.stopTransitions()
	for _, id := range l.participantIDs() {
		p := l.conns[id]
		l.send(p, types.ServerMessage{Type: types.MsgClosed, Error: reason})
		close(p.outbox)
		delete(l.conns, id)
		l.rec.ParticipantDisconnected()
	}
	l.drops = nil

	l.closeErr = l.deleteAdvert()
	if l.closeErr != nil {
		l.log.Warn("teardown incomplete", zap.Error(l.closeErr))
	}

	l.cancel()
	l.rec.LobbyClosed()
}

func (l *Lobby) beginSession(from engine.ParticipantID) {
	if !l.known(from, "begin_session") {
		return
	}
	// The engine re-checks the gate against the roster as it is now.
	if _, ok := l.apply(engine.Command{Type: engine.CmdBeginSession, Sender: from}, "begin_session"); !ok {
		return
	}

	d := l.cfg.Destinations[pickDestination(len(l.cfg.Destinations))]
	status := LoadInvalid
	if d.Minigame != "" {
		l.destination = d
		status = l.loadContext(d.Cutscene, stageCutscene)
	}
	if status != LoadStarted {
		l.log.Warn("session transition rejected", zap.String("cutscene", d.Cutscene), zap.String("minigame", d.Minigame), zap.Stringer("status", status))
		l.rec.TransitionRejected()
		l.destination = Destination{}
		l.apply(engine.Command{Type: engine.CmdAbortSession, Sender: engine.HostID}, "abort_session")
		return
	}

	l.rec.SessionStarted()
	l.log.Info("session started", zap.String("cutscene", d.Cutscene), zap.String("minigame", d.Minigame), zap.Int("clients", len(l.state.Connected)))
	// Forces the advertisement private for the session.
	l.refreshAdvert(nil)
}

func (l *Lobby) toggleVisibility(from engine.ParticipantID) {
	if !l.known(from, "toggle_visibility") {
		return
	}
	prev := l.state.Public
	if _, ok := l.apply(engine.Command{Type: engine.CmdSetVisibility, Sender: from, Public: !prev}, "toggle_visibility"); !ok {
		return
	}
	l.log.Info("visibility changed", zap.Bool("public", !prev))
	l.refreshAdvert(&prev)
}

func (l *Lobby) setName(from engine.ParticipantID, name string) {
	if !l.known(from, "set_name") {
		return
	}
	if from != engine.HostID {
		l.reject(from, "set_name", engine.ErrNotHost)
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = unnamedHost
	}
	l.hostName = name
	l.conns[engine.HostID].name = name
	l.refreshAdvert(nil)
}

func (l *Lobby) returnToLobby(from engine.ParticipantID) {
	if !l.known(from, "return_to_lobby") {
		return
	}
	if _, ok := l.apply(engine.Command{Type: engine.CmdReturnToLobby, Sender: from}, "return_to_lobby"); !ok {
		return
	}
	if status := l.loadContext(l.cfg.LobbyContext, stageLobby); status != LoadStarted {
		l.log.Warn("return transition rejected", zap.String("context", l.cfg.LobbyContext), zap.Stringer("status", status))
		l.rec.TransitionRejected()
		l.apply(engine.Command{Type: engine.CmdOpenVoting, Sender: engine.HostID}, "reopen_voting")
	}
}

// apply runs cmd through the engine and publishes the result. Rejections are
// logged and counted, never surfaced to the participant.
func (l *Lobby) apply(cmd engine.Command, request string) ([]engine.Event, bool) {
	if l.life != LifecycleActive {
		return nil, false
	}
	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		l.reject(cmd.Sender, request, err)
		return nil, false
	}
	l.commit(events, next)
	return events, true
}

// known reports whether from is a live participant of an active lobby.
func (l *Lobby) known(from engine.ParticipantID, request string) bool {
	if l.life != LifecycleActive {
		return false
	}
	if _, ok := l.conns[from]; !ok {
		l.reject(from, request, engine.ErrUnknownParticipant)
		return false
	}
	return true
}

func (l *Lobby) reject(from engine.ParticipantID, request string, err error) {
	l.log.Info("request rejected", zap.String("request", request), zap.Uint64("participant", uint64(from)), zap.Error(err))
	l.rec.RequestRejected(rejectReason(err))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotHost):
		return "not_host"
	case errors.Is(err, engine.ErrHostParticipant):
		return "host_participant"
	case errors.Is(err, engine.ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, engine.ErrGateClosed):
		return "gate_closed"
	case errors.Is(err, engine.ErrAlreadyTransitioning):
		return "already_transitioning"
	case errors.Is(err, engine.ErrNotInSession):
		return "not_in_session"
	case errors.Is(err, engine.ErrVotingClosed):
		return "voting_closed"
	case errors.Is(err, engine.ErrReturnGateClosed):
		return "return_gate_closed"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrHostAbsent):
		return "host_absent"
	case errors.Is(err, ErrHostTaken):
		return "host_taken"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "invalid"
	}
}

func (l *Lobby) participantIDs() []engine.ParticipantID {
	return slices.Sorted(maps.Keys(l.conns))
}

func (l *Lobby) clientIDs() []engine.ParticipantID {
	ids := l.participantIDs()
	return slices.DeleteFunc(ids, func(id engine.ParticipantID) bool { return id == engine.HostID })
}

func (l *Lobby) view() View {
	return View{
		Code:        l.code,
		Lifecycle:   l.life,
		Phase:       l.phase.Get(),
		Roster:      l.roster.Items(),
		Gate:        l.gate.Get(),
		Public:      l.public.Get(),
		ReturnGate:  l.returnGate.Get(),
		Voting:      l.state.Voting,
		Connected:   len(l.conns),
		Clients:     len(l.state.Connected),
		Context:     l.context,
		Loading:     l.load != nil,
		Destination: l.destination,
		HostName:    l.hostName,
		AdvertID:    l.advert.id,
	}
}
