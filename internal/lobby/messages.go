package lobby

import (
	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/engine"
	"github.com/fourducktion/party-lobby/internal/slots"
	"github.com/fourducktion/party-lobby/pkg/types"
)

type Msg interface{ isLobbyMsg() }

// Join asks for connection approval. A Token equal to the lobby's host token
// attaches the host; anything else joins as a client.
type Join struct {
	Name   string
	Token  string
	Outbox chan types.ServerMessage // where this participant wants its frames
	Reply  chan JoinResult
}

type JoinResult struct {
	ID       engine.ParticipantID
	Host     bool
	Position slots.Vec3
	Err      error
}

// Leave reports a closed connection. Outbox must be the one given in Join;
// a Leave for a connection that was already replaced or dropped is ignored.
type Leave struct {
	ID     engine.ParticipantID
	Outbox chan types.ServerMessage
}

type SetReady struct {
	From  engine.ParticipantID
	Ready bool
}

type BeginSession struct{ From engine.ParticipantID }

type ToggleVisibility struct{ From engine.ParticipantID }

type SetName struct {
	From engine.ParticipantID
	Name string
}

type ContextLoaded struct {
	From    engine.ParticipantID
	Context string
}

type ReturnVote struct{ From engine.ParticipantID }

type ReturnToLobby struct{ From engine.ParticipantID }

// SpawnPosition asks for a participant's recorded waiting-room position.
type SpawnPosition struct {
	ID    engine.ParticipantID
	Reply chan SpawnResult
}

type SpawnResult struct {
	Pos      slots.Vec3
	Recorded bool
}

type RegisterSpawn struct {
	ID  engine.ParticipantID
	Pos slots.Vec3
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Join) isLobbyMsg()             {}
func (Leave) isLobbyMsg()            {}
func (SetReady) isLobbyMsg()         {}
func (BeginSession) isLobbyMsg()     {}
func (ToggleVisibility) isLobbyMsg() {}
func (SetName) isLobbyMsg()          {}
func (ContextLoaded) isLobbyMsg()    {}
func (ReturnVote) isLobbyMsg()       {}
func (ReturnToLobby) isLobbyMsg()    {}
func (SpawnPosition) isLobbyMsg()    {}
func (RegisterSpawn) isLobbyMsg()    {}
func (GetState) isLobbyMsg()         {}
func (Shutdown) isLobbyMsg()         {}

// Internal messages posted back by timers and directory calls.

type loadTimedOut struct{ gen int }

type cutsceneElapsed struct{ gen int }

type advertCreated struct {
	ad  directory.Advertisement
	err error
}

type advertUpdated struct {
	req    advertRequest
	err    error
	revert *bool // visibility to restore if this update fails
}

type advertHeartbeat struct {
	id  string
	err error
}

func (loadTimedOut) isLobbyMsg()    {}
func (cutsceneElapsed) isLobbyMsg() {}
func (advertUpdated) isLobbyMsg()   {}
func (advertHeartbeat) isLobbyMsg() {}

// View is a race-free copy of the coordinator's state.
type View struct {
	Code        string
	Lifecycle   Lifecycle
	Phase       engine.Phase
	Roster      []engine.Entry
	Gate        bool
	Public      bool
	ReturnGate  bool
	Voting      bool
	Connected   int // host included
	Clients     int
	Context     string
	Loading     bool
	Destination Destination
	HostName    string
	AdvertID    string
}
