// Package types is the JSON wire protocol between a participant and the lobby
// server's websocket endpoint.
package types

// Client -> Server
//
// set_ready:         { ready: bool }
// begin_session:     {}                  host only
// toggle_visibility: {}                  host only
// set_name:          { name: string }    host only
// context_loaded:    { context: string }
// return_vote:       {}
// return_to_lobby:   {}                  host only
const (
	MsgSetReady         = "set_ready"
	MsgBeginSession     = "begin_session"
	MsgToggleVisibility = "toggle_visibility"
	MsgSetName          = "set_name"
	MsgContextLoaded    = "context_loaded"
	MsgReturnVote       = "return_vote"
	MsgReturnToLobby    = "return_to_lobby"
)

type ClientMessage struct {
	Type    string `json:"type"`
	Ready   bool   `json:"ready,omitempty"`
	Name    string `json:"name,omitempty"`
	Context string `json:"context,omitempty"`
}

// Server -> Client
//
// welcome:      { snapshot }               first frame after joining
// roster:       { roster: {op, index, entry, items} }
// gate:         { flag }
// visibility:   { flag }
// return_gate:  { flag }
// phase:        { phase }
// load_context: { context }                answer with context_loaded
// reposition:   { position }
// error:        { error }
// closed:       { error }                  lobby torn down; no more frames
//
// Each replicated field travels in its own frame. Frames for different
// fields carry no ordering promise relative to each other.
const (
	MsgWelcome     = "welcome"
	MsgRoster      = "roster"
	MsgGate        = "gate"
	MsgVisibility  = "visibility"
	MsgReturnGate  = "return_gate"
	MsgPhase       = "phase"
	MsgLoadContext = "load_context"
	MsgReposition  = "reposition"
	MsgError       = "error"
	MsgClosed      = "closed"
)

type ServerMessage struct {
	Type     string        `json:"type"`
	Snapshot *Snapshot     `json:"snapshot,omitempty"`
	Roster   *RosterChange `json:"roster,omitempty"`
	Flag     *bool         `json:"flag,omitempty"`
	Phase    string        `json:"phase,omitempty"`
	Context  string        `json:"context,omitempty"`
	Position *Position     `json:"position,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Bool is a helper for the Flag field.
func Bool(b bool) *bool { return &b }
