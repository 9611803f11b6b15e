package types

type RosterEntry struct {
	ID    uint64 `json:"id"`
	Ready bool   `json:"ready"`
}

// RosterChange mirrors one mutation of the readiness roster. Op is one of
// "append", "remove", "set", "reset"; Items is only present for "reset".
type RosterChange struct {
	Op    string        `json:"op"`
	Index int           `json:"index"`
	Entry *RosterEntry  `json:"entry,omitempty"`
	Items []RosterEntry `json:"items,omitempty"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Snapshot is the full replicated state handed to a participant on join.
type Snapshot struct {
	You        uint64        `json:"you"`
	Host       bool          `json:"host"`
	Code       string        `json:"code"`
	Phase      string        `json:"phase"`
	Roster     []RosterEntry `json:"roster"`
	Gate       bool          `json:"gate"`
	Public     bool          `json:"public"`
	ReturnGate bool          `json:"return_gate"`
	Context    string        `json:"context"`
	Position   Position      `json:"position"`
}

// LobbyCreated is the response to POST /lobbies.
type LobbyCreated struct {
	Code      string `json:"code"`
	HostToken string `json:"host_token"`
}

// LobbySummary is one row of GET /lobbies.
type LobbySummary struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	HostName       string `json:"host_name"`
	CurrentPlayers int    `json:"current_players"`
	MaxPlayers     int    `json:"max_players"`
}
