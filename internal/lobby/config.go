package lobby

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fourducktion/party-lobby/internal/slots"
)

var ErrBadDestination = errors.New(`destination must be "cutscene:minigame"`)

// Destination is where a session goes: a cutscene context first, then the
// minigame it introduces. The minigame is recorded at session start because
// the cutscene stage cannot work it out for itself.
type Destination struct {
	Cutscene string `json:"cutscene"`
	Minigame string `json:"minigame"`
}

func (d *Destination) UnmarshalText(b []byte) error {
	cutscene, minigame, ok := strings.Cut(strings.TrimSpace(string(b)), ":")
	if !ok {
		return fmt.Errorf("%q: %w", b, ErrBadDestination)
	}
	*d = Destination{Cutscene: strings.TrimSpace(cutscene), Minigame: strings.TrimSpace(minigame)}
	return nil
}

type Config struct {
	MaxPlayers        int           `env:"LOBBY_MAX_PLAYERS" envDefault:"4"`
	HeartbeatInterval time.Duration `env:"LOBBY_HEARTBEAT_INTERVAL" envDefault:"15s"`
	RefreshInterval   time.Duration `env:"LOBBY_REFRESH_INTERVAL" envDefault:"30s"`
	CutsceneDuration  time.Duration `env:"LOBBY_CUTSCENE_DURATION" envDefault:"5s"`
	LoadTimeout       time.Duration `env:"LOBBY_LOAD_TIMEOUT" envDefault:"30s"`
	DirectoryTimeout  time.Duration `env:"LOBBY_DIRECTORY_TIMEOUT" envDefault:"10s"`
	LobbyContext      string        `env:"LOBBY_CONTEXT" envDefault:"LobbyScene"`
	Destinations      []Destination `env:"LOBBY_DESTINATIONS" envDefault:"Planet_A:Minigame_A,Planet_B:Minigame_B,Planet_C:Minigame_C"`
	SpawnPositions    []slots.Vec3  `env:"LOBBY_SPAWN_POSITIONS" envSeparator:";" envDefault:"-3 0 0;-1 0 0;1 0 0;3 0 0"`
	OutboxSize        int           `env:"LOBBY_OUTBOX_SIZE" envDefault:"32"`
}

// DefaultConfig matches the envDefault tags above.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:        4,
		HeartbeatInterval: 15 * time.Second,
		RefreshInterval:   30 * time.Second,
		CutsceneDuration:  5 * time.Second,
		LoadTimeout:       30 * time.Second,
		DirectoryTimeout:  10 * time.Second,
		LobbyContext:      "LobbyScene",
		Destinations: []Destination{
			{Cutscene: "Planet_A", Minigame: "Minigame_A"},
			{Cutscene: "Planet_B", Minigame: "Minigame_B"},
			{Cutscene: "Planet_C", Minigame: "Minigame_C"},
		},
		SpawnPositions: []slots.Vec3{{X: -3}, {X: -1}, {X: 1}, {X: 3}},
		OutboxSize:     32,
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = d.MaxPlayers
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = d.RefreshInterval
	}
	if c.CutsceneDuration <= 0 {
		c.CutsceneDuration = d.CutsceneDuration
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.DirectoryTimeout <= 0 {
		c.DirectoryTimeout = d.DirectoryTimeout
	}
	if c.LobbyContext == "" {
		c.LobbyContext = d.LobbyContext
	}
	if len(c.Destinations) == 0 {
		c.Destinations = d.Destinations
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	return c
}
