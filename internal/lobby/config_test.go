package lobby

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourducktion/party-lobby/internal/platform/config"
	"github.com/fourducktion/party-lobby/internal/slots"
)

func TestConfig_EnvDefaultsMatchDefaultConfig(t *testing.T) {
	var cfg Config
	require.NoError(t, config.ParseEnv(&cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("LOBBY_MAX_PLAYERS", "6")
	t.Setenv("LOBBY_CUTSCENE_DURATION", "2500ms")
	t.Setenv("LOBBY_DESTINATIONS", "Moon:Race, Mars:Maze")
	t.Setenv("LOBBY_SPAWN_POSITIONS", "0 0 0;1.5,0,-2")

	var cfg Config
	require.NoError(t, config.ParseEnv(&cfg))
	assert.Equal(t, 6, cfg.MaxPlayers)
	assert.Equal(t, 2500*time.Millisecond, cfg.CutsceneDuration)
	assert.Equal(t, []Destination{{Cutscene: "Moon", Minigame: "Race"}, {Cutscene: "Mars", Minigame: "Maze"}}, cfg.Destinations)
	assert.Equal(t, []slots.Vec3{{}, {X: 1.5, Z: -2}}, cfg.SpawnPositions)
}

func TestConfig_BadDestination(t *testing.T) {
	t.Setenv("LOBBY_DESTINATIONS", "NoMinigameHere")

	var cfg Config
	assert.ErrorContains(t, config.ParseEnv(&cfg), "cutscene:minigame")
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{MaxPlayers: 8}.withDefaults()
	assert.Equal(t, 8, cfg.MaxPlayers)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "LobbyScene", cfg.LobbyContext)
	assert.Len(t, cfg.Destinations, 3)
	assert.Empty(t, cfg.SpawnPositions, "slots.New supplies the origin")
}
