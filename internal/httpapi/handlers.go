package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	mrand "math/rand/v2"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/directory"
	"github.com/fourducktion/party-lobby/internal/hub"
	"github.com/fourducktion/party-lobby/pkg/types"
)

const codeAttempts = 8

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateLobby reserves a fresh join code and hands back the host token the
// host must present on its websocket join.
func CreateLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := uuid.NewString()
		for range codeAttempts {
			code, err := GenerateCode()
			if err != nil {
				log.Error("generate lobby code", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}

			_, err = h.Create(code, token)
			switch {
			case err == nil:
				writeJSON(w, http.StatusCreated, types.LobbyCreated{Code: code, HostToken: token})
				return
			case errors.Is(err, hub.ErrCodeTaken):
				log.Debug("collision on code, regenerating", zap.String("code", code))
				continue
			default:
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeError(w, http.StatusServiceUnavailable, "no free lobby code")
	}
}

// ListLobbies returns the public lobbies the directory knows about.
func ListLobbies(dir directory.Client, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := directory.QueryOptions{MinAvailableSlots: 1}
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "bad limit")
				return
			}
			opts.Limit = n
		}

		adverts, err := dir.Query(r.Context(), opts)
		if err != nil {
			log.Error("query directory", zap.Error(err))
			writeError(w, http.StatusBadGateway, "directory unavailable")
			return
		}

		writeJSON(w, http.StatusOK, summarize(adverts))
	}
}

// QuickMatch picks one joinable public lobby at random.
func QuickMatch(dir directory.Client, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adverts, err := dir.Query(r.Context(), directory.QueryOptions{MinAvailableSlots: 1})
		if err != nil {
			log.Error("query directory", zap.Error(err))
			writeError(w, http.StatusBadGateway, "directory unavailable")
			return
		}
		open := summarize(adverts)
		if len(open) == 0 {
			writeError(w, http.StatusNotFound, "no open lobby")
			return
		}
		pick := open[mrand.IntN(len(open))]
		log.Debug("quick match", zap.String("code", pick.Code), zap.Int("candidates", len(open)))
		writeJSON(w, http.StatusOK, pick)
	}
}

// summarize drops adverts that carry no join code.
func summarize(adverts []directory.Advertisement) []types.LobbySummary {
	out := make([]types.LobbySummary, 0, len(adverts))
	for _, a := range adverts {
		code, ok := a.Value(directory.KeyJoinCode)
		if !ok {
			continue
		}
		host, _ := a.Value(directory.KeyHostName)
		out = append(out, types.LobbySummary{
			Code:           code,
			Name:           a.Name,
			HostName:       host,
			CurrentPlayers: a.CurrentPlayers(),
			MaxPlayers:     a.MaxPlayers,
		})
	}
	return out
}

func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"lobbies": h.Count()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
