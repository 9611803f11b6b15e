package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/engine"
	"github.com/fourducktion/party-lobby/internal/hub"
	"github.com/fourducktion/party-lobby/internal/lobby"
	"github.com/fourducktion/party-lobby/pkg/types"
)

type Options struct {
	OutboxSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	OriginPatterns []string
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	return o
}

// Handler upgrades GET /ws?code=...&name=...&token=... into a lobby
// connection. Connection approval runs before the upgrade, so a rejected join
// is an ordinary HTTP error.
func Handler(h *hub.Hub, log *zap.Logger, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		lb := h.Get(code)
		if lb == nil {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}

		out := make(chan types.ServerMessage, opts.OutboxSize)
		reply := make(chan lobby.JoinResult, 1)
		if !lb.Send(lobby.Join{Name: q.Get("name"), Token: q.Get("token"), Outbox: out, Reply: reply}) {
			http.Error(w, "lobby closed", http.StatusGone)
			return
		}
		var res lobby.JoinResult
		select {
		case res = <-reply:
		case <-lb.Done():
			http.Error(w, "lobby closed", http.StatusGone)
			return
		}
		if res.Err != nil {
			http.Error(w, res.Err.Error(), joinStatus(res.Err))
			return
		}

		log := log.With(zap.String("lobby", code), zap.Uint64("participant", uint64(res.ID)))
		leave := func() { lb.Send(lobby.Leave{ID: res.ID, Outbox: out}) }

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			log.Warn("websocket accept failed", zap.Error(err))
			leave()
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writeLoop(ctx, conn, out, opts, log)
		}()
		go pingLoop(ctx, conn, opts.PingInterval)

		readLoop(ctx, conn, lb, res.ID, log)
		leave()
		<-writerDone
	}
}

// writeLoop forwards frames until the lobby closes the outbox, then closes
// the connection.
func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan types.ServerMessage, opts Options, log *zap.Logger) {
	status, reason := websocket.StatusNormalClosure, "bye"
	for msg := range out {
		if msg.Type == types.MsgClosed {
			status, reason = websocket.StatusGoingAway, msg.Error
		}
		wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
		err := wsjson.Write(wctx, conn, msg)
		cancel()
		if err != nil {
			log.Debug("websocket write failed", zap.Error(err))
			conn.CloseNow()
			// Drain until the lobby processes our Leave.
			for range out {
			}
			return
		}
	}
	_ = conn.Close(status, reason)
}

func pingLoop(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, every)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, lb *lobby.Lobby, id engine.ParticipantID, log *zap.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug("websocket read ended", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			writeError(ctx, conn, "bad json")
			continue
		}

		m, ok := toLobbyMsg(id, cm)
		if !ok {
			writeError(ctx, conn, "unknown type")
			continue
		}
		if !lb.Send(m) {
			return
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = wsjson.Write(wctx, conn, types.ServerMessage{Type: types.MsgError, Error: msg})
}

func toLobbyMsg(id engine.ParticipantID, m types.ClientMessage) (lobby.Msg, bool) {
	switch m.Type {
	case types.MsgSetReady:
		return lobby.SetReady{From: id, Ready: m.Ready}, true
	case types.MsgBeginSession:
		return lobby.BeginSession{From: id}, true
	case types.MsgToggleVisibility:
		return lobby.ToggleVisibility{From: id}, true
	case types.MsgSetName:
		return lobby.SetName{From: id, Name: m.Name}, true
	case types.MsgContextLoaded:
		return lobby.ContextLoaded{From: id, Context: m.Context}, true
	case types.MsgReturnVote:
		return lobby.ReturnVote{From: id}, true
	case types.MsgReturnToLobby:
		return lobby.ReturnToLobby{From: id}, true
	default:
		return nil, false
	}
}

func joinStatus(err error) int {
	switch {
	case errors.Is(err, lobby.ErrRoomFull), errors.Is(err, lobby.ErrHostTaken):
		return http.StatusConflict
	case errors.Is(err, lobby.ErrHostAbsent):
		return http.StatusServiceUnavailable
	case errors.Is(err, lobby.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusForbidden
	}
}
