// Package client connects to a lobby over its websocket endpoint and keeps
// local mirrors of the replicated fields: roster, start gate, visibility
// flag, return gate and phase.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/pkg/replica"
	"github.com/fourducktion/party-lobby/pkg/types"
)

var ErrNoWelcome = errors.New("server did not send a welcome frame")

type Option func(*Client)

func WithLogger(log *zap.Logger) Option { return func(c *Client) { c.log = log } }

// WithAutoAck answers every load_context frame with context_loaded as soon as
// it arrives.
func WithAutoAck() Option { return func(c *Client) { c.autoAck = true } }

type Client struct {
	conn    *websocket.Conn
	log     *zap.Logger
	autoAck bool

	You  uint64
	Host bool
	Code string

	Roster     *replica.ListMirror[types.RosterEntry]
	Gate       *replica.ValueMirror[bool]
	Public     *replica.ValueMirror[bool]
	ReturnGate *replica.ValueMirror[bool]
	Phase      *replica.ValueMirror[string]
	Context    *replica.ValueMirror[string]
	Position   *replica.ValueMirror[types.Position]

	events chan types.ServerMessage
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Dial joins the lobby with the given code. base is the server's http(s) or
// ws(s) root. An empty token joins as a client.
func Dial(ctx context.Context, base, code, name, token string, opts ...Option) (*Client, error) {
	u, err := wsURL(base, code, name, token)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("join %s: status %d: %w", code, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("join %s: %w", code, err)
	}

	c := &Client{
		conn:   conn,
		log:    zap.NewNop(),
		Roster: replica.NewListMirror[types.RosterEntry](),
		events: make(chan types.ServerMessage, 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	var first types.ServerMessage
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if first.Type != types.MsgWelcome || first.Snapshot == nil {
		conn.CloseNow()
		return nil, fmt.Errorf("got %q: %w", first.Type, ErrNoWelcome)
	}
	snap := first.Snapshot
	c.You, c.Host, c.Code = snap.You, snap.Host, snap.Code
	c.Gate = replica.NewValueMirror(snap.Gate)
	c.Public = replica.NewValueMirror(snap.Public)
	c.ReturnGate = replica.NewValueMirror(snap.ReturnGate)
	c.Phase = replica.NewValueMirror(snap.Phase)
	c.Context = replica.NewValueMirror(snap.Context)
	c.Position = replica.NewValueMirror(snap.Position)
	_ = c.Roster.Receive(replica.ListEvent[types.RosterEntry]{Op: replica.OpReset, Items: snap.Roster})

	go c.readLoop()
	return c, nil
}

func wsURL(base, code, name, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{"code": {code}}
	if name != "" {
		q.Set("name", name)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events delivers frames that are not replicated state: load_context,
// reposition, error and closed. It is closed when the connection ends.
// Frames are dropped if nobody reads them.
func (c *Client) Events() <-chan types.ServerMessage { return c.events }

// Done is closed when the connection ends; Err then says why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	<-c.done
	return err
}

func (c *Client) SetReady(ctx context.Context, ready bool) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgSetReady, Ready: ready})
}

func (c *Client) BeginSession(ctx context.Context) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgBeginSession})
}

func (c *Client) ToggleVisibility(ctx context.Context) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgToggleVisibility})
}

func (c *Client) SetName(ctx context.Context, name string) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgSetName, Name: name})
}

func (c *Client) ContextLoaded(ctx context.Context, name string) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgContextLoaded, Context: name})
}

func (c *Client) ReturnVote(ctx context.Context) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgReturnVote})
}

func (c *Client) ReturnToLobby(ctx context.Context) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgReturnToLobby})
}

func (c *Client) send(ctx context.Context, m types.ClientMessage) error {
	if err := wsjson.Write(ctx, c.conn, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}

		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		c.apply(msg)
	}
}

func (c *Client) apply(msg types.ServerMessage) {
	switch msg.Type {
	case types.MsgRoster:
		if msg.Roster == nil {
			return
		}
		if err := c.Roster.Receive(listEvent(*msg.Roster)); err != nil {
			// The server re-sends the roster whole when it notices drift.
			c.log.Warn("roster mirror out of step", zap.Error(err))
		}
	case types.MsgGate:
		receiveFlag(c.Gate, msg.Flag)
	case types.MsgVisibility:
		receiveFlag(c.Public, msg.Flag)
	case types.MsgReturnGate:
		receiveFlag(c.ReturnGate, msg.Flag)
	case types.MsgPhase:
		c.Phase.Receive(msg.Phase)
	case types.MsgLoadContext:
		c.Context.Receive(msg.Context)
		if c.autoAck {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := c.ContextLoaded(ctx, msg.Context); err != nil {
				c.log.Warn("context ack failed", zap.String("context", msg.Context), zap.Error(err))
			}
			cancel()
		}
		c.emit(msg)
	case types.MsgReposition:
		if msg.Position != nil {
			c.Position.Receive(*msg.Position)
		}
		c.emit(msg)
	default:
		c.emit(msg)
	}
}

func (c *Client) emit(msg types.ServerMessage) {
	select {
	case c.events <- msg:
	default:
		c.log.Debug("event dropped", zap.String("type", msg.Type))
	}
}

func receiveFlag(m *replica.ValueMirror[bool], flag *bool) {
	if flag != nil {
		m.Receive(*flag)
	}
}

func listEvent(rc types.RosterChange) replica.ListEvent[types.RosterEntry] {
	ev := replica.ListEvent[types.RosterEntry]{Op: replica.Op(rc.Op), Index: rc.Index, Items: rc.Items}
	if rc.Entry != nil {
		ev.Value = *rc.Entry
	}
	if ev.Op == replica.OpReset && ev.Items == nil {
		ev.Items = []types.RosterEntry{}
	}
	return ev
}
