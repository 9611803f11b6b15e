package hub

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fourducktion/party-lobby/internal/lobby"
)

var (
	ErrCodeTaken    = errors.New("lobby code already in use")
	ErrShuttingDown = errors.New("hub is shutting down")
)

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Code      string
	HostToken string
	Reply     chan CreateResult
}

type CreateResult struct {
	Lobby *lobby.Lobby
	Err   error
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveLobby forgets a lobby once it has shut down. A code that has since
// been handed to a live lobby is left alone.
type RemoveLobby struct {
	Code string
}

type CountLobbies struct {
	Reply chan int
}

// ShutdownHub closes every lobby and stops the hub. Reply receives the
// combined teardown errors.
type ShutdownHub struct {
	Ctx   context.Context
	Reply chan error
}

func (CreateLobby) isHubMsg()  {}
func (GetLobby) isHubMsg()     {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

// Hub owns the code to lobby table. Every lobby it creates shares cfg and
// opts; the host token and close hook are added per lobby.
type Hub struct {
	inbox    chan HubMsg
	lobbies  map[string]*lobby.Lobby
	cfg      lobby.Config
	opts     []lobby.Option
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	done     chan struct{}
}

func NewHub(parent context.Context, log *zap.Logger, cfg lobby.Config, opts ...lobby.Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		lobbies:  make(map[string]*lobby.Lobby),
		cfg:      cfg,
		opts:     opts,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

// Send delivers m unless the hub has already stopped.
func (h *Hub) Send(m HubMsg) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.done:
		return false
	}
}

// Create registers a new lobby under code.
func (h *Hub) Create(code, hostToken string) (*lobby.Lobby, error) {
	reply := make(chan CreateResult, 1)
	if !h.Send(CreateLobby{Code: code, HostToken: hostToken, Reply: reply}) {
		return nil, ErrShuttingDown
	}
	select {
	case res := <-reply:
		return res.Lobby, res.Err
	case <-h.done:
		return nil, ErrShuttingDown
	}
}

// Get returns the lobby for code, or nil.
func (h *Hub) Get(code string) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	if !h.Send(GetLobby{Code: code, Reply: reply}) {
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-h.done:
		return nil
	}
}

func (h *Hub) Count() int {
	reply := make(chan int, 1)
	if !h.Send(CountLobbies{Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return 0
	}
}

// Shutdown closes every lobby, waiting at most until ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	if !h.Send(ShutdownHub{Ctx: ctx, Reply: reply}) {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-h.done:
		return nil
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			// Lobbies are children of h.ctx and tear themselves down.
			close(h.stopping)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Code]; lb != nil && !closed(lb) {
					msg.Reply <- CreateResult{Err: ErrCodeTaken}
					break
				}
				lb := h.newLobby(msg.Code, msg.HostToken)
				h.lobbies[msg.Code] = lb
				h.log.Info("lobby created", zap.String("lobby", msg.Code))
				msg.Reply <- CreateResult{Lobby: lb}

			case GetLobby:
				lb := h.lobbies[msg.Code]
				if lb != nil && closed(lb) {
					lb = nil
				}
				msg.Reply <- lb // May be nil

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil && closed(lb) {
					delete(h.lobbies, msg.Code)
					h.log.Info("lobby removed", zap.String("lobby", msg.Code))
				}

			case CountLobbies:
				n := 0
				for _, lb := range h.lobbies {
					if !closed(lb) {
						n++
					}
				}
				msg.Reply <- n

			case ShutdownHub:
				err := h.shutdown(msg.Ctx)
				h.cancel()
				msg.Reply <- err
				return
			}
		}
	}
}

func (h *Hub) newLobby(code, hostToken string) *lobby.Lobby {
	opts := append([]lobby.Option(nil), h.opts...)
	opts = append(opts,
		lobby.WithHostToken(hostToken),
		lobby.OnClose(func(code string) {
			select {
			case h.inbox <- RemoveLobby{Code: code}:
			case <-h.stopping:
			}
		}),
	)
	return lobby.NewLobby(h.ctx, code, h.cfg, opts...)
}

// shutdown closes the lobbies concurrently. The hub stops reading its inbox
// here, so close hooks are released through stopping.
func (h *Hub) shutdown(ctx context.Context) error {
	close(h.stopping)

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for code, lb := range h.lobbies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lb.Close(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				h.log.Warn("lobby close failed", zap.String("lobby", code), zap.Error(err))
			}
		}()
	}
	wg.Wait()
	clear(h.lobbies)
	return errs
}

func closed(lb *lobby.Lobby) bool {
	select {
	case <-lb.Done():
		return true
	default:
		return false
	}
}
