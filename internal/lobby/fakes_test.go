package lobby

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/fourducktion/party-lobby/internal/directory"
)

// fakeDirectory is an in-memory directory.Client with injectable failures.
type fakeDirectory struct {
	mu      sync.Mutex
	nextID  int
	records map[string]directory.Advertisement

	creates    int
	updates    []directory.UpdateOptions
	deletes    []string
	heartbeats int

	createErr    error
	updateErr    error
	heartbeatErr error
	deleteErr    error

	createGate chan struct{} // when set, Create waits for it to close
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{records: map[string]directory.Advertisement{}}
}

func (f *fakeDirectory) Create(ctx context.Context, name string, maxPlayers int, opts directory.CreateOptions) (directory.Advertisement, error) {
	f.mu.Lock()
	gate := f.createGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return directory.Advertisement{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return directory.Advertisement{}, f.createErr
	}
	f.nextID++
	ad := directory.Advertisement{
		ID:         fmt.Sprintf("ad-%d", f.nextID),
		Name:       name,
		MaxPlayers: maxPlayers,
		Private:    opts.Private,
		Data:       maps.Clone(opts.Data),
	}
	f.records[ad.ID] = ad
	return ad, nil
}

func (f *fakeDirectory) Update(_ context.Context, id string, opts directory.UpdateOptions) (directory.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, opts)
	if f.updateErr != nil {
		return directory.Advertisement{}, f.updateErr
	}
	ad, ok := f.records[id]
	if !ok {
		return directory.Advertisement{}, directory.ErrNotFound
	}
	if opts.Name != nil {
		ad.Name = *opts.Name
	}
	if opts.Private != nil {
		ad.Private = *opts.Private
	}
	ad.Data = maps.Clone(ad.Data)
	maps.Copy(ad.Data, opts.Data)
	f.records[id] = ad
	return ad, nil
}

func (f *fakeDirectory) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.records[id]; !ok {
		return directory.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeDirectory) Heartbeat(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	if f.heartbeatErr != nil {
		return f.heartbeatErr
	}
	if _, ok := f.records[id]; !ok {
		return directory.ErrNotFound
	}
	return nil
}

func (f *fakeDirectory) Query(context.Context, directory.QueryOptions) ([]directory.Advertisement, error) {
	return nil, nil
}

func (f *fakeDirectory) set(fn func(f *fakeDirectory)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeDirectory) record(id string) (directory.Advertisement, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ad, ok := f.records[id]
	return ad, ok
}

func (f *fakeDirectory) updateLog() []directory.UpdateOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]directory.UpdateOptions(nil), f.updates...)
}

func (f *fakeDirectory) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeDirectory) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// fakeRecorder counts Recorder calls by name.
type fakeRecorder struct {
	mu     sync.Mutex
	counts map[string]int

	onDisconnect func() // when set, runs after each ParticipantDisconnected
}

func newFakeRecorder() *fakeRecorder { return &fakeRecorder{counts: map[string]int{}} }

func (r *fakeRecorder) inc(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
}

func (r *fakeRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func (r *fakeRecorder) LobbyOpened()                  { r.inc("lobby_opened") }
func (r *fakeRecorder) LobbyClosed()                  { r.inc("lobby_closed") }
func (r *fakeRecorder) ParticipantConnected()         { r.inc("connected") }
func (r *fakeRecorder) SessionStarted()               { r.inc("session_started") }
func (r *fakeRecorder) TransitionRejected()           { r.inc("transition_rejected") }
func (r *fakeRecorder) RequestRejected(reason string) { r.inc("rejected:" + reason) }
func (r *fakeRecorder) AdvertOp(op, result string)    { r.inc("advert:" + op + ":" + result) }
func (r *fakeRecorder) AdvertLost()                   { r.inc("advert_lost") }

func (r *fakeRecorder) ParticipantDisconnected() {
	r.inc("disconnected")
	if r.onDisconnect != nil {
		r.onDisconnect()
	}
}
