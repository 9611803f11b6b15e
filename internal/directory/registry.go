package directory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTTL = 30 * time.Second

// Registry is the directory service itself. Records that miss heartbeats for
// longer than the TTL expire.
type Registry struct {
	store Store
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time

	// Serializes read-modify-write cycles against the store.
	mu sync.Mutex
}

type RegistryOption func(*Registry)

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func NewRegistry(store Store, log *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		store: store,
		ttl:   DefaultTTL,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Create(ctx context.Context, name string, maxPlayers int, opts CreateOptions) (Advertisement, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Advertisement{}, fmt.Errorf("name is required: %w", ErrInvalidRecord)
	}
	if maxPlayers <= 0 {
		return Advertisement{}, fmt.Errorf("max players %d: %w", maxPlayers, ErrInvalidRecord)
	}

	now := r.now()
	a := Advertisement{
		ID:            uuid.NewString(),
		Name:          name,
		MaxPlayers:    maxPlayers,
		Private:       opts.Private,
		Data:          maps.Clone(opts.Data),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastHeartbeat: now,
	}
	if a.Data == nil {
		a.Data = map[string]Field{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Put(ctx, a); err != nil {
		return Advertisement{}, err
	}
	r.log.Info("advertisement created", zap.String("advert", a.ID), zap.String("name", a.Name), zap.Bool("private", a.Private))
	return a, nil
}

func (r *Registry) Update(ctx context.Context, id string, opts UpdateOptions) (Advertisement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.live(ctx, id)
	if err != nil {
		return Advertisement{}, err
	}

	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return Advertisement{}, fmt.Errorf("name is required: %w", ErrInvalidRecord)
		}
		a.Name = name
	}
	if opts.Private != nil {
		a.Private = *opts.Private
	}
	if a.Data == nil {
		a.Data = map[string]Field{}
	}
	for k, f := range opts.Data {
		if f.Visibility == "" {
			f.Visibility = VisibilityPublic
		}
		a.Data[k] = f
	}
	a.UpdatedAt = r.now()

	if err := r.store.Put(ctx, a); err != nil {
		return Advertisement{}, err
	}
	return a, nil
}

// Delete removes a record. Deleting an unknown or expired id reports
// ErrNotFound.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.log.Info("advertisement deleted", zap.String("advert", id))
	return nil
}

func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.live(ctx, id)
	if err != nil {
		return err
	}
	a.LastHeartbeat = r.now()
	return r.store.Put(ctx, a)
}

// Query lists public records with enough free slots, most free slots first,
// then oldest first. Only public data fields are returned.
func (r *Registry) Query(ctx context.Context, opts QueryOptions) ([]Advertisement, error) {
	if _, err := r.Sweep(ctx); err != nil {
		return nil, err
	}

	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Advertisement, 0, len(all))
	for _, a := range all {
		if a.Private || a.AvailableSlots() < opts.MinAvailableSlots {
			continue
		}
		out = append(out, a.PublicView())
	}

	slices.SortStableFunc(out, func(a, b Advertisement) int {
		if c := cmp.Compare(b.AvailableSlots(), a.AvailableSlots()); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Sweep expires records that missed their heartbeats.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.store.DeleteStale(ctx, r.now().Add(-r.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("advertisements expired", zap.Int("count", n))
	}
	return n, nil
}

// live loads a record and expires it on the spot if its TTL has passed.
func (r *Registry) live(ctx context.Context, id string) (Advertisement, error) {
	a, err := r.store.Get(ctx, id)
	if err != nil {
		return Advertisement{}, err
	}
	if r.now().Sub(a.LastHeartbeat) > r.ttl {
		if err := r.store.Delete(ctx, id); err != nil {
			r.log.Warn("expire advertisement", zap.String("advert", id), zap.Error(err))
		}
		return Advertisement{}, fmt.Errorf("%s expired: %w", id, ErrNotFound)
	}
	return a, nil
}

// RunSweeper expires stale records every interval until ctx is done. A
// non-positive interval sweeps at half the TTL.
func (r *Registry) RunSweeper(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = r.ttl / 2
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}
