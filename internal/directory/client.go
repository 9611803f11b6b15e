package directory

import "context"

// Client is what a session host and a browser need from a directory.
type Client interface {
	Create(ctx context.Context, name string, maxPlayers int, opts CreateOptions) (Advertisement, error)
	Update(ctx context.Context, id string, opts UpdateOptions) (Advertisement, error)
	Delete(ctx context.Context, id string) error
	Heartbeat(ctx context.Context, id string) error
	Query(ctx context.Context, opts QueryOptions) ([]Advertisement, error)
}

var (
	_ Client = (*Registry)(nil)
	_ Client = (*HTTPClient)(nil)
)
