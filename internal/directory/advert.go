// Package directory keeps discoverable session advertisements: a host creates
// one, keeps it alive with heartbeats, updates its player counts and privacy,
// and deletes it on teardown. Browsers query the public ones.
package directory

import (
	"errors"
	"maps"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("advertisement not found")
var ErrInvalidRecord = errors.New("invalid advertisement")

// Data keys a session host publishes.
const (
	KeyJoinCode       = "JoinCode"
	KeyHostName       = "HostName"
	KeyCurrentPlayers = "CurrentPlayers"
	KeyMaxPlayers     = "MaxPlayers"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type Field struct {
	Value      string     `json:"value"`
	Visibility Visibility `json:"visibility"`
}

func Public(value string) Field { return Field{Value: value, Visibility: VisibilityPublic} }

type Advertisement struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	MaxPlayers    int              `json:"max_players"`
	Private       bool             `json:"private"`
	Data          map[string]Field `json:"data,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
}

// CurrentPlayers reads the published player count; a missing or malformed
// value counts as zero.
func (a Advertisement) CurrentPlayers() int {
	f, ok := a.Data[KeyCurrentPlayers]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(f.Value)
	if err != nil {
		return 0
	}
	return n
}

func (a Advertisement) AvailableSlots() int {
	return a.MaxPlayers - a.CurrentPlayers()
}

// Value returns a data field's value regardless of its visibility.
func (a Advertisement) Value(key string) (string, bool) {
	f, ok := a.Data[key]
	return f.Value, ok
}

// PublicView strips data fields that are not public.
func (a Advertisement) PublicView() Advertisement {
	out := a
	out.Data = make(map[string]Field, len(a.Data))
	for k, f := range a.Data {
		if f.Visibility == VisibilityPublic {
			out.Data[k] = f
		}
	}
	return out
}

func (a Advertisement) clone() Advertisement {
	out := a
	out.Data = maps.Clone(a.Data)
	return out
}

type CreateOptions struct {
	Private bool             `json:"private"`
	Data    map[string]Field `json:"data,omitempty"`
}

// UpdateOptions carries only what changed. Nil pointers and absent keys are
// left alone.
type UpdateOptions struct {
	Name    *string          `json:"name,omitempty"`
	Private *bool            `json:"private,omitempty"`
	Data    map[string]Field `json:"data,omitempty"`
}

func (o UpdateOptions) Empty() bool {
	return o.Name == nil && o.Private == nil && len(o.Data) == 0
}

type QueryOptions struct {
	Limit             int `json:"limit"`
	MinAvailableSlots int `json:"min_available_slots"`
}

const DefaultQueryLimit = 25
