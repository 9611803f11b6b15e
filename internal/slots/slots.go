package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadPosition = errors.New("position must be three numbers")

// Vec3 is a waiting-room position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// UnmarshalText parses "x y z" (commas are accepted as separators too).
func (v *Vec3) UnmarshalText(b []byte) error {
	fields := strings.FieldsFunc(string(b), func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 3 {
		return fmt.Errorf("%q: %w", b, ErrBadPosition)
	}
	var out [3]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("%q: %w", b, ErrBadPosition)
		}
		out[i] = n
	}
	*v = Vec3{X: out[0], Y: out[1], Z: out[2]}
	return nil
}

// Move tells a participant to stand somewhere else.
type Move struct {
	ID  uint64
	Pos Vec3
}

// Registry assigns waiting-room slots and remembers where everyone was put.
// It is owned by the host's processing loop and is not safe for concurrent
// use; serializing Release calls is what keeps re-indexing from double
// shifting.
type Registry struct {
	positions []Vec3
	index     map[uint64]int
	recorded  map[uint64]Vec3
}

// New falls back to a single slot at the origin when no positions are given.
func New(positions []Vec3) *Registry {
	if len(positions) == 0 {
		positions = []Vec3{{}}
	}
	return &Registry{
		positions: append([]Vec3(nil), positions...),
		index:     map[uint64]int{},
		recorded:  map[uint64]Vec3{},
	}
}

// Assign picks slot connectedCount mod slotCount for a newly approved
// participant and records the position.
func (r *Registry) Assign(id uint64, connectedCount int) Vec3 {
	i := connectedCount % len(r.positions)
	r.index[id] = i
	r.recorded[id] = r.positions[i]
	return r.positions[i]
}

// Register overrides the recorded position for id without touching its slot.
func (r *Registry) Register(id uint64, pos Vec3) {
	r.recorded[id] = pos
}

// Position returns the recorded position, or the origin and false when none
// was ever recorded.
func (r *Registry) Position(id uint64) (Vec3, bool) {
	pos, ok := r.recorded[id]
	return pos, ok
}

func (r *Registry) Slot(id uint64) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// Release drops id and shifts every participant above its slot down by one so
// the layout stays packed. The returned moves must be sent to the clients.
func (r *Registry) Release(id uint64) []Move {
	delete(r.recorded, id)
	leaving, ok := r.index[id]
	if !ok {
		return nil
	}
	delete(r.index, id)

	var moves []Move
	for other, i := range r.index {
		if i <= leaving {
			continue
		}
		i--
		r.index[other] = i
		if i < len(r.positions) {
			r.recorded[other] = r.positions[i]
			moves = append(moves, Move{ID: other, Pos: r.positions[i]})
		}
	}
	return moves
}

func (r *Registry) Len() int { return len(r.index) }
