package slots

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fourSlots = []Vec3{{X: 0}, {X: 1}, {X: 2}, {X: 3}}

func sortedMoves(moves []Move) []Move {
	slices.SortFunc(moves, func(a, b Move) int { return int(a.ID) - int(b.ID) })
	return moves
}

func TestAssign_WrapsAroundSlots(t *testing.T) {
	r := New(fourSlots[:2])

	assert.Equal(t, Vec3{X: 0}, r.Assign(0, 0))
	assert.Equal(t, Vec3{X: 1}, r.Assign(1, 1))
	assert.Equal(t, Vec3{X: 0}, r.Assign(2, 2))

	i, ok := r.Slot(2)
	require.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestNew_DefaultsToOrigin(t *testing.T) {
	r := New(nil)
	assert.Equal(t, Vec3{}, r.Assign(5, 3))
}

func TestPosition_UnknownFallsBackToOrigin(t *testing.T) {
	r := New(fourSlots)
	pos, ok := r.Position(99)
	assert.False(t, ok)
	assert.Equal(t, Vec3{}, pos)

	r.Register(99, Vec3{Y: 4})
	pos, ok = r.Position(99)
	assert.True(t, ok)
	assert.Equal(t, Vec3{Y: 4}, pos)
}

func TestRelease_ShiftsHigherSlotsDown(t *testing.T) {
	r := New(fourSlots)
	for id := uint64(0); id < 4; id++ {
		r.Assign(id, int(id))
	}

	moves := sortedMoves(r.Release(1))

	assert.Equal(t, []Move{{ID: 2, Pos: Vec3{X: 1}}, {ID: 3, Pos: Vec3{X: 2}}}, moves)
	pos, _ := r.Position(3)
	assert.Equal(t, Vec3{X: 2}, pos)
	_, ok := r.Position(1)
	assert.False(t, ok)
}

func TestRelease_RapidSequentialDisconnectsDoNotDoubleShift(t *testing.T) {
	r := New(fourSlots)
	for id := uint64(0); id < 4; id++ {
		r.Assign(id, int(id))
	}

	r.Release(1)
	moves := sortedMoves(r.Release(2))

	assert.Equal(t, []Move{{ID: 3, Pos: Vec3{X: 1}}}, moves)
	for id, want := range map[uint64]int{0: 0, 3: 1} {
		got, ok := r.Slot(id)
		require.True(t, ok)
		assert.Equal(t, want, got, "participant %d", id)
	}
	assert.Equal(t, 2, r.Len())

	// A repeated release of the same id is a no-op.
	assert.Empty(t, r.Release(2))
}

func TestRelease_UnknownParticipant(t *testing.T) {
	r := New(fourSlots)
	r.Assign(0, 0)
	assert.Nil(t, r.Release(42))
	assert.Equal(t, 1, r.Len())
}

func TestVec3_UnmarshalText(t *testing.T) {
	var v Vec3
	require.NoError(t, v.UnmarshalText([]byte("1.5 0 -2")))
	assert.Equal(t, Vec3{X: 1.5, Z: -2}, v)

	require.NoError(t, v.UnmarshalText([]byte("3,4,5")))
	assert.Equal(t, Vec3{X: 3, Y: 4, Z: 5}, v)

	assert.ErrorIs(t, v.UnmarshalText([]byte("1 2")), ErrBadPosition)
	assert.ErrorIs(t, v.UnmarshalText([]byte("a b c")), ErrBadPosition)
}
