package game

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseStateEquality(t *testing.T) {
	a := BaseState{0x0f, 0xa0}
	b := a.Clone()

	require.True(t, a.Equal(b))

	b[1] = 0xa1
	require.False(t, a.Equal(b))

	mask := BaseState{0xff, 0xf0}
	require.True(t, MaskedEqual(a, b, mask),
		"bits outside the mask are ignored")
}

func TestBaseStateAssign(t *testing.T) {
	a := BaseState{1, 2}
	b := BaseState{7, 8}

	a.Assign(b)
	require.True(t, a.Equal(b))

	require.Panics(t, func() { a.Assign(BaseState{1}) },
		"assigning across sizes is a programming error")
}

func TestMaskedMap(t *testing.T) {
	mask := BaseState{0xff, 0x0f}
	m := NewMaskedMap[int](mask)

	t.Run("lookup honours the mask", func(t *testing.T) {
		m.Insert(BaseState{1, 0x02}, 42)

		got, ok := m.Lookup(BaseState{1, 0x02})
		require.True(t, ok)
		require.Equal(t, 42, got)

		got, ok = m.Lookup(BaseState{1, 0xf2})
		require.True(t, ok, "high nibble is outside the mask")
		require.Equal(t, 42, got)

		_, ok = m.Lookup(BaseState{1, 0x03})
		require.False(t, ok)
	})

	t.Run("insert replaces an equivalent entry", func(t *testing.T) {
		m.Insert(BaseState{1, 0x42}, 43)

		got, ok := m.Lookup(BaseState{1, 0x02})
		require.True(t, ok)
		require.Equal(t, 43, got)
		require.Equal(t, 1, m.Len())
	})

	t.Run("erase removes the entry", func(t *testing.T) {
		m.Erase(BaseState{1, 0x02})

		_, ok := m.Lookup(BaseState{1, 0x02})
		require.False(t, ok)
		require.Equal(t, 0, m.Len())
	})

	t.Run("erasing a missing entry is harmless", func(t *testing.T) {
		m.Erase(BaseState{9, 9})
	})
}

func TestJointMove(t *testing.T) {
	move := NewJointMove(2)
	move.Set(0, 3)
	move.Set(1, 1)

	require.Equal(t, 3, move.Get(0))
	require.Equal(t, 1, move.Get(1))

	other := move.Clone()
	require.True(t, move.Equal(other))

	other.Set(1, 2)
	require.False(t, move.Equal(other))
	require.False(t, move.Equal(NewJointMove(3)))
}
