package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRing_InvalidCapacity(t *testing.T) {
	_, err := NewRing[int](0)
	assert.Error(t, err)

	_, err = NewRing[int](-1)
	assert.Error(t, err)
}

func TestRing_WriteRead(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Write(i))
	}
	assert.Equal(t, 3, r.Size())

	for i := 1; i <= 3; i++ {
		v, ok := r.Read()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := r.Read()
	assert.False(t, ok)
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []int
	r, err := NewRing[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(v int) { dropped = append(dropped, v) }),
	)
	require.NoError(t, err)

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))
	require.NoError(t, r.Write(3))

	assert.Equal(t, []int{1}, dropped)

	v, ok := r.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = r.Read()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestRing_DropNewest(t *testing.T) {
	r, err := NewRing[int](2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))
	require.NoError(t, r.Write(3))

	v, _ := r.Read()
	assert.Equal(t, 1, v)
	v, _ = r.Read()
	assert.Equal(t, 2, v)

	_, ok := r.Read()
	assert.False(t, ok)
}

func TestRing_WaitSignal(t *testing.T) {
	r, err := NewRing[string](2)
	require.NoError(t, err)

	require.NoError(t, r.Write("a"))

	select {
	case <-r.Wait():
		v, ok := r.Read()
		require.True(t, ok)
		assert.Equal(t, "a", v)
	default:
		t.Fatal("expected notEmpty signal after write")
	}
}

func TestRing_CloseRejectsWritesButAllowsDrain(t *testing.T) {
	r, err := NewRing[int](2)
	require.NoError(t, err)

	require.NoError(t, r.Write(7))
	require.NoError(t, r.Close())

	assert.Error(t, r.Write(8))

	v, ok := r.Read()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}
