package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_AppendAssignsMonotonicIDs(t *testing.T) {
	r := NewRing(10)
	a := r.Append([]byte("a"))
	b := r.Append([]byte("b"))
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
}

func TestRing_SinceReturnsOnlyNewer(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 5; i++ {
		r.Append([]byte{byte(i)})
	}
	since := r.Since(3)
	require.Len(t, since, 2)
	assert.Equal(t, int64(4), since[0].ID)
	assert.Equal(t, int64(5), since[1].ID)
}

func TestRing_EvictsOldestBeyondCapacity(t *testing.T) {
	r := NewRing(2)
	r.Append([]byte("1"))
	r.Append([]byte("2"))
	r.Append([]byte("3"))
	since := r.Since(0)
	require.Len(t, since, 2)
	assert.Equal(t, int64(2), since[0].ID)
	assert.Equal(t, int64(3), since[1].ID)
}
