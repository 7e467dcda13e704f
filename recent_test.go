package opgate_test

import (
	"fmt"
	"testing"

	"github.com/opgate/opgate"
	"github.com/stretchr/testify/assert"
)

func TestRecentSet_Dedup(t *testing.T) {
	s := opgate.NewRecentSet(4)

	assert.False(t, s.Seen("a"))
	assert.True(t, s.Seen("a"))
	assert.False(t, s.Seen("b"))
	assert.True(t, s.Seen("a"))
	assert.True(t, s.Seen("b"))
	assert.Equal(t, 2, s.Len())
}

func TestRecentSet_EvictsOldest(t *testing.T) {
	s := opgate.NewRecentSet(3)

	s.Seen("a")
	s.Seen("b")
	s.Seen("c")
	s.Seen("d") // evicts a

	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Seen("a")) // evicts b
	assert.True(t, s.Seen("c"))
	assert.True(t, s.Seen("d"))
}

func TestRecentSet_BoundedUnderChurn(t *testing.T) {
	s := opgate.NewRecentSet(8)
	for i := 0; i < 1000; i++ {
		assert.False(t, s.Seen(fmt.Sprintf("key-%d", i)))
	}
	assert.Equal(t, 8, s.Len())
}

func TestRecentSet_MinimumCapacity(t *testing.T) {
	s := opgate.NewRecentSet(0)
	assert.False(t, s.Seen("a"))
	assert.True(t, s.Seen("a"))
	assert.False(t, s.Seen("b"))
	assert.Equal(t, 1, s.Len())
}
