package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeen(t *testing.T) {
	s := NewRecentSet(10)

	assert.False(t, s.Seen("msg_1"))
	assert.True(t, s.Seen("msg_1"))
	assert.False(t, s.Seen("msg_2"))
	assert.Equal(t, 2, s.Len())
}

func TestSeenEmptyID(t *testing.T) {
	s := NewRecentSet(10)

	assert.False(t, s.Seen(""))
	assert.False(t, s.Seen(""))
	assert.Equal(t, 0, s.Len())
}

func TestOldestFirstTruncation(t *testing.T) {
	s := NewRecentSet(3)

	for i := 0; i < 5; i++ {
		s.Seen(fmt.Sprintf("msg_%d", i))
	}

	assert.Equal(t, 3, s.Len())
	// Oldest two were truncated, so they read as unseen again.
	assert.False(t, s.Seen("msg_0"))
	assert.True(t, s.Seen("msg_4"))
}

func TestForget(t *testing.T) {
	s := NewRecentSet(10)

	s.Seen("msg_1")
	s.Forget("msg_1")
	assert.False(t, s.Seen("msg_1"))

	// Forgetting an unknown id is a no-op.
	s.Forget("msg_unknown")
	assert.Equal(t, 1, s.Len())
}
