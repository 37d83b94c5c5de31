package failover

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotor_Empty(t *testing.T) {
	_, err := NewRotor(nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestRotor_StickyAdvance(t *testing.T) {
	r, err := NewRotor([]string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, "a", r.Current())
	assert.Equal(t, "b", r.Advance("a"))
	// Stays on b until b itself fails.
	assert.Equal(t, "b", r.Current())
	assert.Equal(t, "b", r.Advance("a"), "stale failure must not rotate")
	assert.Equal(t, "c", r.Advance("b"))
	assert.Equal(t, "a", r.Advance("c"), "wraps back to primary")
	assert.Equal(t, uint64(3), r.Switches())
}

func TestRotor_OnSwitchFiresPerRotation(t *testing.T) {
	r, err := NewRotor([]string{"a", "b"})
	require.NoError(t, err)

	var fired int
	r.SetOnSwitch(func() { fired++ })

	r.Advance("a")
	r.Advance("a") // stale, no rotation
	r.Advance("b")
	assert.Equal(t, 2, fired)
	assert.Equal(t, uint64(2), r.Switches())
}

func TestRotor_ConcurrentSameFailureRotatesOnce(t *testing.T) {
	r, err := NewRotor([]string{"a", "b", "c"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Advance("a")
		}()
	}
	wg.Wait()

	assert.Equal(t, "b", r.Current())
	assert.Equal(t, uint64(1), r.Switches())
}
