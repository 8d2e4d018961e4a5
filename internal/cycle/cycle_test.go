package cycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartEnd(t *testing.T) {
	r := NewRegistry(0)

	id, err := r.Start("a")
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, id, r.Current("a"))
	assert.Zero(t, r.Current("b"))

	_, err = r.Start("a")
	assert.ErrorIs(t, err, ErrActive)

	other, err := r.Start("b")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, r.Active())

	r.End("a")
	assert.Zero(t, r.Current("a"))
	next, err := r.Start("a")
	require.NoError(t, err)
	assert.NotEqual(t, id, next)
}

func TestNeverZero(t *testing.T) {
	r := NewRegistry(0)
	r.counter = 0xFFFF

	id, err := r.Start("a")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
}

func TestOverride(t *testing.T) {
	r := NewRegistry(42)

	a, err := r.Start("a")
	require.NoError(t, err)
	b, err := r.Start("a")
	require.NoError(t, err)
	assert.Equal(t, uint16(42), a)
	assert.Equal(t, a, b)
	assert.Equal(t, uint16(42), r.Current("a"))
}

func TestConcurrentStart(t *testing.T) {
	r := NewRegistry(0)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uint16]bool{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Start(string(rune('a' + i)))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	assert.Len(t, seen, 16)
}
