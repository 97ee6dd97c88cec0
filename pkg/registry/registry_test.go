package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseRegistry_RegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestBaseRegistry_DuplicateAndEmptyName(t *testing.T) {
	r := NewBaseRegistry[string]()

	require.NoError(t, r.Register("x", "first"))
	assert.Error(t, r.Register("x", "second"))
	assert.Error(t, r.Register("", "nameless"))

	v, ok := r.Get("x")
	assert.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestBaseRegistry_NamesSorted(t *testing.T) {
	r := NewBaseRegistry[int]()
	for i, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(name, i))
	}

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
	assert.Equal(t, 3, r.Count())
}

func TestBaseRegistry_Remove(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("a", 1))

	require.NoError(t, r.Remove("a"))
	assert.Error(t, r.Remove("a"))
	assert.Equal(t, 0, r.Count())
}

func TestBaseRegistry_ConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(fmt.Sprintf("item-%d", i), i)
			_, _ = r.Get(fmt.Sprintf("item-%d", i/2))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Count())
}
