package staging

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := New[[]string](time.Minute)

	e := s.Put([]string{"2025-09", "2025-10"})
	_, err := uuid.Parse(e.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, e.ExpiresAt.Sub(e.CreatedAt))

	got, ok := s.Get(e.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"2025-09", "2025-10"}, got.Value)
	assert.Equal(t, 1, s.Len())

	s.Delete(e.ID)
	_, ok = s.Get(e.ID)
	assert.False(t, ok)
}

func TestStore_HandlesAreIndependent(t *testing.T) {
	s := New[int](time.Minute)
	a := s.Put(1)
	b := s.Put(2)
	assert.NotEqual(t, a.ID, b.ID)

	got, _ := s.Get(b.ID)
	assert.Equal(t, 2, got.Value)

	_, ok := s.Get("not-a-handle")
	assert.False(t, ok)
}

func TestStore_Expiry(t *testing.T) {
	s := New[int](30 * time.Millisecond)
	e := s.Put(7)

	time.Sleep(60 * time.Millisecond)
	_, ok := s.Get(e.ID)
	assert.False(t, ok)
}

func TestStore_DefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, New[int](0).TTL())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New[int](time.Minute)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := s.Put(i)
			got, ok := s.Get(e.ID)
			assert.True(t, ok)
			assert.Equal(t, i, got.Value)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
