package sctp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieStore(t *testing.T) {
	t.Run("issue and find", func(t *testing.T) {
		s := newCookieStore()
		c1, err := s.issue()
		require.NoError(t, err)
		c2, err := s.issue()
		require.NoError(t, err)
		assert.Len(t, c1.cookie, cookieSize)
		assert.NotEqual(t, c1.cookie, c2.cookie)
		assert.Equal(t, 2, s.size())

		h := s.find(c1.cookie)
		require.NotNil(t, h)
		assert.Equal(t, c1.cookie, h.cookie)

		assert.Nil(t, s.find([]byte("no such cookie")))
	})

	t.Run("staleness", func(t *testing.T) {
		h := &cookieHolder{createdAt: time.Now()}
		assert.LessOrEqual(t, int64(h.staleness(time.Now())), int64(0))

		h.createdAt = time.Now().Add(-validCookieLife - 250*time.Millisecond)
		staleness := h.staleness(time.Now())
		assert.Greater(t, int64(staleness), int64(0))
		assert.GreaterOrEqual(t, staleness.Microseconds(), int64(250_000))
	})

	t.Run("retain keeps a single cookie", func(t *testing.T) {
		s := newCookieStore()
		c1, _ := s.issue()
		_, _ = s.issue()
		_, _ = s.issue()

		h := s.find(c1.cookie)
		require.NotNil(t, h)
		s.retain(h)
		assert.Equal(t, 1, s.size())
		assert.NotNil(t, s.find(c1.cookie))

		s.retain(nil)
		assert.Equal(t, 0, s.size())
	})
}
