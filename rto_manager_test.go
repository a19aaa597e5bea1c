package sctp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRTOManager(t *testing.T) {
	t.Run("initial values", func(t *testing.T) {
		m := newRTOManager()
		assert.Equal(t, rtoInitial, m.rto)
		assert.Equal(t, float64(0), m.srtt)
		assert.Equal(t, float64(0), m.rttvar)
	})

	t.Run("first measurement", func(t *testing.T) {
		m := newRTOManager()
		srtt := m.setNewRTT(600)
		assert.Equal(t, float64(600), srtt)
		assert.Equal(t, float64(600), m.srtt)
		assert.Equal(t, float64(300), m.rttvar)
		// RTO = SRTT + 4*RTTVAR = 600 + 1200
		assert.Equal(t, float64(1800), m.getRTO())
	})

	t.Run("subsequent measurements converge", func(t *testing.T) {
		m := newRTOManager()
		m.setNewRTT(600)
		m.setNewRTT(600)
		assert.Equal(t, float64(600), m.srtt)
		// RTTVAR decays toward 0 with constant RTT
		assert.Equal(t, float64(225), m.rttvar)
	})

	t.Run("minimum clamp", func(t *testing.T) {
		m := newRTOManager()
		for i := 0; i < 100; i++ {
			m.setNewRTT(10)
		}
		assert.Equal(t, rtoMin, m.getRTO())
	})

	t.Run("maximum clamp", func(t *testing.T) {
		m := newRTOManager()
		for i := 0; i < 10; i++ {
			m.setNewRTT(3 * 60 * 1000)
		}
		assert.Equal(t, rtoMax, m.getRTO())
	})

	t.Run("reset", func(t *testing.T) {
		m := newRTOManager()
		m.setNewRTT(200)
		m.reset()
		assert.Equal(t, rtoInitial, m.getRTO())
		assert.Equal(t, float64(0), m.srtt)
	})
}

func TestCalculateNextTimeout(t *testing.T) {
	assert.Equal(t, float64(100), calculateNextTimeout(100, 0))
	assert.Equal(t, float64(200), calculateNextTimeout(100, 1))
	assert.Equal(t, float64(6400), calculateNextTimeout(100, 6))
	// doubling saturates at rtoMax
	assert.Equal(t, rtoMax, calculateNextTimeout(100, 20))
	assert.Equal(t, rtoMax, calculateNextTimeout(100, 63))
}
