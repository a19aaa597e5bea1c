package sctp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTimerObserver struct {
	mu        sync.Mutex
	nTimeouts []uint
	failures  []int
	onTimeout func(id int, n uint)
}

func (o *testTimerObserver) onRetransmissionTimeout(id int, n uint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nTimeouts = append(o.nTimeouts, n)
	if o.onTimeout != nil {
		o.onTimeout(id, n)
	}
}

func (o *testTimerObserver) onRetransmissionFailure(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, id)
}

func (o *testTimerObserver) timeoutCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.nTimeouts)
}

func (o *testTimerObserver) failureCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.failures)
}

func TestRTXTimer(t *testing.T) {
	t.Run("fires with backoff until stopped", func(t *testing.T) {
		obs := &testTimerObserver{}
		timer := newRTXTimer(timerT3RTX, obs, noMaxRetrans)
		assert.True(t, timer.start(10))
		assert.False(t, timer.start(10), "start while running is a noop")

		time.Sleep(100 * time.Millisecond)
		timer.stop()
		n := obs.timeoutCount()
		// 10ms + 20ms + 40ms ... at least two expiries within 100ms
		assert.GreaterOrEqual(t, n, 2)
		assert.Equal(t, uint(1), obs.nTimeouts[0])
		assert.Equal(t, uint(2), obs.nTimeouts[1])

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, n, obs.timeoutCount(), "no expiry after stop")
		assert.Equal(t, 0, obs.failureCount())
	})

	t.Run("failure after retry cap", func(t *testing.T) {
		obs := &testTimerObserver{}
		timer := newRTXTimer(timerT1Init, obs, 2)
		require.True(t, timer.start(5))

		assert.Eventually(t, func() bool {
			return obs.failureCount() == 1
		}, 1*time.Second, 5*time.Millisecond)

		assert.Equal(t, 2, obs.timeoutCount())
		assert.False(t, timer.isRunning())
	})

	t.Run("close prevents restart", func(t *testing.T) {
		obs := &testTimerObserver{}
		timer := newRTXTimer(timerT1Cookie, obs, noMaxRetrans)
		timer.close()
		assert.False(t, timer.start(5))
		assert.False(t, timer.isRunning())
	})

	t.Run("restart after stop", func(t *testing.T) {
		obs := &testTimerObserver{}
		timer := newRTXTimer(timerReconfig, obs, noMaxRetrans)
		require.True(t, timer.start(5))
		timer.stop()
		require.True(t, timer.start(5))
		assert.True(t, timer.isRunning())
		timer.close()
	})
}

type testAckTimerObserver struct {
	mu sync.Mutex
	n  int
}

func (o *testAckTimerObserver) onAckTimeout() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.n++
}

func (o *testAckTimerObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.n
}

func TestAckTimer(t *testing.T) {
	t.Run("fires once per start", func(t *testing.T) {
		obs := &testAckTimerObserver{}
		timer := newAckTimer(obs)
		timer.interval = 5 * time.Millisecond
		assert.True(t, timer.start())
		assert.False(t, timer.start())

		assert.Eventually(t, func() bool {
			return obs.count() == 1
		}, 1*time.Second, time.Millisecond)

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, obs.count())
		assert.True(t, timer.start(), "restartable after expiry")
		timer.close()
	})

	t.Run("stop before expiry", func(t *testing.T) {
		obs := &testAckTimerObserver{}
		timer := newAckTimer(obs)
		timer.interval = 20 * time.Millisecond
		require.True(t, timer.start())
		timer.stop()
		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, 0, obs.count())
		timer.close()
		assert.False(t, timer.start())
	})
}
