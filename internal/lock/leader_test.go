package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLock is a mock implementation of Locker for testing.
type mockLock struct {
	acquireErrs  atomic.Int32 // number of leading Acquire calls that fail
	block        chan struct{}
	releaseErr   error
	held         atomic.Bool
	acquireCalls atomic.Int32
	releaseCalls atomic.Int32

	mu   sync.Mutex
	lost chan struct{}
}

var errRefused = errors.New("connection refused")

func (m *mockLock) Acquire(ctx context.Context) error {
	m.acquireCalls.Add(1)
	if m.acquireErrs.Load() > 0 {
		m.acquireErrs.Add(-1)
		return errRefused
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	m.lost = make(chan struct{})
	m.held.Store(true)
	m.mu.Unlock()
	return nil
}

func (m *mockLock) Release(ctx context.Context) error {
	m.releaseCalls.Add(1)
	m.end()
	return m.releaseErr
}

func (m *mockLock) Lost() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lost == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.lost
}

// end drops the hold the way a dead connection does.
func (m *mockLock) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held.Store(false)
	if m.lost != nil {
		close(m.lost)
		m.lost = nil
	}
}

func (m *mockLock) IsLocked() bool {
	return m.held.Load()
}

func TestLeaderElector_BecomeLeader(t *testing.T) {
	mock := &mockLock{}

	var becameLeader atomic.Bool
	elector := NewLeaderElector(mock, zerolog.Nop(),
		WithOnBecomeLeader(func() {
			becameLeader.Store(true)
		}),
	)

	elector.Start(context.Background())

	require.Eventually(t, elector.IsLeader, time.Second, 5*time.Millisecond)
	assert.True(t, becameLeader.Load())
	assert.True(t, mock.IsLocked())

	elector.Stop(context.Background())

	assert.False(t, elector.IsLeader())
	assert.False(t, mock.IsLocked())
	assert.Equal(t, int32(1), mock.releaseCalls.Load())
}

func TestLeaderElector_RetryAcquisition(t *testing.T) {
	mock := &mockLock{}
	mock.acquireErrs.Store(2)

	elector := NewLeaderElector(mock, zerolog.Nop(),
		WithRetryBackoff(10*time.Millisecond),
	)

	elector.Start(context.Background())
	defer elector.Stop(context.Background())

	require.Eventually(t, elector.IsLeader, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), mock.acquireCalls.Load())
}

func TestLeaderElector_StopWhileWaiting(t *testing.T) {
	mock := &mockLock{block: make(chan struct{})}

	var lost atomic.Bool
	elector := NewLeaderElector(mock, zerolog.Nop(),
		WithOnLoseLeader(func() { lost.Store(true) }),
	)

	elector.Start(context.Background())
	require.Eventually(t, func() bool { return mock.acquireCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	elector.Stop(context.Background())

	assert.False(t, elector.IsLeader())
	assert.False(t, lost.Load(), "never became leader, so never lost it")
	assert.Equal(t, int32(0), mock.releaseCalls.Load())
}

func TestLeaderElector_StopReleasesLock(t *testing.T) {
	mock := &mockLock{}

	var lost atomic.Bool
	elector := NewLeaderElector(mock, zerolog.Nop(),
		WithOnLoseLeader(func() { lost.Store(true) }),
	)

	elector.Start(context.Background())
	require.Eventually(t, elector.IsLeader, time.Second, 5*time.Millisecond)

	elector.Stop(context.Background())

	assert.Equal(t, int32(1), mock.releaseCalls.Load())
	assert.True(t, lost.Load())
}

func TestLeaderElector_ReleaseErrorStillStops(t *testing.T) {
	mock := &mockLock{releaseErr: errors.New("unlock failed")}
	elector := NewLeaderElector(mock, zerolog.Nop())

	elector.Start(context.Background())
	require.Eventually(t, elector.IsLeader, time.Second, 5*time.Millisecond)

	elector.Stop(context.Background())

	assert.False(t, elector.IsLeader())
}

func TestLeaderElector_ContextCancellation(t *testing.T) {
	mock := &mockLock{}
	mock.acquireErrs.Store(1000)

	elector := NewLeaderElector(mock, zerolog.Nop(),
		WithRetryBackoff(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	elector.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()

	// Stop should still work cleanly
	elector.Stop(context.Background())
	assert.False(t, elector.IsLeader())
	assert.GreaterOrEqual(t, mock.acquireCalls.Load(), int32(2))
}

func TestLeaderElector_LostLockStepsDownAndReacquires(t *testing.T) {
	mock := &mockLock{}

	var became, lost atomic.Int32
	elector := NewLeaderElector(mock, zerolog.Nop(),
		WithRetryBackoff(10*time.Millisecond),
		WithOnBecomeLeader(func() { became.Add(1) }),
		WithOnLoseLeader(func() { lost.Add(1) }),
	)

	elector.Start(context.Background())
	defer elector.Stop(context.Background())

	require.Eventually(t, elector.IsLeader, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), mock.acquireCalls.Load())

	mock.end()

	require.Eventually(t, func() bool { return lost.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return became.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, elector.IsLeader())
	assert.True(t, mock.IsLocked())
	assert.Equal(t, int32(2), mock.acquireCalls.Load())
}

func TestLeaderElector_LostLockWithoutReacquire(t *testing.T) {
	mock := &mockLock{}

	var lost atomic.Bool
	elector := NewLeaderElector(mock, zerolog.Nop(),
		WithRetryBackoff(time.Hour),
		WithOnLoseLeader(func() { lost.Store(true) }),
	)

	elector.Start(context.Background())
	require.Eventually(t, elector.IsLeader, time.Second, 5*time.Millisecond)

	mock.end()

	require.Eventually(t, func() bool { return !elector.IsLeader() }, time.Second, 5*time.Millisecond)
	assert.True(t, lost.Load())
	assert.False(t, mock.IsLocked())

	releases := mock.releaseCalls.Load()
	elector.Stop(context.Background())
	assert.Equal(t, releases, mock.releaseCalls.Load(), "nothing left to release on stop")
}
