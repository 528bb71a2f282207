package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webgrid-labs/gridrunner/types"
)

type fakeFactory struct {
	mu       sync.Mutex
	nextID   int
	created  int
	closed   int
	failures int // establishment attempts to fail before succeeding
}

func (f *fakeFactory) NewSession(ctx context.Context, browserID string) (*types.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("grid unavailable")
	}
	f.nextID++
	f.created++
	return &types.BrowserSession{
		BrowserID: browserID,
		SessionID: fmt.Sprintf("session-%d", f.nextID),
	}, nil
}

func (f *fakeFactory) CloseSession(ctx context.Context, session *types.BrowserSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeLimits struct {
	limit   int64
	retries uint64
}

func (l fakeLimits) SessionLimit(string) int64 { return l.limit }
func (l fakeLimits) SessionRetries() uint64    { return l.retries }

func TestSessionPool_AcquireRelease(t *testing.T) {
	factory := &fakeFactory{}
	p := NewSessionPool(factory, fakeLimits{limit: 2, retries: 0}, nil)

	ctx := context.Background()
	s1, err := p.Acquire(ctx, "chrome")
	require.NoError(t, err)
	s2, err := p.Acquire(ctx, "chrome")
	require.NoError(t, err)
	assert.NotEqual(t, s1.SessionID, s2.SessionID)
	assert.Equal(t, 2, p.Held("chrome"))

	require.NoError(t, p.Release(ctx, s1))
	require.NoError(t, p.Release(ctx, s2))
	assert.Equal(t, 0, p.Held("chrome"))
	assert.Equal(t, 2, factory.closed)
}

func TestSessionPool_BlocksAtLimit(t *testing.T) {
	factory := &fakeFactory{}
	p := NewSessionPool(factory, fakeLimits{limit: 1, retries: 0}, nil)

	ctx := context.Background()
	held, err := p.Acquire(ctx, "chrome")
	require.NoError(t, err)

	acquired := make(chan *types.BrowserSession, 1)
	go func() {
		s, err := p.Acquire(ctx, "chrome")
		require.NoError(t, err)
		acquired <- s
	}()

	// The second acquisition suspends until the slot frees up.
	select {
	case <-acquired:
		t.Fatal("acquisition should block while the limit is reached")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, p.Release(ctx, held))

	select {
	case s := <-acquired:
		require.NoError(t, p.Release(ctx, s))
	case <-time.After(2 * time.Second):
		t.Fatal("acquisition did not resume after release")
	}
}

func TestSessionPool_AcquireCancelledWhileWaiting(t *testing.T) {
	factory := &fakeFactory{}
	p := NewSessionPool(factory, fakeLimits{limit: 1, retries: 0}, nil)

	held, err := p.Acquire(context.Background(), "chrome")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, p.Release(context.Background(), held))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "chrome")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for chrome session slot")
}

func TestSessionPool_RetriesTransientFailure(t *testing.T) {
	factory := &fakeFactory{failures: 1}
	p := NewSessionPool(factory, fakeLimits{limit: 1, retries: 2}, nil)

	s, err := p.Acquire(context.Background(), "chrome")
	require.NoError(t, err)
	assert.Equal(t, 1, factory.created)
	require.NoError(t, p.Release(context.Background(), s))
}

func TestSessionPool_FailureReturnsSlot(t *testing.T) {
	factory := &fakeFactory{failures: 10}
	p := NewSessionPool(factory, fakeLimits{limit: 1, retries: 1}, nil)

	_, err := p.Acquire(context.Background(), "chrome")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to establish chrome session")
	assert.Equal(t, 0, p.Held("chrome"))

	// The slot was returned on failure; a later acquisition succeeds.
	factory.mu.Lock()
	factory.failures = 0
	factory.mu.Unlock()
	s, err := p.Acquire(context.Background(), "chrome")
	require.NoError(t, err)
	require.NoError(t, p.Release(context.Background(), s))
}

func TestSessionPool_LimitNeverExceeded(t *testing.T) {
	const limit = 3
	factory := &fakeFactory{}
	p := NewSessionPool(factory, fakeLimits{limit: limit, retries: 0}, nil)

	var peak atomic.Int64
	var current atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background(), "chrome")
			require.NoError(t, err)

			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			require.NoError(t, p.Release(context.Background(), s))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(limit))
	assert.Equal(t, 0, p.Held("chrome"))
}

func TestSessionPool_PerBrowserLimits(t *testing.T) {
	factory := &fakeFactory{}
	p := NewSessionPool(factory, fakeLimits{limit: 1, retries: 0}, nil)

	ctx := context.Background()
	chrome, err := p.Acquire(ctx, "chrome")
	require.NoError(t, err)

	// A different browser has its own slot count.
	firefox, err := p.Acquire(ctx, "firefox")
	require.NoError(t, err)

	assert.Equal(t, 1, p.Held("chrome"))
	assert.Equal(t, 1, p.Held("firefox"))

	require.NoError(t, p.Release(ctx, chrome))
	require.NoError(t, p.Release(ctx, firefox))
}

func TestSessionPool_ReleaseNil(t *testing.T) {
	p := NewSessionPool(&fakeFactory{}, fakeLimits{limit: 1}, nil)
	require.Error(t, p.Release(context.Background(), nil))
}
