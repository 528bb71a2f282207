// Package pool owns the bounded set of live browser sessions. Acquisition
// suspends the caller until the browser's slot count allows another session;
// establishment failures are retried a bounded number of times before the
// acquisition fails.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"

	"github.com/webgrid-labs/gridrunner/metrics"
	"github.com/webgrid-labs/gridrunner/types"
)

// Factory establishes and tears down browser sessions. The wire protocol
// behind it is opaque to the pool.
type Factory interface {
	NewSession(ctx context.Context, browserID string) (*types.BrowserSession, error)
	CloseSession(ctx context.Context, session *types.BrowserSession) error
}

// Limits exposes the per-browser session concurrency configuration.
type Limits interface {
	SessionLimit(browserID string) int64
	SessionRetries() uint64
}

// SessionPool serves acquire/release requests subject to per-browser limits.
// Its capacity counters are the only state in the system mutated by multiple
// workers at once; every mutation is serialized here.
type SessionPool struct {
	factory Factory
	limits  Limits
	log     log.Logger

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	held map[string]int
}

// NewSessionPool creates a pool backed by the given session factory.
func NewSessionPool(factory Factory, limits Limits, logger log.Logger) *SessionPool {
	if logger == nil {
		logger = log.New()
	}
	return &SessionPool{
		factory: factory,
		limits:  limits,
		log:     logger.New("component", "session-pool"),
		sems:    make(map[string]*semaphore.Weighted),
		held:    make(map[string]int),
	}
}

func (p *SessionPool) sem(browserID string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.sems[browserID]
	if !ok {
		sem = semaphore.NewWeighted(p.limits.SessionLimit(browserID))
		p.sems[browserID] = sem
	}
	return sem
}

// Acquire blocks until a slot for the browser is available, then establishes
// a session through the factory. Establishment is retried with exponential
// backoff up to the configured bound; on final failure the slot is returned
// and the acquisition fails.
func (p *SessionPool) Acquire(ctx context.Context, browserID string) (*types.BrowserSession, error) {
	sem := p.sem(browserID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for %s session slot: %w", browserID, err)
	}

	session, err := p.establish(ctx, browserID)
	if err != nil {
		sem.Release(1)
		metrics.RecordError("session-establishment")
		return nil, fmt.Errorf("failed to establish %s session: %w", browserID, err)
	}

	p.mu.Lock()
	p.held[browserID]++
	held := p.held[browserID]
	p.mu.Unlock()

	metrics.RecordSessionAcquired(browserID)
	p.log.Debug("Session acquired", "browser", browserID, "session", session.SessionID, "held", held)
	return session, nil
}

func (p *SessionPool) establish(ctx context.Context, browserID string) (*types.BrowserSession, error) {
	var session *types.BrowserSession

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		s, err := p.factory.NewSession(ctx, browserID)
		if err != nil {
			p.log.Warn("Session establishment failed", "browser", browserID, "attempt", attempt, "error", err)
			return err
		}
		session = s
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), p.limits.SessionRetries()))
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Release closes the session and returns its slot. It must be called exactly
// once per successful acquisition, on every exit path.
func (p *SessionPool) Release(ctx context.Context, session *types.BrowserSession) error {
	if session == nil {
		return fmt.Errorf("cannot release nil session")
	}

	closeErr := p.factory.CloseSession(ctx, session)
	if closeErr != nil {
		p.log.Warn("Failed to close session", "browser", session.BrowserID, "session", session.SessionID, "error", closeErr)
	}

	p.mu.Lock()
	p.held[session.BrowserID]--
	held := p.held[session.BrowserID]
	p.mu.Unlock()

	p.sem(session.BrowserID).Release(1)
	metrics.RecordSessionReleased(session.BrowserID)
	p.log.Debug("Session released", "browser", session.BrowserID, "session", session.SessionID, "held", held)
	return closeErr
}

// Held returns the number of currently held sessions for a browser. Used by
// accounting checks; never exceeds the configured limit.
func (p *SessionPool) Held(browserID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held[browserID]
}
