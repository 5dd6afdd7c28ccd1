package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultLaunchTimeout bounds a startup attempt.
const DefaultLaunchTimeout = 30 * time.Second

// State is the pool's view of its engine instance.
type State int

// Pool states. A failed startup attempt leaves the pool Uninitialized so
// the next acquisition retries; there is no permanent poisoning.
const (
	StateUninitialized State = iota
	StateStarting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// startAttempt is the shared pending-result slot: every caller that arrives
// during startup waits on the same attempt, so concurrent first acquires can
// never race to launch two instances.
type startAttempt struct {
	done   chan struct{}
	engine Engine
	err    error
}

// Pool owns at most one engine instance at a time, created lazily and
// reused. A disconnected instance is dropped, never repaired.
type Pool struct {
	launch        LaunchFunc
	launchTimeout time.Duration
	logger        *slog.Logger
	onRestart     func()

	mu       sync.Mutex
	state    State
	engine   Engine
	starting *startAttempt
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLaunchTimeout bounds each startup attempt.
func WithLaunchTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.launchTimeout = d }
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// WithRestartHook registers fn to run whenever a ready instance is dropped
// after a disconnect. Used for metrics.
func WithRestartHook(fn func()) PoolOption {
	return func(p *Pool) { p.onRestart = fn }
}

// NewPool creates a Pool. No engine is started until the first Acquire.
func NewPool(launch LaunchFunc, opts ...PoolOption) *Pool {
	p := &Pool{
		launch:        launch,
		launchTimeout: DefaultLaunchTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the pool's current state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Acquire returns the shared engine instance, starting one if none exists.
// Callers arriving during startup observe the same in-flight attempt. ctx
// only bounds this caller's wait; the startup itself runs under the pool's
// launch timeout and continues for the benefit of other waiters.
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	p.mu.Lock()
	if p.state == StateReady {
		e := p.engine
		p.mu.Unlock()
		return e, nil
	}
	if p.starting == nil {
		att := &startAttempt{done: make(chan struct{})}
		p.starting = att
		p.state = StateStarting
		go p.runStart(att)
	}
	att := p.starting
	p.mu.Unlock()

	select {
	case <-att.done:
		return att.engine, att.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runStart performs one startup attempt and publishes its result to every
// waiter.
func (p *Pool) runStart(att *startAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), p.launchTimeout)
	defer cancel()

	p.logger.Info("starting render engine")
	e, err := p.launch(ctx)

	p.mu.Lock()
	p.starting = nil
	if err != nil {
		// Leave the pool clearable so the next job triggers a fresh attempt.
		p.state = StateUninitialized
	} else {
		p.engine = e
		p.state = StateReady
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("render engine failed to start", "error", err)
	} else {
		p.logger.Info("render engine started")
		go p.watch(e)
	}

	att.engine = e
	att.err = err
	close(att.done)
}

// watch drops the instance when it signals disconnect. Jobs in flight
// against the dead instance fail on their own; subsequent jobs relaunch
// transparently.
func (p *Pool) watch(e Engine) {
	<-e.Done()

	p.mu.Lock()
	dropped := p.engine == e
	if dropped {
		p.engine = nil
		p.state = StateUninitialized
	}
	p.mu.Unlock()

	if dropped {
		p.logger.Warn("render engine disconnected, clearing instance")
		if p.onRestart != nil {
			p.onRestart()
		}
	}
}

// Close shuts down the held instance, if any. The pool remains usable; a
// later Acquire starts a new instance.
func (p *Pool) Close() error {
	p.mu.Lock()
	e := p.engine
	p.engine = nil
	p.state = StateUninitialized
	p.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.Close()
}
