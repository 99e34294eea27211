package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketsync/internal/logger"
	"marketsync/internal/market"
	"marketsync/internal/pkg/circuit"

	"golang.org/x/time/rate"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultIdleCheck   = time.Minute
)

// Observer receives one call per Fetch; metrics hook in here.
type Observer interface {
	ObserveFetch(provider string, attempts int, bars int, err error, elapsed time.Duration)
	ObserveState(provider string, state State)
}

// Options 控制 Adapter 的超时、重试与限速。
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	// Backoff is multiplied by the attempt number between retries; zero disables it.
	Backoff time.Duration
	// IdleCheck: a connection idle for longer than this is pinged before reuse.
	IdleCheck time.Duration
	Limiter   *rate.Limiter
	// Breaker, when set, short-circuits Fetch after repeated transient failures.
	Breaker   *circuit.Breaker
	Clock     Clock
	Observer  Observer
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.IdleCheck <= 0 {
		o.IdleCheck = defaultIdleCheck
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	return o
}

// Adapter 在 Provider 之上提供统一的 Fetch：惰性建连、断线重连、单次超时、
// 有上限的重试与令牌桶限速。同一个 Adapter 上的 Fetch 串行执行。
type Adapter struct {
	provider Provider
	opts     Options

	mu       sync.Mutex
	state    State
	lastUsed time.Time
}

func NewAdapter(p Provider, opts Options) *Adapter {
	return &Adapter{provider: p, opts: opts.withDefaults(), state: StateDisconnected}
}

func (a *Adapter) Name() string { return a.provider.Name() }

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Fetch 返回 [start, end] 内按时间升序、已归一化的 K 线。空结果不是错误。
func (a *Adapter) Fetch(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	req := FetchRequest{Symbol: symbol, Timeframe: tf, Start: start.UTC(), End: end.UTC()}
	began := a.opts.Clock.Now()
	if !a.opts.Breaker.Allow() {
		err := fmt.Errorf("feed %s: %s %s: %w", a.provider.Name(), symbol, tf.Name, circuit.ErrOpen)
		a.observe(0, 0, err, began)
		return nil, err
	}
	var (
		lastErr  error
		attempts int
	)
	for attempts = 1; attempts <= a.opts.MaxAttempts; attempts++ {
		raws, err := a.attempt(ctx, req)
		if err == nil {
			bars := Normalize(symbol, req.Start, req.End, raws)
			a.opts.Breaker.RecordSuccess()
			a.observe(attempts, len(bars), nil, began)
			return bars, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			a.observe(attempts, 0, ctx.Err(), began)
			return nil, ctx.Err()
		}
		if IsPermanent(err) {
			a.observe(attempts, 0, err, began)
			return nil, fmt.Errorf("feed %s: %s %s: %w", a.provider.Name(), symbol, tf.Name, err)
		}
		logger.Warnf("[feed] %s %s %s attempt %d/%d failed: %v",
			a.provider.Name(), symbol, tf.Name, attempts, a.opts.MaxAttempts, err)
		if attempts < a.opts.MaxAttempts {
			if err := a.sleep(ctx, a.opts.Backoff*time.Duration(attempts)); err != nil {
				a.observe(attempts, 0, err, began)
				return nil, err
			}
		}
	}
	attempts = a.opts.MaxAttempts
	a.opts.Breaker.RecordFailure()
	a.observe(attempts, 0, lastErr, began)
	return nil, fmt.Errorf("feed %s: %s %s failed after %d attempts: %w",
		a.provider.Name(), symbol, tf.Name, attempts, lastErr)
}

func (a *Adapter) attempt(ctx context.Context, req FetchRequest) ([]RawBar, error) {
	if err := a.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if a.opts.Limiter != nil {
		if err := a.opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var raws []RawBar
	err := a.withTimeout(ctx, func(actx context.Context) error {
		var ferr error
		raws, ferr = a.provider.Fetch(actx, req)
		return ferr
	})
	if err != nil {
		if !IsPermanent(err) {
			a.transition(StateDegraded)
		}
		return nil, err
	}
	a.lastUsed = a.opts.Clock.Now()
	return raws, nil
}

// ensureConnected 按状态机推进：disconnected/degraded → connecting → connected。
func (a *Adapter) ensureConnected(ctx context.Context) error {
	switch a.state {
	case StateConnected:
		if a.opts.Clock.Now().Sub(a.lastUsed) < a.opts.IdleCheck {
			return nil
		}
		err := a.withTimeout(ctx, a.provider.Ping)
		if err == nil {
			a.lastUsed = a.opts.Clock.Now()
			return nil
		}
		logger.Warnf("[feed] %s ping failed, reconnecting: %v", a.provider.Name(), err)
		a.transition(StateDegraded)
		fallthrough
	case StateDegraded:
		if err := a.provider.Disconnect(); err != nil {
			logger.Debugf("[feed] %s disconnect before reconnect: %v", a.provider.Name(), err)
		}
	}
	a.transition(StateConnecting)
	if err := a.withTimeout(ctx, a.provider.Connect); err != nil {
		a.transition(StateDisconnected)
		return fmt.Errorf("connect: %w", err)
	}
	a.transition(StateConnected)
	a.lastUsed = a.opts.Clock.Now()
	return nil
}

// withTimeout runs fn under a deadline driven by the adapter clock.
func (a *Adapter) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("provider panic: %v", r)
			}
		}()
		done <- fn(actx)
	}()
	select {
	case err := <-done:
		return err
	case <-a.opts.Clock.After(a.opts.Timeout):
		cancel()
		return fmt.Errorf("%w after %s", ErrTimeout, a.opts.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.opts.Clock.After(d):
		return nil
	}
}

// Close 断开连接；之后的 Fetch 会重新建连。
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateDisconnected {
		return nil
	}
	err := a.provider.Disconnect()
	a.transition(StateDisconnected)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Adapter) transition(to State) {
	from := a.state
	if from == to {
		return
	}
	a.state = to
	logger.Infof("[feed] %s connection %s -> %s", a.provider.Name(), from, to)
	if a.opts.Observer != nil {
		a.opts.Observer.ObserveState(a.provider.Name(), to)
	}
}

func (a *Adapter) observe(attempts, bars int, err error, began time.Time) {
	if a.opts.Observer == nil {
		return
	}
	a.opts.Observer.ObserveFetch(a.provider.Name(), attempts, bars, err, a.opts.Clock.Now().Sub(began))
}
