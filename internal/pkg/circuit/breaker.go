package circuit

import (
	"errors"
	"sync"
	"time"

	"marketsync/internal/logger"
)

// ErrOpen is returned to callers while the breaker rejects requests.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 连续失败达到阈值后打开，冷却期内拒绝请求；
// 冷却结束放行一次探测，成功则关闭，失败则重新打开。
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	nowFn       func() time.Time
	onChange    func(name string, from, to State)
}

// New returns nil when threshold <= 0; a nil *Breaker allows everything.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		return nil
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, nowFn: time.Now}
}

func (b *Breaker) SetClock(nowFn func() time.Time) {
	if b == nil || nowFn == nil {
		return
	}
	b.mu.Lock()
	b.nowFn = nowFn
	b.mu.Unlock()
}

func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may go through.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return true
	}
	if b.nowFn().Sub(b.lastFailure) >= b.cooldown {
		b.transition(StateHalfOpen)
		return true
	}
	return false
}

func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.nowFn()
	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.Warnf("[circuit] %s %s -> %s (failures=%d/%d, cooldown=%s)",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
	if b.onChange != nil {
		go b.onChange(b.name, from, to)
	}
}
