package ticker

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/seofernando25/catfish/internal/core/observability/log"
	"github.com/seofernando25/catfish/internal/core/observability/metrics"
)

const (
	DefaultTickrate   = 20
	DefaultWarnBehind = 10
)

// Info is the clock state exchanged in tick_sync messages.
type Info struct {
	Tick     uint64  `json:"tick"`
	StartT   int64   `json:"start_t"`
	Tickrate float64 `json:"tickrate"`
}

type Config struct {
	Tickrate   float64
	WarnBehind int
	Clock      Clock
	Logger     log.Log
	Metrics    *metrics.Collector
}

type callback struct {
	fn     func()
	active bool
}

// Ticker is a fixed-rate clock that catches up on missed ticks. Each tick
// first drains the one-shot queue, then runs the per-tick callbacks. All
// callbacks run on the goroutine calling Advance (normally Run's).
type Ticker struct {
	mu          sync.Mutex
	tickrate    float64
	currentTick uint64
	start       time.Time
	callbacks   []*callback
	queue       []func()

	// advancing serializes Advance so callbacks never overlap
	advancing sync.Mutex

	clock      Clock
	warnBehind int
	logger     log.Log
	metrics    *metrics.Collector
}

func New(cfg Config) *Ticker {
	if cfg.Tickrate <= 0 {
		cfg.Tickrate = DefaultTickrate
	}
	if cfg.WarnBehind <= 0 {
		cfg.WarnBehind = DefaultWarnBehind
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &Ticker{
		tickrate:   cfg.Tickrate,
		start:      cfg.Clock.Now(),
		clock:      cfg.Clock,
		warnBehind: cfg.WarnBehind,
		logger:     cfg.Logger.With(log.Component("ticker")),
		metrics:    cfg.Metrics,
	}
}

// OnTick registers fn to run once per tick, after the one-shot queue.
func (t *Ticker) OnTick(fn func()) func() {
	cb := &callback{fn: fn, active: true}
	t.mu.Lock()
	t.callbacks = append(t.callbacks, cb)
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !cb.active {
			return
		}
		cb.active = false
		t.callbacks = slices.DeleteFunc(t.callbacks, func(c *callback) bool { return c == cb })
	}
}

// Enqueue schedules fn for the next processed tick. It is the only safe way
// for other goroutines to touch state owned by the tick goroutine.
func (t *Ticker) Enqueue(fn func()) {
	t.mu.Lock()
	t.queue = append(t.queue, fn)
	t.mu.Unlock()
}

// Advance runs every tick that wall time says is due and returns how many
// were processed.
func (t *Ticker) Advance() int {
	t.advancing.Lock()
	defer t.advancing.Unlock()

	t.mu.Lock()
	expected := t.expectedLocked(t.clock.Now())
	var behind int
	if expected > t.currentTick {
		behind = int(expected - t.currentTick)
	}
	t.mu.Unlock()

	if behind > t.warnBehind {
		t.logger.Warn("ticker is behind, catching up",
			log.Int("behind", behind),
			log.Uint64("tick", t.CurrentTick()),
		)
	}

	processed := 0
	for {
		t.mu.Lock()
		if t.currentTick >= t.expectedLocked(t.clock.Now()) {
			t.mu.Unlock()
			break
		}
		t.currentTick++
		queue := t.queue
		t.queue = nil
		callbacks := slices.Clone(t.callbacks)
		t.mu.Unlock()

		for _, fn := range queue {
			fn()
		}
		for _, cb := range callbacks {
			if cb.active {
				cb.fn()
			}
		}
		processed++
	}

	if processed > 0 {
		t.metrics.ObserveTicks(processed, behind)
	}
	return processed
}

// Run advances the clock until ctx is done, sleeping to each tick boundary.
func (t *Ticker) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		t.Advance()
		timer.Reset(t.untilNextTick())
	}
}

func (t *Ticker) untilNextTick() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.start.Add(t.tickDurationLocked() * time.Duration(t.currentTick+1))
	return max(0, next.Sub(t.clock.Now()))
}

// Sync re-anchors the clock to a remote one. The three values are replaced
// together so a concurrent Advance never sees a mix.
func (t *Ticker) Sync(info Info) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info.Tickrate > 0 {
		t.tickrate = info.Tickrate
	}
	t.currentTick = info.Tick
	t.start = time.UnixMilli(info.StartT)
}

// Info reports the triple a peer needs to reproduce this clock.
func (t *Ticker) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		Tick:     t.currentTick,
		StartT:   t.start.UnixMilli(),
		Tickrate: t.tickrate,
	}
}

// SetTickrate changes the rate while keeping the current tick, moving the
// start anchor accordingly.
func (t *Ticker) SetTickrate(rate float64) {
	if rate <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tickrate = rate
	t.start = t.clock.Now().Add(-t.tickDurationLocked() * time.Duration(t.currentTick))
}

func (t *Ticker) CurrentTick() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentTick
}

func (t *Ticker) Tickrate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tickrate
}

// DeltaTime is the simulated seconds per tick.
func (t *Ticker) DeltaTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return 1 / t.tickrate
}

// Elapsed is the simulated seconds since tick zero.
func (t *Ticker) Elapsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.currentTick) / t.tickrate
}

func (t *Ticker) tickDurationLocked() time.Duration {
	return time.Duration(float64(time.Second) / t.tickrate)
}

func (t *Ticker) expectedLocked(now time.Time) uint64 {
	elapsed := now.Sub(t.start)
	if elapsed <= 0 {
		return 0
	}
	return uint64(elapsed / t.tickDurationLocked())
}
