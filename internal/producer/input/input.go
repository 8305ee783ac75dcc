// Package input implements the input producer described in spec.md §4.3: it
// polls an idle-time oracle on a fixed interval and correlates sustained
// activity with configured away windows, emitting input_detected,
// idle_started, and active_during_away events.
//
// The poll-loop shape is grounded on the teacher's polling FileWatcher
// (internal/watcher/file.go): a ticker-driven loop, a Ready channel for test
// synchronization, and a stopOnce-guarded Stop. The streak/away-window
// correlation logic itself is ported from the original's
// agent/monitors/input_monitor.py _poll_loop, including its one-time
// "active_streak == poll_interval" check for emitting input_detected exactly
// once per activity streak rather than on every tick.
package input

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abi50/pida/internal/bus"
	"github.com/abi50/pida/internal/model"
)

// IdleFunc reports seconds since the last keyboard/mouse input. The default
// implementation (platform-specific, see idle_*.go) always reports a large
// idle value on platforms without a supported idle oracle, matching the
// original's non-Windows fallback of "always idle".
type IdleFunc func() float64

// Producer polls an IdleFunc and publishes TimelineEvents to a bus.Bus.
type Producer struct {
	bus            *bus.Bus
	logger         *slog.Logger
	pollInterval   time.Duration
	awayWindows    []model.AwayWindow
	idleFn         IdleFunc
	streakThreshold float64

	mu           sync.Mutex
	activeStreak float64

	readyCh chan struct{} // closed once the first poll has run; test hook

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Producer at construction time.
type Option func(*Producer)

// WithIdleFunc overrides the idle oracle, primarily for tests.
func WithIdleFunc(fn IdleFunc) Option {
	return func(p *Producer) { p.idleFn = fn }
}

// WithStreakThreshold overrides the sustained-activity threshold (seconds)
// required before an active-during-away event fires. Defaults to 10s,
// matching the original.
func WithStreakThreshold(seconds float64) Option {
	return func(p *Producer) { p.streakThreshold = seconds }
}

// New constructs an input Producer. pollInterval must be positive.
func New(b *bus.Bus, pollInterval time.Duration, awayWindows []model.AwayWindow, logger *slog.Logger, opts ...Option) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Producer{
		bus:             b,
		logger:          logger,
		pollInterval:    pollInterval,
		awayWindows:     awayWindows,
		idleFn:          defaultIdleFunc,
		streakThreshold: 10.0,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		readyCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetAwayWindows atomically replaces the away windows consulted on each
// poll. The HTTP API's away-window handler pushes each new set here (and
// to the timeline engine) whenever the user updates it, so the producer
// always correlates against the latest configuration without a restart.
func (p *Producer) SetAwayWindows(windows []model.AwayWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.awayWindows = windows
}

// Start begins the poll loop on a background goroutine.
func (p *Producer) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop halts the poll loop and waits for it to exit. Stop is idempotent.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.doneCh
	})
}

// Ready returns a channel that is closed after the first poll tick
// completes, for deterministic test synchronization.
func (p *Producer) Ready() <-chan struct{} { return p.readyCh }

func (p *Producer) run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var readyOnce sync.Once
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
			readyOnce.Do(func() { close(p.readyCh) })
		}
	}
}

// poll implements the original's per-tick active/idle branch, preserving
// its exact streak bookkeeping and event-emission conditions.
func (p *Producer) poll() {
	idle := p.idleFn()
	now := time.Now().UTC()

	p.mu.Lock()
	windows := p.awayWindows
	pollSeconds := p.pollInterval.Seconds()

	if idle < pollSeconds {
		p.activeStreak += pollSeconds

		switch {
		case p.activeStreak >= p.streakThreshold && len(windows) > 0 && model.InAwayWindow(now, windows):
			event := model.NewEvent(model.SourceInputMonitor, model.CategoryUserInput, model.ActionActiveDuringAway)
			event.Detail["idle_seconds"] = idle
			event.Detail["streak_seconds"] = p.activeStreak
			event.Severity = string(model.SeverityMedium)
			// Reset streak after alerting to avoid repeated alerts for one
			// continuous activity streak.
			p.activeStreak = 0
			p.mu.Unlock()
			p.publish(event)
			return

		case p.activeStreak == pollSeconds:
			// First tick of a new activity streak.
			event := model.NewEvent(model.SourceInputMonitor, model.CategoryUserInput, model.ActionInputDetected)
			event.Detail["idle_seconds"] = idle
			p.mu.Unlock()
			p.publish(event)
			return
		}
		p.mu.Unlock()
		return
	}

	// Idle.
	lastStreak := p.activeStreak
	p.activeStreak = 0
	p.mu.Unlock()

	if lastStreak > 0 {
		event := model.NewEvent(model.SourceInputMonitor, model.CategoryUserInput, model.ActionIdleStarted)
		event.Detail["last_active_streak"] = lastStreak
		p.publish(event)
	}
}

func (p *Producer) publish(event model.TimelineEvent) {
	if err := p.bus.Publish(event); err != nil {
		p.logger.Warn("input producer: dropped event, bus backpressure", slog.Any("error", err))
	}
}
