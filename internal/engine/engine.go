// Package engine implements the timeline engine described in spec.md §4.5:
// it subscribes to the event bus, persists every event, evaluates rules
// R1-R4 against each one, persists any resulting alerts, and invokes an
// on-alert callback for dispatch.
//
// It is a direct port of agent/engine/timeline.py's TimelineEngine,
// including its rule bodies verbatim in semantics (same severities, same
// message templates, same away-window gating). Subscribe/unsubscribe uses
// bus.SubscriptionID rather than the original's direct callable identity
// (list.remove(self._handle_event)), since Go function values are not
// comparable — the one structural deviation the port requires.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/abi50/pida/internal/bus"
	"github.com/abi50/pida/internal/model"
)

// OnAlert is invoked once per generated alert, after it has been persisted.
// A returned error is logged and does not block persistence of subsequent
// alerts for the same event.
type OnAlert func(ctx context.Context, alert model.Alert) error

// Store is the subset of store.Store the engine needs, named here so the
// engine package does not import store directly (keeping the dependency
// direction producer/engine -> store one-way through main wiring).
type Store interface {
	InsertEvent(ctx context.Context, event model.TimelineEvent) error
	InsertAlert(ctx context.Context, alert model.Alert) error
}

// Engine persists TimelineEvents and evaluates correlation rules against
// them.
type Engine struct {
	bus     *bus.Bus
	store   Store
	onAlert OnAlert
	logger  *slog.Logger

	mu          sync.RWMutex
	awayWindows []model.AwayWindow

	subID bus.SubscriptionID
}

// New constructs an Engine. onAlert may be nil if no dispatch hook is
// needed (e.g. in tests exercising persistence only).
func New(b *bus.Bus, st Store, awayWindows []model.AwayWindow, onAlert OnAlert, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		bus:         b,
		store:       st,
		onAlert:     onAlert,
		logger:      logger,
		awayWindows: awayWindows,
	}
}

// Start subscribes the engine to the bus. Start is not idempotent in the
// same way bus.Start is: calling it twice registers two subscriptions. This
// matches the original's behavior, where start() is also only guarded at
// the Agent level, not within TimelineEngine itself.
func (e *Engine) Start() {
	e.subID = e.bus.Subscribe(e.handleEvent)
	e.logger.Info("timeline engine started")
}

// Stop unsubscribes the engine from the bus.
func (e *Engine) Stop() {
	e.bus.Unsubscribe(e.subID)
	e.logger.Info("timeline engine stopped")
}

// SetAwayWindows atomically replaces the away windows used to evaluate
// R1/R4's away-window gating.
func (e *Engine) SetAwayWindows(windows []model.AwayWindow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.awayWindows = windows
}

func (e *Engine) handleEvent(ctx context.Context, event model.TimelineEvent) error {
	if err := e.store.InsertEvent(ctx, event); err != nil {
		e.logger.Error("engine: failed to persist event", slog.String("event_id", event.ID), slog.Any("error", err))
	}

	alerts := e.evaluate(event)
	for _, alert := range alerts {
		if err := e.store.InsertAlert(ctx, alert); err != nil {
			e.logger.Error("engine: failed to persist alert", slog.String("alert_id", alert.ID), slog.Any("error", err))
		}
		if e.onAlert != nil {
			if err := e.onAlert(ctx, alert); err != nil {
				e.logger.Error("engine: on_alert callback failed", slog.String("alert_id", alert.ID), slog.Any("error", err))
			}
		}
	}
	return nil
}

var fileActions = map[model.Action]bool{
	model.ActionFileCreated:  true,
	model.ActionFileModified: true,
	model.ActionFileDeleted:  true,
	model.ActionFileRenamed:  true,
	model.ActionFileMoved:    true,
}

// evaluate runs rules R1-R4 against event and returns any alerts they
// produce. A single event may match more than one rule.
func (e *Engine) evaluate(event model.TimelineEvent) []model.Alert {
	var alerts []model.Alert

	e.mu.RLock()
	windows := e.awayWindows
	e.mu.RUnlock()

	inAway := len(windows) > 0 && model.InAwayWindow(event.Timestamp, windows)

	// R1: file change during away window -> HIGH.
	if fileActions[event.Action] && inAway {
		alerts = append(alerts, model.NewAlert(
			model.SeverityHigh,
			fmt.Sprintf("File %s during away window: %s", event.Action, event.Target),
			string(event.Source),
			map[string]any{"event_id": event.ID, "target": event.Target},
		))
	}

	// R2: active input during away window -> MEDIUM.
	if event.Action == model.ActionActiveDuringAway {
		detail := mergeDetail(event.Detail, event.ID)
		alerts = append(alerts, model.NewAlert(
			model.SeverityMedium,
			"Keyboard/mouse activity detected during away window",
			string(event.Source),
			detail,
		))
	}

	// R3: failed login, any time -> HIGH.
	if event.Action == model.ActionLoginFailed {
		detail := mergeDetail(event.Detail, event.ID)
		alerts = append(alerts, model.NewAlert(
			model.SeverityHigh,
			"Failed login attempt detected",
			string(event.Source),
			detail,
		))
	}

	// R4: RDP session during away window -> CRITICAL.
	if event.Action == model.ActionSessionRDP && inAway {
		detail := mergeDetail(event.Detail, event.ID)
		alerts = append(alerts, model.NewAlert(
			model.SeverityCritical,
			"Remote Desktop session during away window",
			string(event.Source),
			detail,
		))
	}

	return alerts
}

// mergeDetail copies src and adds event_id, matching the original's
// {"event_id": event.id, **event.detail} construction (I1).
func mergeDetail(src map[string]any, eventID string) map[string]any {
	out := make(map[string]any, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out["event_id"] = eventID
	return out
}
