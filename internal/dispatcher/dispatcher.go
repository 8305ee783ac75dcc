// Package dispatcher implements the alert dispatcher described in
// spec.md §4.6: it routes each alert to every notifier whose configured
// severity threshold the alert meets or exceeds (I3), isolating one
// notifier's failure from the others.
//
// Ported from agent/alerts/dispatcher.py's AlertDispatcher: an ordered list
// of (threshold, notifier) routes, each alert compared against every route
// via the severity lattice.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/abi50/pida/internal/model"
)

// Notifier delivers a single alert. A returned error is logged and does not
// stop dispatch to other notifiers (P9-equivalent isolation for the
// dispatch stage).
type Notifier func(ctx context.Context, alert model.Alert) error

type route struct {
	threshold model.Severity
	name      string
	notifier  Notifier
}

// Dispatcher routes alerts to notifiers by severity threshold.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.RWMutex
	routes []route
}

// New constructs an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// AddRoute registers notifier to receive every alert whose severity ranks
// at or above threshold. name identifies the notifier in logs.
func (d *Dispatcher) AddRoute(threshold model.Severity, name string, notifier Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{threshold: threshold, name: name, notifier: notifier})
}

// Dispatch routes alert to every matching notifier, in registration order,
// sequentially. A notifier failure is logged and does not prevent the next
// notifier from running.
func (d *Dispatcher) Dispatch(ctx context.Context, alert model.Alert) {
	d.mu.RLock()
	routes := make([]route, len(d.routes))
	copy(routes, d.routes)
	d.mu.RUnlock()

	level := alert.Severity.Rank()
	for _, r := range routes {
		if level < r.threshold.Rank() {
			continue
		}
		if err := r.notifier(ctx, alert); err != nil {
			d.logger.Error("dispatcher: notifier failed",
				slog.String("notifier", r.name),
				slog.String("alert_id", alert.ID),
				slog.Any("error", err),
			)
		}
	}
}
