package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abi50/pida/internal/model"
)

// ToastFunc displays a single desktop notification. It is the injectable
// capability the original calls notify_fn — this port has no bundled
// desktop-toast library in its dependency set (no pack example wraps one),
// so production wiring supplies a platform-specific ToastFunc and tests
// supply a stub; NewToastNotifier itself stays platform-agnostic.
type ToastFunc func(title, message string) error

// NewToastNotifier returns a dispatcher.Notifier that calls show for every
// alert. A nil ToastFunc logs the alert contents instead of erroring, a
// reasonable degrade-to-log rather than silently dropping the alert.
func NewToastNotifier(show ToastFunc, logger *slog.Logger) func(ctx context.Context, alert model.Alert) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, alert model.Alert) error {
		title := fmt.Sprintf("PIDA Alert [%s]", alert.Severity)
		if show == nil {
			logger.Warn("toast notifier: no backend configured, logging instead",
				slog.String("title", title), slog.String("message", alert.Message))
			return nil
		}
		return show(title, alert.Message)
	}
}
