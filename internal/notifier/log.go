// Package notifier implements the three notifier backends described in
// spec.md §4.7: log, toast, and email. Each is ported from its
// agent/alerts/*.py counterpart, keeping the same severity-to-log-level
// mapping, the same injectable-function testing seam, and — deliberately —
// the same "first alert's severity" bug in the email subject line (Open
// Question 1: the original never fixed it, so neither does this port).
package notifier

import (
	"context"
	"log/slog"

	"github.com/abi50/pida/internal/model"
)

// severityLevel mirrors log_notifier.py's level map.
var severityLevel = map[model.Severity]slog.Level{
	model.SeverityInfo:     slog.LevelInfo,
	model.SeverityLow:      slog.LevelInfo,
	model.SeverityMedium:   slog.LevelWarn,
	model.SeverityHigh:     slog.LevelError,
	model.SeverityCritical: slog.LevelError + 4, // above Error; slog has no Critical level
}

// NewLogNotifier returns a dispatcher.Notifier that logs alert at a level
// derived from its severity, using logger (falling back to slog.Default()).
func NewLogNotifier(logger *slog.Logger) func(ctx context.Context, alert model.Alert) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, alert model.Alert) error {
		level, ok := severityLevel[alert.Severity]
		if !ok {
			level = slog.LevelInfo
		}
		logger.LogAttrs(ctx, level, alert.Message,
			slog.String("severity", string(alert.Severity)),
			slog.String("source", alert.Source),
			slog.String("alert_id", alert.ID),
		)
		return nil
	}
}
