package httpapi

import (
	"context"
	"time"

	"github.com/abi50/pida/internal/model"
	"github.com/abi50/pida/internal/store"
)

// Store is the subset of store.Store the HTTP API needs. Declaring it here
// (rather than depending on *store.Store directly) follows the teacher's
// internal/server/rest.Store seam, which exists so handler tests can supply
// an in-memory fake.
type Store interface {
	GetEvents(ctx context.Context, filter store.EventFilter, limit, offset int) ([]model.TimelineEvent, error)
	GetEventByID(ctx context.Context, id string) (*model.TimelineEvent, error)
	GetAlerts(ctx context.Context, filter store.AlertFilter, limit, offset int) ([]model.Alert, error)
	GetAlertByID(ctx context.Context, id string) (*model.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) (bool, error)
	SnoozeAlert(ctx context.Context, id string, until time.Time) (bool, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}
