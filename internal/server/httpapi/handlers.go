package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abi50/pida/internal/model"
	"github.com/abi50/pida/internal/store"
)

// AwayWindowSetter is implemented by every component that must learn about
// away-window changes made through the API (the input producer and the
// timeline engine).
type AwayWindowSetter interface {
	SetAwayWindows(windows []model.AwayWindow)
}

// Server holds the dependencies needed by the HTTP handlers.
type Server struct {
	store        Store
	awaySetters  []AwayWindowSetter
	wsClientCount func() int
}

// NewServer constructs a Server. awaySetters are notified whenever
// POST /api/config/away-windows succeeds, so a live config change takes
// effect without restarting the agent. wsClientCount reports the current
// number of connected WebSocket clients for GET /api/status.
func NewServer(st Store, wsClientCount func() int, awaySetters ...AwayWindowSetter) *Server {
	if wsClientCount == nil {
		wsClientCount = func() int { return 0 }
	}
	return &Server{store: st, awaySetters: awaySetters, wsClientCount: wsClientCount}
}

// handleHealthz responds to GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetStatus responds to GET /api/status.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "running",
		"websocket_clients":  s.wsClientCount(),
	})
}

// handleGetTimeline responds to GET /api/timeline.
//
// Supported query parameters: category, action, since (RFC3339), limit
// (default 200, max 1000), offset (default 0).
func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.EventFilter
	if v := q.Get("category"); v != "" {
		c := model.Category(v)
		filter.Category = &c
	}
	if v := q.Get("action"); v != "" {
		a := model.Action(v)
		filter.Action = &a
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "'since' must be a valid RFC3339 timestamp")
			return
		}
		filter.Since = &since
	}

	limit, err := parseLimit(q.Get("limit"), 200, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOffset(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.store.GetEvents(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query timeline")
		return
	}
	if events == nil {
		events = []model.TimelineEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// handleGetTimelineEvent responds to GET /api/timeline/{event_id}.
func (s *Server) handleGetTimelineEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "event_id")
	event, err := s.store.GetEventByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query event")
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// handleGetAlerts responds to GET /api/alerts.
//
// Supported query parameters: severity, acknowledged (bool), limit
// (default 50, max 500), offset (default 0).
func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.AlertFilter
	if v := q.Get("severity"); v != "" {
		sev := model.Severity(v)
		if !model.ValidSeverity(sev) {
			writeError(w, http.StatusBadRequest, "'severity' must be one of INFO, LOW, MEDIUM, HIGH, CRITICAL")
			return
		}
		filter.Severity = &sev
	}
	if v := q.Get("acknowledged"); v != "" {
		ack, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "'acknowledged' must be a boolean")
			return
		}
		filter.Acknowledged = &ack
	}

	limit, err := parseLimit(q.Get("limit"), 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOffset(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := s.store.GetAlerts(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// handleGetAlert responds to GET /api/alerts/{alert_id}.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alert_id")
	alert, err := s.store.GetAlertByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query alert")
		return
	}
	if alert == nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleAcknowledgeAlert responds to POST /api/alerts/{alert_id}/acknowledge.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alert_id")
	ok, err := s.store.AcknowledgeAlert(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

type snoozeBody struct {
	Hours float64 `json:"hours"`
}

// handleSnoozeAlert responds to POST /api/alerts/{alert_id}/snooze.
func (s *Server) handleSnoozeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alert_id")

	body := snoozeBody{Hours: 1.0}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Hours <= 0 {
		writeError(w, http.StatusBadRequest, "'hours' must be positive")
		return
	}

	until := time.Now().UTC().Add(time.Duration(body.Hours * float64(time.Hour)))
	ok, err := s.store.SnoozeAlert(r.Context(), id, until)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to snooze alert")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "snoozed", "until": until.Format(time.RFC3339)})
}

const settingKeyFolders = "monitored_folders"
const settingKeyAwayWindows = "away_windows"
const settingKeyAlertConfig = "alert_config"

// handleGetAlertConfig responds to GET /api/config/alerts.
func (s *Server) handleGetAlertConfig(w http.ResponseWriter, r *http.Request) {
	raw, ok, err := s.store.GetSetting(r.Context(), settingKeyAlertConfig)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read alert config")
		return
	}
	if !ok || raw == "" {
		writeJSON(w, http.StatusOK, defaultAlertConfigJSON())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(raw))
}

// handleSetAlertConfig responds to POST /api/config/alerts.
func (s *Server) handleSetAlertConfig(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert config")
		return
	}
	if err := s.store.SetSetting(r.Context(), settingKeyAlertConfig, string(raw)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save alert config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func defaultAlertConfigJSON() map[string]string {
	return map[string]string{
		"log_threshold":   "INFO",
		"toast_threshold": "MEDIUM",
		"email_threshold": "HIGH",
	}
}

// handleGetFolders responds to GET /api/config/folders.
func (s *Server) handleGetFolders(w http.ResponseWriter, r *http.Request) {
	folders := []model.MonitoredFolder{}
	if err := s.getSettingJSON(r, settingKeyFolders, &folders); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read folder config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// handleSetFolders responds to POST /api/config/folders.
func (s *Server) handleSetFolders(w http.ResponseWriter, r *http.Request) {
	var folders []model.MonitoredFolder
	if err := json.NewDecoder(r.Body).Decode(&folders); err != nil {
		writeError(w, http.StatusBadRequest, "invalid folder list")
		return
	}
	if err := s.setSettingJSON(r, settingKeyFolders, folders); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save folder config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "count": len(folders)})
}

// handleGetAwayWindows responds to GET /api/config/away-windows.
func (s *Server) handleGetAwayWindows(w http.ResponseWriter, r *http.Request) {
	windows := []model.AwayWindow{}
	if err := s.getSettingJSON(r, settingKeyAwayWindows, &windows); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read away window config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

// handleSetAwayWindows responds to POST /api/config/away-windows. On
// success it pushes the new window set to every registered
// AwayWindowSetter (the input producer and the timeline engine) so the
// change takes effect immediately, without an agent restart. A window with
// a day outside 0-6, an hour outside 0-23 or a minute outside 0-59 is
// rejected with 400 and nothing is saved or pushed.
func (s *Server) handleSetAwayWindows(w http.ResponseWriter, r *http.Request) {
	var windows []model.AwayWindow
	if err := json.NewDecoder(r.Body).Decode(&windows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid away window list")
		return
	}
	for _, win := range windows {
		valid := win.StartHour >= 0 && win.StartHour <= 23 && win.EndHour >= 0 && win.EndHour <= 23 &&
			win.StartMinute >= 0 && win.StartMinute <= 59 && win.EndMinute >= 0 && win.EndMinute <= 59
		for _, d := range win.Days {
			if d < 0 || d > 6 {
				valid = false
			}
		}
		if !valid {
			writeError(w, http.StatusBadRequest, "away window days must be 0-6, hours 0-23 and minutes 0-59")
			return
		}
	}
	if err := s.setSettingJSON(r, settingKeyAwayWindows, windows); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save away window config")
		return
	}
	for _, setter := range s.awaySetters {
		setter.SetAwayWindows(windows)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "count": len(windows)})
}

// getSettingJSON decodes the JSON stored under key into dest, a pointer to
// the caller's already-defaulted (typically empty-slice) value. A missing
// setting leaves dest untouched.
func (s *Server) getSettingJSON(r *http.Request, key string, dest any) error {
	raw, ok, err := s.store.GetSetting(r.Context(), key)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (s *Server) setSettingJSON(r *http.Request, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.store.SetSetting(r.Context(), key, string(raw))
}

func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidParam("limit", "a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func parseOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errInvalidParam("offset", "a non-negative integer")
	}
	return n, nil
}

func errInvalidParam(name, want string) error {
	return &invalidParamError{name: name, want: want}
}

type invalidParamError struct {
	name, want string
}

func (e *invalidParamError) Error() string {
	return "'" + e.name + "' must be " + e.want
}
