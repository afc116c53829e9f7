package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/birkenfeld/arexibo/internal/model"
)

const maxBodySize = 16 << 20

// Collector starts an out-of-schedule collection cycle.
type Collector interface {
	TriggerCollect()
}

// API groups the bridge handlers and their dependencies.
type API struct {
	hub       *Hub
	collector Collector
	feedback  chan<- model.Feedback
	validate  *validator.Validate
	logger    *slog.Logger
}

func New(hub *Hub, collector Collector, feedback chan<- model.Feedback, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{hub: hub, collector: collector, feedback: feedback, validate: validator.New(), logger: logger}
}

// Logger returns request logger used by HTTP middleware.
func (a *API) Logger() *slog.Logger {
	return a.logger
}

func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "displays": a.hub.Clients()})
}

// Collect triggers an immediate collection cycle.
func (a *API) Collect(w http.ResponseWriter, _ *http.Request) {
	a.collector.TriggerCollect()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

type shownPayload struct {
	LayoutID int64 `json:"layoutId" validate:"gte=0"`
}

// Shown records the layout the display currently shows.
func (a *API) Shown(w http.ResponseWriter, r *http.Request) {
	var payload shownPayload
	if !a.decode(w, r, &payload) {
		return
	}
	a.forward(w, r, model.Feedback{Kind: model.FeedbackShownLayout, LayoutID: payload.LayoutID})
}

type commandResultPayload struct {
	Success *bool `json:"success" validate:"required"`
}

func (a *API) CommandResult(w http.ResponseWriter, r *http.Request) {
	var payload commandResultPayload
	if !a.decode(w, r, &payload) {
		return
	}
	a.forward(w, r, model.Feedback{Kind: model.FeedbackCommandResult, Success: *payload.Success})
}

// Stats accepts a proof-of-play statistics XML document as request body.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r, "stats")
	if !ok {
		return
	}
	a.forward(w, r, model.Feedback{Kind: model.FeedbackStats, Stats: string(body)})
}

// Screenshot accepts the raw image bytes as request body.
func (a *API) Screenshot(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r, "screenshot")
	if !ok {
		return
	}
	a.forward(w, r, model.Feedback{Kind: model.FeedbackScreenshot, Screenshot: body})
}

func (a *API) readBody(w http.ResponseWriter, r *http.Request, what string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, what+"_too_large", "Body exceeds size limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_payload", "Could not read "+what)
		return nil, false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Empty "+what)
		return nil, false
	}
	return body, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return false
	}
	if err := a.validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return false
	}
	return true
}

func (a *API) forward(w http.ResponseWriter, r *http.Request, fb model.Feedback) {
	select {
	case a.feedback <- fb:
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
	case <-r.Context().Done():
		status := http.StatusServiceUnavailable
		if errors.Is(r.Context().Err(), context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, "player_busy", "Player did not accept feedback")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
