package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"shop-notification-service/internal/deliverylog"
	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/mailconfig"

	"github.com/go-chi/chi/v5"
)

const maxLogLimit = 500

type debugHandler struct {
	deps Deps
}

type rejectedTemplate struct {
	SettingKey string `json:"setting_key"`
	Error      string `json:"error"`
}

func (h *debugHandler) listTemplates(w http.ResponseWriter, r *http.Request) {
	rows, err := h.deps.Settings.ListByType(r.Context(), domain.SettingEmailTemplate)
	if err != nil {
		serverErrorResponse(w, r, err)
		return
	}
	loaded, err := h.deps.Templates.Load(r.Context())
	if err != nil {
		serverErrorResponse(w, r, err)
		return
	}

	rejected := make([]rejectedTemplate, 0, len(loaded.Rejected))
	for _, pe := range loaded.Rejected {
		rejected = append(rejected, rejectedTemplate{SettingKey: pe.SettingKey, Error: pe.Error()})
	}
	parsed := loaded.Templates
	if parsed == nil {
		parsed = []domain.Template{}
	}
	_ = writeJSON(w, http.StatusOK, envelope{
		"raw":       rows,
		"templates": parsed,
		"rejected":  rejected,
	})
}

type sendRequest struct {
	Recipient string            `json:"recipient"`
	Variables map[string]string `json:"variables"`
}

func (h *debugHandler) sendTemplate(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := readJSON(w, r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Recipient == "" {
		errorResponse(w, r, http.StatusBadRequest, "recipient is required")
		return
	}

	res := h.deps.Dispatcher.SendTemplate(r.Context(), chi.URLParam(r, "id"), req.Recipient, req.Variables)
	status := http.StatusOK
	switch res.Reason {
	case domain.ReasonTemplateNotFound:
		status = http.StatusNotFound
	case domain.ReasonStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	_ = writeJSON(w, status, res)
}

func (h *debugHandler) recentLogs(w http.ResponseWriter, r *http.Request) {
	limit := deliverylog.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries, err := h.deps.Logs.Recent(r.Context(), limit)
	if err != nil {
		serverErrorResponse(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.DeliveryLogEntry{}
	}
	_ = writeJSON(w, http.StatusOK, envelope{"logs": entries})
}

func (h *debugHandler) transport(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.Transport.Resolve(r.Context())
	switch {
	case err == nil:
		_ = writeJSON(w, http.StatusOK, envelope{"configured": true, "config": cfg.Masked()})
	case mailconfig.IsConfigError(err):
		_ = writeJSON(w, http.StatusOK, envelope{"configured": false, "error": err.Error()})
	default:
		serverErrorResponse(w, r, err)
	}
}

// triggerEvent runs the trigger for a raw payload. With ?async=true the event
// is queued in the outbox instead.
func (h *debugHandler) triggerEvent(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "type")
	if !domain.EventKey(eventType).Valid() {
		errorResponse(w, r, http.StatusNotFound, "unknown event type")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("async") == "true" {
		id, err := h.deps.Outbox.Enqueue(r.Context(), nil, eventType, payload)
		if err != nil {
			errorResponse(w, r, http.StatusBadRequest, err.Error())
			return
		}
		_ = writeJSON(w, http.StatusAccepted, envelope{"outbox_id": id})
		return
	}

	res, err := h.deps.Dispatcher.HandleEvent(r.Context(), eventType, payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEvent) {
			errorResponse(w, r, http.StatusNotFound, err.Error())
			return
		}
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	_ = writeJSON(w, http.StatusOK, res)
}
