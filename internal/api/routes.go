package api

import (
	"context"
	"net/http"

	"shop-notification-service/internal/domain"
	"shop-notification-service/internal/repository"
	"shop-notification-service/internal/templates"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type SettingsLister interface {
	ListByType(ctx context.Context, t domain.SettingType) ([]domain.SettingRecord, error)
}

type TemplateLoader interface {
	Load(ctx context.Context) (templates.LoadResult, error)
}

type LogReader interface {
	Recent(ctx context.Context, limit int) ([]domain.DeliveryLogEntry, error)
}

type TransportResolver interface {
	Resolve(ctx context.Context) (domain.TransportConfig, error)
}

type Dispatcher interface {
	SendTemplate(ctx context.Context, templateID, recipient string, overrides map[string]string) domain.DispatchResult
	HandleEvent(ctx context.Context, eventType string, payload []byte) (domain.DispatchResult, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, exec repository.Execer, eventType string, payload any) (string, error)
}

// Deps are the collaborators behind the operator endpoints. Only DB and
// Gatherer are needed when Debug is false.
type Deps struct {
	DB         Pinger
	Gatherer   prometheus.Gatherer
	Debug      bool
	Settings   SettingsLister
	Templates  TemplateLoader
	Logs       LogReader
	Transport  TransportResolver
	Dispatcher Dispatcher
	Outbox     Enqueuer
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", Health(deps.DB))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	if deps.Debug {
		h := &debugHandler{deps: deps}
		r.Route("/debug", func(r chi.Router) {
			r.Get("/templates", h.listTemplates)
			r.Post("/templates/{id}/send", h.sendTemplate)
			r.Get("/logs", h.recentLogs)
			r.Get("/transport", h.transport)
			r.Post("/events/{type}", h.triggerEvent)
		})
	}
	return r
}

// Health reports whether the settings database is reachable.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK

		if err := db.Ping(r.Context()); err != nil {
			logError(r, err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		_ = writeJSON(w, code, envelope{"status": status})
	}
}
