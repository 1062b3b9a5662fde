package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the notification collectors.
type Metrics struct {
	dispatches   *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	outbox       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notification",
			Name:      "dispatch_total",
			Help:      "Notification dispatch attempts by event and outcome.",
		}, []string{"event", "outcome"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notification",
			Name:      "smtp_send_duration_seconds",
			Help:      "Duration of SMTP send calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"result"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notification",
			Name:      "outbox_processed_total",
			Help:      "Outbox records processed by final state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.dispatches, m.sendDuration, m.outbox)
	return m
}

// ObserveDispatch counts one dispatch outcome. outcome is "sent", "failed",
// "pending" or a non-delivery reason.
func (m *Metrics) ObserveDispatch(event, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveSend(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sendDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveOutbox(state string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(state).Inc()
}
