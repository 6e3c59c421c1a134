// Package metrics holds the Prometheus collectors of the defect server.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeblew999/plat-defects/internal/service"
)

var (
	once sync.Once

	// PageSessions is the number of live map page sessions.
	PageSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "defects",
		Subsystem: "map",
		Name:      "page_sessions",
		Help:      "Number of live map page sessions.",
	})

	// DefectEventsTotal counts defect mutations by action.
	DefectEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "defects",
		Subsystem: "api",
		Name:      "events_total",
		Help:      "Total number of defect change events, labeled by action.",
	}, []string{"action"})

	// ImportedTotal counts rows stored by bulk imports.
	ImportedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "defects",
		Subsystem: "api",
		Name:      "imported_rows_total",
		Help:      "Total number of defects stored by bulk uploads.",
	})

	// KafkaWriteErrorTotal counts failed event forwards.
	KafkaWriteErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "defects",
		Subsystem: "events",
		Name:      "kafka_write_error_total",
		Help:      "Total number of defect events that could not be written to Kafka.",
	})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			PageSessions,
			DefectEventsTotal,
			ImportedTotal,
			KafkaWriteErrorTotal,
		)
	})
}

// Observe counts the events published on bus until ctx is done.
func Observe(ctx context.Context, bus *service.EventBus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			DefectEventsTotal.WithLabelValues(e.Action).Inc()
			if e.Action == service.ActionImported {
				ImportedTotal.Add(float64(e.Count))
			}
		}
	}
}
