package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	PrescriptionsCreated *prometheus.CounterVec // by initial status
	Completions          prometheus.Counter
	CompletionFailures   *prometheus.CounterVec // by reason
	CompletionRetries    prometheus.Counter
	Cancellations        prometheus.Counter
	StatusOverrides      prometheus.Counter
	UnitsDispensed       prometheus.Counter
	LowStockAlerts       prometheus.Counter
	CompletionLatencySec prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_prescriptions_created_total",
		Help: "Prescriptions created, by initial status.",
	}, []string{"status"})
	completions := prometheus.NewCounter(prometheus.CounterOpts{Name: "pharmacy_prescriptions_completed_total", Help: "Prescriptions completed with stock deducted."})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_completion_failures_total",
		Help: "Rejected or aborted completions, by reason.",
	}, []string{"reason"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "pharmacy_completion_retries_total", Help: "Completion attempts retried after a conflict."})
	cancels := prometheus.NewCounter(prometheus.CounterOpts{Name: "pharmacy_prescriptions_cancelled_total", Help: "Prescriptions cancelled."})
	overrides := prometheus.NewCounter(prometheus.CounterOpts{Name: "pharmacy_status_overrides_total", Help: "Administrative status overrides."})
	dispensed := prometheus.NewCounter(prometheus.CounterOpts{Name: "pharmacy_units_dispensed_total", Help: "Units deducted from stock by completions."})
	lowStock := prometheus.NewCounter(prometheus.CounterOpts{Name: "pharmacy_low_stock_alerts_total", Help: "Medicines that fell to or below their reorder level."})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pharmacy_completion_latency_seconds",
		Help:    "Time to complete a prescription, retries included.",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(created, completions, failures, retries, cancels, overrides, dispensed, lowStock, latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:                  r,
		PrescriptionsCreated: created,
		Completions:          completions,
		CompletionFailures:   failures,
		CompletionRetries:    retries,
		Cancellations:        cancels,
		StatusOverrides:      overrides,
		UnitsDispensed:       dispensed,
		LowStockAlerts:       lowStock,
		CompletionLatencySec: latency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
