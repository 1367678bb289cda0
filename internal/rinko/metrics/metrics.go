// Package metrics exposes Rinko's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements the observer interfaces of the workflow, monitor,
// cache and nlp packages on top of one registry.
type Recorder struct {
	reg *prometheus.Registry

	workflows        *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	monitors         *prometheus.CounterVec
	monitorRetries   prometheus.Counter
	cacheRefreshes   *prometheus.CounterVec
	cacheEntries     prometheus.Gauge
	classifyDuration *prometheus.HistogramVec
	inbound          *prometheus.CounterVec
}

// New returns a Recorder with its own registry, which also carries the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		workflows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rinko_workflow_total",
				Help: "Finished workflows by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),
		callbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rinko_callback_total",
				Help: "Handled button presses by action",
			},
			[]string{"action"},
		),
		monitors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rinko_monitor_total",
				Help: "Finished redownload monitors by outcome",
			},
			[]string{"outcome"},
		),
		monitorRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "rinko_monitor_retries_total",
			Help: "Searches re-issued by redownload monitors",
		}),
		cacheRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rinko_cache_refresh_total",
				Help: "Series cache refreshes by result",
			},
			[]string{"result"},
		),
		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "rinko_cache_entries",
			Help: "Series in the current cache snapshot",
		}),
		classifyDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rinko_classify_duration_seconds",
				Help:    "Duration of classifier calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		inbound: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rinko_inbound_total",
				Help: "Inbound chat events by transport and kind",
			},
			[]string{"transport", "kind"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// WorkflowFinished counts one routed intent.
func (r *Recorder) WorkflowFinished(intent, outcome string) {
	r.workflows.WithLabelValues(intent, outcome).Inc()
}

// CallbackHandled counts one button press.
func (r *Recorder) CallbackHandled(action string) {
	r.callbacks.WithLabelValues(action).Inc()
}

// MonitorRetried counts a re-issued search.
func (r *Recorder) MonitorRetried() { r.monitorRetries.Inc() }

// MonitorFinished counts a finished monitor.
func (r *Recorder) MonitorFinished(outcome string) {
	r.monitors.WithLabelValues(outcome).Inc()
}

// CacheRefreshed counts a refresh and, when it produced data, records the
// snapshot size.
func (r *Recorder) CacheRefreshed(result string, entries int) {
	r.cacheRefreshes.WithLabelValues(result).Inc()
	if entries > 0 {
		r.cacheEntries.Set(float64(entries))
	}
}

// ObserveClassify records one classifier call.
func (r *Recorder) ObserveClassify(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.classifyDuration.WithLabelValues(status).Observe(d.Seconds())
}

// InboundReceived counts one event from a transport. kind is "message",
// "command" or "callback".
func (r *Recorder) InboundReceived(transport, kind string) {
	r.inbound.WithLabelValues(transport, kind).Inc()
}
