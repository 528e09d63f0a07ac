// Package metrics records run statistics as Prometheus metrics. Runs are
// short-lived, so instead of serving /metrics the registry is written to a
// textfile for node_exporter's textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"listing-watcher/models"
	"listing-watcher/services"
	"listing-watcher/utils"
)

const namespace = "listing_watcher"

// Recorder is a services.Observer backed by a private registry.
type Recorder struct {
	registry *prometheus.Registry
	path     string
	logger   *utils.Logger

	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
	LastRunTime prometheus.Gauge
	Fetched     prometheus.Gauge
	Tracked     prometheus.Gauge
	Excluded    *prometheus.CounterVec
	Changes     *prometheus.CounterVec
	Chunks      *prometheus.CounterVec
}

var _ services.Observer = (*Recorder)(nil)

// NewRecorder registers the metrics. When path is empty nothing is written
// to disk.
func NewRecorder(path string, logger *utils.Logger) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		path:     path,
		logger:   logger,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed runs by mode and result",
		}, []string{"mode", "result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		LastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		Fetched: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listings_fetched",
			Help:      "Listings returned by the source in the last run",
		}),
		Tracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listings_tracked",
			Help:      "Listings tracked after the last run",
		}),
		Excluded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_excluded_total",
			Help:      "Listings suppressed by exclusion rules",
		}, []string{"rule_kind"}),
		Changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Classified listings by change kind",
		}, []string{"kind"}),
		Chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Message chunks handed to the dispatcher",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) RunStarted(string, string) {}

func (r *Recorder) ListingsFetched(count int) {
	r.Fetched.Set(float64(count))
}

func (r *Recorder) ListingExcluded(_ models.Listing, kind models.ExclusionKind) {
	r.Excluded.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) ListingClassified(kind services.ChangeKind, _ models.Listing) {
	r.Changes.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) ChunkDispatched(_, _ int, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	r.Chunks.WithLabelValues(result).Inc()
}

func (r *Recorder) RunFinished(s services.RunSummary, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.RunsTotal.WithLabelValues(s.Mode, result).Inc()
	r.RunDuration.Observe(s.Duration.Seconds())
	r.LastRunTime.SetToCurrentTime()
	r.Tracked.Set(float64(s.Tracked))

	if werr := r.Flush(); werr != nil {
		r.logger.Warn("[metrics] could not write textfile", "path", r.path, "error", werr)
	}
}

// Flush writes the registry to the configured textfile.
func (r *Recorder) Flush() error {
	if r.path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.path, r.registry)
}
