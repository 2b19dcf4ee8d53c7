// internal/metrics/metrics.go - Prometheus instrumentation for tile scheduling
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rastertiles"

// Metrics groups the collectors updated by the scheduler and renderer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsScheduled   prometheus.Counter
	JobsCancelled   prometheus.Counter
	JobsFailed      prometheus.Counter
	ImagesInstalled prometheus.Counter
	JobsInFlight    prometheus.Gauge
	CachedImages    prometheus.Gauge
	SelectedLevel   prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		JobsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_scheduled_total",
			Help:      "Tile image creation jobs submitted to the worker pool.",
		}),
		JobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Queued tile image creation jobs removed before running.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Tile image creation attempts that ended in an error.",
		}),
		ImagesInstalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_installed_total",
			Help:      "Tile images installed into the image cache.",
		}),
		JobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Tiles with an outstanding creation job.",
		}),
		CachedImages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_images",
			Help:      "Tile images currently held by the image cache.",
		}),
		SelectedLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_level",
			Help:      "Pyramid level chosen for the last rendered frame.",
		}),
	}

	collectors := []prometheus.Collector{
		m.JobsScheduled, m.JobsCancelled, m.JobsFailed, m.ImagesInstalled,
		m.JobsInFlight, m.CachedImages, m.SelectedLevel,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Scheduled records submitted jobs
func (m *Metrics) Scheduled(n int) {
	if m == nil {
		return
	}
	m.JobsScheduled.Add(float64(n))
}

// Cancelled records jobs removed from the queue
func (m *Metrics) Cancelled(n int) {
	if m == nil {
		return
	}
	m.JobsCancelled.Add(float64(n))
}

// Failed records a failed creation attempt
func (m *Metrics) Failed() {
	if m == nil {
		return
	}
	m.JobsFailed.Inc()
}

// Installed records an image install
func (m *Metrics) Installed() {
	if m == nil {
		return
	}
	m.ImagesInstalled.Inc()
}

// SetInFlight reports the size of the job map
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.JobsInFlight.Set(float64(n))
}

// SetCached reports the size of the image cache
func (m *Metrics) SetCached(n int) {
	if m == nil {
		return
	}
	m.CachedImages.Set(float64(n))
}

// SetLevel reports the level chosen for a frame
func (m *Metrics) SetLevel(level int) {
	if m == nil {
		return
	}
	m.SelectedLevel.Set(float64(level))
}
