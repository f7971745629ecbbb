/*
Copyright The Ratify Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes replication progress as prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imagesync"

// Recorder records replication metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	runs        *prometheus.CounterVec
	items       *prometheus.CounterVec
	duration    prometheus.Histogram
	lastRun     prometheus.Gauge
}

// NewRecorder returns a recorder with the replication metrics and the Go
// runtime collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_transitions_total",
			Help:      "Work item state transitions.",
		}, []string{"state", "attempt"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished replication runs by status.",
		}, []string{"status"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Work items of finished runs by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of replication runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Time the last replication run finished.",
		}),
	}
	r.registry.MustRegister(
		r.transitions,
		r.runs,
		r.items,
		r.duration,
		r.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ItemTransition counts a work item entering state on the given attempt.
func (r *Recorder) ItemTransition(state string, attempt int) {
	r.transitions.WithLabelValues(state, strconv.Itoa(attempt)).Inc()
}

// RunFinished records a finished run.
func (r *Recorder) RunFinished(status string, succeeded, failed, skipped int, elapsed time.Duration) {
	r.runs.WithLabelValues(status).Inc()
	r.items.WithLabelValues("succeeded").Add(float64(succeeded))
	r.items.WithLabelValues("failed").Add(float64(failed))
	r.items.WithLabelValues("skipped").Add(float64(skipped))
	r.duration.Observe(elapsed.Seconds())
	r.lastRun.SetToCurrentTime()
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns the HTTP handler serving the metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
