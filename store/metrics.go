// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by the backends. A nil *Metrics records nothing.
type Metrics struct {
	saves        *prometheus.CounterVec
	errors       *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
	snapshotSize *prometheus.GaugeVec
}

func NewMetrics(promRegistry prometheus.Registerer) *Metrics {
	if promRegistry == nil {
		return nil
	}
	promautoFactory := promauto.With(promRegistry)
	return &Metrics{
		saves: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sangha_store_saves_total",
				Help: "snapshots saved",
			},
			[]string{"backend"},
		),
		errors: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sangha_store_errors_total",
				Help: "failed store operations",
			},
			[]string{"backend", "op"},
		),
		saveDuration: promautoFactory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sangha_store_save_duration_seconds",
				Help:    "time taken to save a snapshot",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		snapshotSize: promautoFactory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sangha_store_snapshot_bytes",
				Help: "size of the last saved snapshot",
			},
			[]string{"backend"},
		),
	}
}

// Saved records a successful save of size bytes that started at start
func (m *Metrics) Saved(backend string, size int, start time.Time) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(backend).Inc()
	m.saveDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	m.snapshotSize.WithLabelValues(backend).Set(float64(size))
}

func (m *Metrics) Failed(backend, op string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(backend, op).Inc()
}
