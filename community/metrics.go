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

package community

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// communityMetrics is nil when no registry is configured. Every method is
// safe to call on a nil receiver.
type communityMetrics struct {
	messages           *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	repeatedRejections *prometheus.CounterVec
	evictions          *prometheus.CounterVec
	resolved           *prometheus.CounterVec
	members            prometheus.Gauge
	proposals          prometheus.Gauge
	knowledge          prometheus.Gauge
	collective         prometheus.Gauge
}

func newCommunityMetrics(promRegistry prometheus.Registerer) *communityMetrics {
	if promRegistry == nil {
		return nil
	}
	promautoFactory := promauto.With(promRegistry)
	return &communityMetrics{
		messages: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sangha_messages_total",
				Help: "accepted inbound messages by kind",
			},
			[]string{"kind"},
		),
		rejections: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sangha_rejections_total",
				Help: "rejected inbound messages by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		repeatedRejections: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sangha_repeated_rejections_total",
				Help: "rejections repeated by the same identity",
			},
			[]string{"reason"},
		),
		evictions: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sangha_evictions_total",
				Help: "entries evicted to make room, by collection",
			},
			[]string{"collection"},
		),
		resolved: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sangha_proposals_resolved_total",
				Help: "proposals finalized by outcome",
			},
			[]string{"state"},
		),
		members: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "sangha_members",
			Help: "current number of members",
		}),
		proposals: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "sangha_proposals",
			Help: "current number of stored proposals",
		}),
		knowledge: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "sangha_knowledge_entries",
			Help: "current number of knowledge entries",
		}),
		collective: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "sangha_collective_consciousness",
			Help: "collective consciousness level of the community",
		}),
	}
}

func (m *communityMetrics) message(kind MessageKind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(kind)).Inc()
}

func (m *communityMetrics) rejection(kind MessageKind, reason Reason) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(string(kind), string(reason)).Inc()
}

func (m *communityMetrics) repeated(reason Reason) {
	if m == nil {
		return
	}
	m.repeatedRejections.WithLabelValues(string(reason)).Inc()
}

func (m *communityMetrics) eviction(collection string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(collection).Inc()
}

func (m *communityMetrics) resolution(state string) {
	if m == nil {
		return
	}
	m.resolved.WithLabelValues(state).Inc()
}

func (m *communityMetrics) sizes(members, proposals, entries int, collective float64) {
	if m == nil {
		return
	}
	m.members.Set(float64(members))
	m.proposals.Set(float64(proposals))
	m.knowledge.Set(float64(entries))
	m.collective.Set(collective)
}
