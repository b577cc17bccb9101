// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package muxer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagemux/stagemux/pkg/private/prom"
)

// Results of a rule operation as reported in stagemux_rules_total.
const (
	ResultInstalled = "installed"
	ResultRemoved   = "removed"
	ResultInvalid   = "invalid"
	ResultSinkError = "sink_error"
)

// Metrics are the compiler metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	RulesTotal   *prometheus.CounterVec
	EntriesTotal *prometheus.CounterVec
	BatchSize    prometheus.Histogram
	Instances    prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg. If reg is nil,
// the metrics are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RulesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagemux_rules_total",
				Help: "Total number of rule operations by result.",
			},
			[]string{prom.LabelResult},
		),
		EntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stagemux_entries_total",
				Help: "Total number of table entries installed by table kind.",
			},
			[]string{prom.LabelKind},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stagemux_batch_entries",
				Help:    "Number of entries per installed batch.",
				Buckets: prom.BatchSizeBuckets,
			},
		),
		Instances: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "stagemux_instances",
				Help: "Number of started instances.",
			},
		),
	}
}

func (m *Metrics) rule(result string) {
	if m == nil {
		return
	}
	m.RulesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) entries(b Batch) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(len(b.Entries)))
	for _, e := range b.Entries {
		kind := "fixed"
		if k, ok := e.Kind(); ok {
			kind = k.String()
		}
		m.EntriesTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) instance(delta float64) {
	if m == nil {
		return
	}
	m.Instances.Add(delta)
}
