// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects sync-server counters. Pass nil as the registerer to use
// the default Prometheus registry.
type Metrics struct {
	SyncRounds      prometheus.Counter
	Mutations       *prometheus.CounterVec
	SnapshotRecords prometheus.Counter
	LiveClients     prometheus.Gauge
}

// NewMetrics registers and returns the server metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncRounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_rounds_total",
			Help: "Completed POST /sync rounds.",
		}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_mutations_total",
			Help: "Mutations processed, by operation and outcome.",
		}, []string{"op", "outcome"}),
		SnapshotRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_snapshot_records_total",
			Help: "Records served in since-watermark snapshots.",
		}),
		LiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sync_live_clients",
			Help: "Currently connected live-event subscribers.",
		}),
	}
}

func (m *Metrics) observeMutation(op string, success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "applied"
	}
	m.Mutations.WithLabelValues(op, outcome).Inc()
}
