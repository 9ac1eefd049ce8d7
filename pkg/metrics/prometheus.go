package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewboard_admissions_total",
			Help: "Total admission decisions by policy and result",
		},
		[]string{"policy", "result"},
	)

	QuotaRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewboard_quota_rejections_total",
			Help: "Admission attempts rejected because the quota was already met",
		},
		[]string{"policy"},
	)

	OrdersFilledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crewboard_orders_filled_total",
			Help: "Orders that reached their quota and transitioned to a terminal status",
		},
		[]string{"policy"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crewboard_queue_depth",
			Help: "Live entries per worker type",
		},
		[]string{"worker_type"},
	)

	ReconcilerSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crewboard_reconciler_sweeps_total",
			Help: "Stale pending sweeps completed by the reconciler",
		},
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crewboard_outbox_pending",
			Help: "Order events waiting in the outbox",
		},
	)
)
