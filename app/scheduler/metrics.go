package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Claim queue entries claimed by the dispatcher
	contactsClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_contacts_claimed_total",
			Help: "Total number of campaign contacts claimed for dialing",
		},
	)

	// Dials handed to the provider, partitioned by outcome of the placement itself
	callsPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_calls_placed_total",
			Help: "Total number of outbound call placements attempted",
		},
		[]string{"result"}, // "accepted", "rejected", "provider_error"
	)

	// Claim queue entries resolved to a terminal status
	contactsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialer_contacts_resolved_total",
			Help: "Total number of campaign contacts resolved to a terminal status",
		},
		[]string{"status"}, // "completed", "failed", "skipped"
	)

	// Claim queue entries returned for another attempt
	contactsRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_contacts_requeued_total",
			Help: "Total number of campaign contacts requeued for another attempt",
		},
	)

	// Stale in-flight entries reclaimed by the recovery sweep
	staleLeasesReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_stale_leases_reclaimed_total",
			Help: "Total number of stale in-flight claims returned to the queue",
		},
	)

	// Campaigns moved to completed by the reconciler
	campaignsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dialer_campaigns_completed_total",
			Help: "Total number of campaigns transitioned to completed",
		},
	)

	// Worker pool occupancy
	workerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dialer_worker_queue_depth",
			Help: "Number of claimed contacts waiting for a dial worker",
		},
	)

	workersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dialer_workers_busy",
			Help: "Number of dial workers currently placing a call",
		},
	)
)
