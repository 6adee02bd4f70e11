package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cipherswarm_agents_total",
			Help: "Total number of agents by state",
		},
		[]string{"state"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cipherswarm_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	CampaignsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cipherswarm_campaigns_total",
			Help: "Total number of campaigns by priority",
		},
		[]string{"priority"},
	)

	// Cracking metrics
	HashesCrackedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherswarm_hashes_cracked_total",
			Help: "Total number of hashes cracked",
		},
	)

	CrackPropagationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherswarm_crack_propagations_total",
			Help: "Total number of cracks propagated to sibling hash lists",
		},
	)

	// Scheduling metrics
	TasksAssignedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherswarm_tasks_assigned_total",
			Help: "Total number of tasks handed to agents by assignment rule",
		},
		[]string{"rule"},
	)

	TasksPreemptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cipherswarm_tasks_preempted_total",
			Help: "Total number of tasks preempted for higher-priority attacks",
		},
	)

	AssignmentLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cipherswarm_assignment_latency_seconds",
			Help:    "Time taken to resolve one agent pickup in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Telemetry metrics
	StatusFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherswarm_status_frames_total",
			Help: "Total number of status frames ingested by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cipherswarm_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(CampaignsTotal)
	prometheus.MustRegister(HashesCrackedTotal)
	prometheus.MustRegister(CrackPropagationsTotal)
	prometheus.MustRegister(TasksAssignedTotal)
	prometheus.MustRegister(TasksPreemptedTotal)
	prometheus.MustRegister(AssignmentLatency)
	prometheus.MustRegister(StatusFramesTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
