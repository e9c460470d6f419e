package server

import "github.com/prometheus/client_golang/prometheus"

var (
	experimentsAssigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crater_experiments_assigned_total",
			Help: "Experiments handed out via next-experiment, by agent.",
		},
		[]string{"agent"},
	)
	jobsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crater_jobs_recorded_total",
			Help: "Job outcomes recorded via record-progress, by outcome.",
		},
		[]string{"outcome"},
	)
	agentErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crater_agent_errors_total",
			Help: "Infrastructure errors reported by agents.",
		},
		[]string{"agent"},
	)
)

func init() {
	prometheus.MustRegister(experimentsAssigned, jobsRecorded, agentErrors)
}
