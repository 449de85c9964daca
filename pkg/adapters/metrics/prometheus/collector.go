package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	jobsSubmitted    *prometheus.CounterVec
	jobsCompleted    *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	phasesCompleted  *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	nodesExecuted    *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	privacyDecisions *prometheus.CounterVec
	reviewDecisions  *prometheus.CounterVec
	slotCapacity     prometheus.Gauge
	slotsActive      prometheus.Gauge
	slotsWaiting     prometheus.Gauge
	queueWaitTime    prometheus.Histogram
}

// NewCollector registers the synthflow metrics with reg. A nil reg uses
// the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		jobsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthflow_jobs_submitted_total",
				Help: "Total number of jobs submitted",
			},
			[]string{"status"},
		),
		jobsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthflow_jobs_completed_total",
				Help: "Total number of jobs finished, by terminal status",
			},
			[]string{"status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synthflow_job_duration_seconds",
				Help:    "Job execution duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"status"},
		),
		activeJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "synthflow_active_jobs",
				Help: "Number of currently running jobs",
			},
		),
		phasesCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthflow_phases_completed_total",
				Help: "Total number of phases finished, by status",
			},
			[]string{"status"},
		),
		phaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synthflow_phase_duration_seconds",
				Help:    "Phase execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"status"},
		),
		nodesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthflow_nodes_executed_total",
				Help: "Total number of node executions",
			},
			[]string{"kind", "status"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "synthflow_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"kind"},
		),
		privacyDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthflow_privacy_decisions_total",
				Help: "Privacy gate decisions by risk level",
			},
			[]string{"risk", "accepted"},
		),
		reviewDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "synthflow_review_decisions_total",
				Help: "Human review queue decisions by status",
			},
			[]string{"status"},
		),
		slotCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "synthflow_slots_capacity",
				Help: "Configured number of execution slots",
			},
		),
		slotsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "synthflow_slots_active",
				Help: "Number of execution slots in use",
			},
		),
		slotsWaiting: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "synthflow_slots_waiting",
				Help: "Number of nodes waiting for a slot",
			},
		),
		queueWaitTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "synthflow_queue_wait_time_seconds",
				Help:    "Time spent waiting for an execution slot",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}
}

// RecordJobSubmitted records a job submission
func (c *Collector) RecordJobSubmitted(status string) {
	c.jobsSubmitted.WithLabelValues(status).Inc()
}

// RecordJobCompleted records a finished job
func (c *Collector) RecordJobCompleted(status string, duration time.Duration) {
	c.jobsCompleted.WithLabelValues(status).Inc()
	c.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPhaseCompleted records a finished phase
func (c *Collector) RecordPhaseCompleted(status string, duration time.Duration) {
	c.phasesCompleted.WithLabelValues(status).Inc()
	c.phaseDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordNodeExecuted records a node execution
func (c *Collector) RecordNodeExecuted(kind, status string, duration time.Duration) {
	c.nodesExecuted.WithLabelValues(kind, status).Inc()
	c.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordPrivacyDecision records a privacy gate verdict
func (c *Collector) RecordPrivacyDecision(risk string, accepted bool) {
	c.privacyDecisions.WithLabelValues(risk, strconv.FormatBool(accepted)).Inc()
}

// RecordReviewDecision records a review queue decision
func (c *Collector) RecordReviewDecision(status string) {
	c.reviewDecisions.WithLabelValues(status).Inc()
}

// RecordSlotStatus records the concurrency controller status
func (c *Collector) RecordSlotStatus(capacity, active, waiting int) {
	c.slotCapacity.Set(float64(capacity))
	c.slotsActive.Set(float64(active))
	c.slotsWaiting.Set(float64(waiting))
}

// ObserveQueueWaitTime records how long a node waited for a slot
func (c *Collector) ObserveQueueWaitTime(duration time.Duration) {
	c.queueWaitTime.Observe(duration.Seconds())
}

// SetActiveJobs sets the number of currently running jobs
func (c *Collector) SetActiveJobs(count int) {
	c.activeJobs.Set(float64(count))
}
