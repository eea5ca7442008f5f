package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// PrometheusSink exports audit lifecycle metrics via Prometheus.
type PrometheusSink struct {
	jobsQueued    prometheus.Counter
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	jobScores     prometheus.Histogram
	jobGrades     *prometheus.CounterVec
	batchesDone   prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditor_jobs_queued_total",
			Help: "Total audit jobs accepted for dispatch.",
		}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditor_jobs_started_total",
			Help: "Total audit jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditor_jobs_finished_total",
			Help: "Total audit jobs finished partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auditor_jobs_running",
			Help: "Current number of running audit jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditor_job_runtime_seconds",
			Help:    "Wall time per finished audit job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		jobScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditor_job_overall_score",
			Help:    "Overall score of completed audits.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		jobGrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditor_job_grades_total",
			Help: "Completed audits partitioned by overall letter grade.",
		}, []string{"grade"}),
		batchesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditor_batches_completed_total",
			Help: "Total batches whose members all reached a terminal state.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsQueued,
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.jobScores,
		s.jobGrades,
		s.batchesDone,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobQueued:
		s.jobsQueued.Inc()
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.jobScores.Observe(float64(evt.Score))
		s.jobGrades.WithLabelValues(gradeLabel(evt.Grade)).Inc()
		s.finish(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.finish(evt, "error")
	case progress.StageBatchDone:
		s.batchesDone.Inc()
	}
}

func (s *PrometheusSink) finish(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// gradeLabel folds Analyzer grades such as "B+" onto their letter so the
// label set stays small.
func gradeLabel(grade string) string {
	grade = strings.ToUpper(strings.TrimSpace(grade))
	if grade == "" {
		return "none"
	}
	return grade[:1]
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker keeps the running gauge honest when events repeat or a job
// fails before it ever started.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

// Name identifies the sink in hub logs.
func (s *PrometheusSink) Name() string { return "prometheus" }
