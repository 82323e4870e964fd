// Package metrics exports run progress as Prometheus metrics. A run is a
// short-lived process, so the collected values are pushed to a Pushgateway
// once the run ends rather than scraped.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Collector records one process worth of runs. It implements
// workflow.Observer.
type Collector struct {
	registry     *prometheus.Registry
	stepDuration *prometheus.HistogramVec
	transactions *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runStatus    *prometheus.GaugeVec

	mu        sync.Mutex
	lastRunID string
}

// NewCollector registers the tokenflow metrics on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenflow_step_duration_seconds",
			Help:    "Time spent reaching each workflow state.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"state"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenflow_transactions_total",
			Help: "Transactions confirmed by the workflow, by kind and status.",
		}, []string{"kind", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenflow_runs_total",
			Help: "Finished workflow runs, by outcome and error code.",
		}, []string{"outcome", "code"}),
		runStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tokenflow_run_status",
			Help: "Set to 1 for the status of the last run and 0 for the others.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(c.stepDuration, c.transactions, c.runs, c.runStatus)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RunStarted implements workflow.Observer.
func (c *Collector) RunStarted(_ context.Context, report workflow.Report) {
	c.mu.Lock()
	c.lastRunID = report.RunID
	c.mu.Unlock()
}

// StateChanged implements workflow.Observer.
func (c *Collector) StateChanged(_ context.Context, change workflow.StateChange) {
	c.stepDuration.WithLabelValues(string(change.To)).Observe(change.Elapsed.Seconds())
}

// RunFinished implements workflow.Observer.
func (c *Collector) RunFinished(_ context.Context, report workflow.Report, err error) {
	for _, tx := range report.Transactions {
		c.transactions.WithLabelValues(tx.Kind, string(tx.Status)).Inc()
	}
	code := ""
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	outcome := report.State.Outcome()
	c.runs.WithLabelValues(string(outcome), code).Inc()
	for _, status := range []workflow.Outcome{workflow.OutcomeSucceeded, workflow.OutcomeFailed, workflow.OutcomeAborted} {
		value := 0.0
		if status == outcome {
			value = 1
		}
		c.runStatus.WithLabelValues(string(status)).Set(value)
	}
}

// Push sends everything collected to the Pushgateway at url, grouped by job
// and the ID of the last run.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("pushgateway url is empty")
	}
	c.mu.Lock()
	runID := c.lastRunID
	c.mu.Unlock()

	pusher := push.New(url, job).Gatherer(c.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

var _ workflow.Observer = (*Collector)(nil)
