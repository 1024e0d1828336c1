// Package jobs runs the daemon's periodic work on a cron scheduler.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"wg-tunnels/internal/core"
)

// StatusRefresher reconciles tunnel statuses with the OS.
type StatusRefresher interface {
	RefreshStatuses(ctx context.Context) error
}

// Evaluator applies on-demand rules.
type Evaluator interface {
	Evaluate() string
}

// RefreshJob polls the VPN backend for tunnels that changed state outside
// of the daemon.
type RefreshJob struct {
	refresher StatusRefresher
	timeout   time.Duration
}

func NewRefreshJob(r StatusRefresher, timeout time.Duration) *RefreshJob {
	return &RefreshJob{refresher: r, timeout: timeout}
}

func (j *RefreshJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.refresher.RefreshStatuses(ctx); err != nil {
		core.Log.Warnf("Jobs", "Status refresh failed: %v", err)
	}
}

// EvaluateJob re-evaluates on-demand rules.
type EvaluateJob struct {
	evaluator Evaluator
}

func NewEvaluateJob(e Evaluator) *EvaluateJob {
	return &EvaluateJob{evaluator: e}
}

func (j *EvaluateJob) Run() {
	if name := j.evaluator.Evaluate(); name != "" {
		core.Log.Debugf("Jobs", "On-demand evaluation activated %q", name)
	}
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a scheduler with the status refresh job and, when evaluator
// is not nil and on-demand is enabled, the on-demand evaluation job.
func New(cfg core.Config, refresher StatusRefresher, evaluator Evaluator) (*Scheduler, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	refresh := cfg.StatusRefreshInterval()
	if _, err := c.AddJob(every(refresh), NewRefreshJob(refresher, refresh)); err != nil {
		return nil, fmt.Errorf("[Jobs] failed to schedule status refresh: %w", err)
	}
	if evaluator != nil && cfg.OnDemand.IsEnabled() {
		interval := cfg.OnDemand.EvaluateIntervalOrDefault()
		if _, err := c.AddJob(every(interval), NewEvaluateJob(evaluator)); err != nil {
			return nil, fmt.Errorf("[Jobs] failed to schedule on-demand evaluation: %w", err)
		}
	}
	return &Scheduler{cron: c}, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	core.Log.Infof("Jobs", "Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// cronLogger routes cron's own messages to the component logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	if core.Log.Enabled("Jobs", core.LevelDebug) {
		core.Log.Debugf("Jobs", "%s %v", msg, keysAndValues)
	}
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	core.Log.Errorf("Jobs", "%s: %v %v", msg, err, keysAndValues)
}
