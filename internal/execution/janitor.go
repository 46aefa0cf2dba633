package execution

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xymarket/node/internal/metrics"
	"github.com/xymarket/node/internal/task"
)

// Janitor periodically fails in_progress tasks whose deadline has passed.
// It backstops workers that died without reporting.
type Janitor struct {
	cron    *cron.Cron
	repo    *task.Repository
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewJanitor schedules a sweep every interval. Start must be called to
// begin sweeping.
func NewJanitor(repo *task.Repository, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("janitor interval must be positive, got %v", interval)
	}

	j := &Janitor{
		repo:    repo,
		logger:  logger,
		metrics: m,
	}
	j.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))
	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", interval), j.Sweep); err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}
	return j, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("task janitor started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("task janitor stopped")
}

// Sweep fails every expired in_progress task. Exported so shutdown and
// tests can force a pass outside the schedule.
func (j *Janitor) Sweep() {
	swept := j.repo.SweepExpired(time.Now())
	if swept == 0 {
		return
	}
	j.logger.Info("expired tasks failed", slog.Int("count", swept))
	if j.metrics != nil {
		j.metrics.TasksSwept.Add(float64(swept))
	}
}

// cronLogger adapts slog to the cron logging contract so scheduler
// recoveries land in the structured log.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Info(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
