package reenrich

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"workflowaudit/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ParseSchedule accepts a standard 5-field cron expression (minute hour
// day-of-month month day-of-week) or a descriptor such as "@hourly" or
// "@every 30m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(strings.TrimSpace(spec))
}

// Runner runs RunOnce on a cron schedule. A pass that is still running when
// the next one is due makes that one skip.
type Runner struct {
	db       *sql.DB
	enricher Enricher
	logger   *zap.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
	cron     *cron.Cron

	// OnResult, when set, receives the summary of every pass.
	OnResult func(ctx context.Context, r Result)
}

// NewRunner builds a runner. timeout bounds one pass; zero means no bound.
func NewRunner(db *sql.DB, enricher Enricher, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Runner{
		db:       db,
		enricher: enricher,
		logger:   logger,
		metrics:  m,
		timeout:  timeout,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
}

// Start schedules the job and starts the cron loop. An empty spec disables
// the runner.
func (r *Runner) Start(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		r.logger.Info("reenrich disabled (reenrich_schedule not set)")
		return nil
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("invalid reenrich_schedule %q: %w", spec, err)
	}
	r.cron.Schedule(sched, cron.FuncJob(r.pass))
	r.cron.Start()
	r.logger.Info("reenrich scheduled", zap.String("cron", spec), zap.Time("next", sched.Next(time.Now())))
	return nil
}

// Stop stops scheduling and waits for a running pass to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Runner) pass() {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	result, err := RunOnce(ctx, r.db, r.enricher, r.logger, r.metrics)
	if err != nil {
		r.logger.Error("reenrich pass failed", zap.Error(err))
	}
	r.logger.Info("reenrich pass complete", zap.String("summary", FormatSummary(result)))
	if r.OnResult != nil {
		r.OnResult(ctx, result)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron "+msg, append(keysAndValues, "error", err)...)
}
