// Package alerting evaluates alerts once per window and records the outcome.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealert/internal/anomaly"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/provider"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

// ErrConfig marks an alert whose configuration cannot be evaluated.
var ErrConfig = errors.New("alert configuration error")

// Notifier dispatches notifications for state changes.
type Notifier interface {
	Notify(ctx context.Context, ev *notifier.Event)
}

// Status is the per-alert result of a run.
type Status string

const (
	StatusEvaluated Status = "evaluated"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome describes what happened to one alert in a run.
type Outcome struct {
	AlertID string
	TeamID  string
	Status  Status
	// State is the alert state written by this run.
	State    models.AlertState
	Groups   int
	Events   int
	Err      error
	Duration time.Duration
}

// RunReport is the result of one evaluation pass.
type RunReport struct {
	Now       time.Time
	Outcomes  []Outcome
	Evaluated int
	Skipped   int
	Failed    int
}

func (r *RunReport) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusEvaluated:
		r.Evaluated++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
	metrics.EvaluationsTotal.WithLabelValues(string(o.Status)).Inc()
}

// Options configures the engine.
type Options struct {
	// Concurrency bounds how many alerts are evaluated at once.
	Concurrency int
	// SourceTimeout bounds each alert's telemetry queries. Zero disables it.
	SourceTimeout time.Duration
	Logger        zerolog.Logger
}

// DefaultOptions returns default engine options.
func DefaultOptions() Options {
	return Options{
		Concurrency:   16,
		SourceTimeout: 30 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// Engine runs evaluation passes over every task the provider returns.
type Engine struct {
	provider provider.AlertProvider
	scorer   anomaly.Scorer
	notifier Notifier
	opts     Options
	logger   zerolog.Logger
}

// NewEngine creates a new engine.
func NewEngine(p provider.AlertProvider, scorer anomaly.Scorer, n Notifier, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	return &Engine{
		provider: p,
		scorer:   scorer,
		notifier: n,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "engine").Logger(),
	}
}

type job struct {
	task    *provider.AlertTask
	details *provider.AlertDetails
	client  telemetry.Client
}

// Run performs one evaluation pass at now. It fails only when tasks cannot be
// loaded; per-alert failures are reported in the outcomes.
func (e *Engine) Run(ctx context.Context, now time.Time) (*RunReport, error) {
	started := time.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(started).Seconds()) }()

	tasks, err := e.provider.GetAlertTasks(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("get alert tasks: %w", err)
	}

	report := &RunReport{Now: now}
	var jobs []job
	var clients []telemetry.Client

	for _, task := range tasks {
		client, err := e.provider.GetTelemetryClient(ctx, task.Conn)
		if err != nil {
			metrics.TasksFailed.Inc()
			e.logger.Error().Err(err).
				Str("connection_id", task.Conn.ID).
				Int("alerts", len(task.Alerts)).
				Msg("task failed: cannot create telemetry client")
			for _, d := range task.Alerts {
				report.add(Outcome{AlertID: d.Alert.ID, TeamID: d.Alert.TeamID, Status: StatusFailed, Err: err})
			}
			continue
		}
		clients = append(clients, client)
		for _, d := range task.Alerts {
			jobs = append(jobs, job{task: task, details: d, client: client})
		}
	}

	outcomes := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			outcomes[i] = e.evaluate(gctx, j)
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range clients {
		if err := c.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("close telemetry client")
		}
	}
	for _, o := range outcomes {
		report.add(o)
	}

	e.logger.Info().
		Int("evaluated", report.Evaluated).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("took", time.Since(started)).
		Msg("evaluation pass complete")
	return report, nil
}

// evaluation is what a checker decided for one alert.
type evaluation struct {
	histories []*models.AlertHistory
	events    []*notifier.Event
}

func (ev *evaluation) state() models.AlertState {
	for _, h := range ev.histories {
		if h.State == models.AlertStateAlert {
			return models.AlertStateAlert
		}
	}
	return models.AlertStateOK
}

// evaluate runs one alert. Panics become failed outcomes.
func (e *Engine) evaluate(ctx context.Context, j job) (out Outcome) {
	alert := j.details.Alert
	logger := e.logger.With().Str("alert_id", alert.ID).Str("team_id", alert.TeamID).Logger()
	start := time.Now()
	out = Outcome{AlertID: alert.ID, TeamID: alert.TeamID}

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("panic: %v", r)
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("alert evaluation panicked")
		}
		out.Duration = time.Since(start)
	}()

	bucketStart := RoundDown(j.task.Now, alert.Interval.Minutes())
	if prev := j.details.Previous; prev != nil && prev.CreatedAt.Equal(bucketStart) {
		logger.Debug().Time("bucket", bucketStart).Msg("window already evaluated")
		out.Status = StatusSkipped
		return out
	}

	result, err := e.check(ctx, j, bucketStart)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		if errors.Is(err, ErrConfig) {
			logger.Warn().Err(err).Msg("alert misconfigured")
		} else {
			logger.Error().Err(err).Msg("alert evaluation failed")
		}
		return out
	}

	state := result.state()
	if err := e.provider.UpdateAlertState(ctx, alert.ID, state, result.histories); err != nil {
		if errors.Is(err, storage.ErrDuplicateHistory) {
			logger.Debug().Time("bucket", bucketStart).Msg("window recorded concurrently")
			out.Status = StatusSkipped
			return out
		}
		if errors.Is(err, storage.ErrAlertDisabled) {
			logger.Info().Msg("alert disabled during evaluation")
			out.Status = StatusSkipped
			return out
		}
		out.Status = StatusFailed
		out.Err = fmt.Errorf("update alert state: %w", err)
		logger.Error().Err(out.Err).Msg("persist evaluation failed")
		return out
	}

	if alert.State != state {
		metrics.StateTransitions.WithLabelValues(string(alert.State), string(state)).Inc()
	}
	out.Status = StatusEvaluated
	out.State = state
	out.Groups = len(result.histories)

	for _, ev := range result.events {
		ev.Details = j.details
		ev.Client = j.client
		logger.Info().Str("group", ev.Group).Str("state", string(ev.State)).Float64("value", ev.Value).Msg("alert state changed")
		if e.notifier != nil {
			e.notifier.Notify(ctx, ev)
			out.Events++
		}
	}
	return out
}

func (e *Engine) check(ctx context.Context, j job, bucketStart time.Time) (*evaluation, error) {
	timer := time.Now()
	if e.opts.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.SourceTimeout)
		defer cancel()
	}

	switch policy := j.details.Alert.Policy.(type) {
	case *models.ThresholdPolicy:
		defer observe(models.CheckerKindThreshold, timer)
		return e.checkThreshold(ctx, j, policy, bucketStart)
	case *models.AnomalyPolicy:
		defer observe(models.CheckerKindAnomaly, timer)
		return e.checkAnomaly(ctx, j, policy, bucketStart)
	default:
		return nil, fmt.Errorf("%w: unsupported checker %T", ErrConfig, j.details.Alert.Policy)
	}
}

func observe(kind models.CheckerKind, start time.Time) {
	metrics.EvaluationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}
