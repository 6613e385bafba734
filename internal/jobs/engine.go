// Package jobs drives providers whose operations are asynchronous: submit
// a job, then poll its status endpoint until it reaches a terminal state.
// The engine owns the pacing and the wall-clock bound; adapters supply the
// submit and poll calls and map the output afterwards.
package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nulzo/refract/internal/config"
	"github.com/nulzo/refract/internal/platform/metrics"
	"github.com/nulzo/refract/pkg/api"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxDuration  = 10 * time.Minute
)

// SubmitFunc creates the upstream job.
type SubmitFunc func(ctx context.Context) (*api.PredictionJob, error)

// PollFunc reads the current state of the upstream job.
type PollFunc func(ctx context.Context, id string) (*api.PredictionJob, error)

type Engine struct {
	interval    time.Duration
	maxDuration time.Duration

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New builds an Engine. Zero config fields fall back to 2s polls bounded
// at 10 minutes.
func New(cfg config.JobsConfig, log *zap.Logger, m *metrics.Metrics) *Engine {
	e := &Engine{
		interval:    cfg.PollInterval,
		maxDuration: cfg.MaxDuration,
		log:         log,
		metrics:     m,
	}
	if e.interval <= 0 {
		e.interval = defaultPollInterval
	}
	if e.maxDuration <= 0 {
		e.maxDuration = defaultMaxDuration
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop()
	}
	return e
}

// Run submits a job and waits for its terminal state. Callers that need
// the job id between the two phases (to emit a role chunk, say) call
// Submit and Await themselves.
func (e *Engine) Run(ctx context.Context, provider string, submit SubmitFunc, poll PollFunc) (*api.PredictionJob, error) {
	job, err := submit(ctx)
	if err != nil {
		return nil, err
	}
	return e.Await(ctx, provider, job, poll)
}

// Await polls until the job is terminal. Waits are interval-spaced and
// every blocking point also watches ctx, so cancellation interrupts a wait
// immediately instead of after the next poll. The whole wait is bounded by
// the configured max duration; exceeding it yields a timeout error naming
// the elapsed time.
//
// Terminal mapping: succeeded returns the job, failed returns an
// upstream-job-failed error carrying the job's error message, canceled
// returns an upstream-job-canceled error.
func (e *Engine) Await(ctx context.Context, provider string, job *api.PredictionJob, poll PollFunc) (*api.PredictionJob, error) {
	start := time.Now()
	deadline := start.Add(e.maxDuration)
	polls := 0

	defer func() {
		e.metrics.JobPollIterations.WithLabelValues(provider).Observe(float64(polls))
	}()

	for {
		if job.Status.Terminal() {
			elapsed := time.Since(start)
			e.metrics.JobDuration.WithLabelValues(provider, string(job.Status)).Observe(elapsed.Seconds())
			e.log.Debug("job reached terminal state",
				zap.String("provider", provider),
				zap.String("job_id", job.ID),
				zap.String("status", string(job.Status)),
				zap.Int("polls", polls),
				zap.Duration("elapsed", elapsed),
			)
			return e.resolve(provider, job)
		}

		if time.Now().After(deadline) {
			e.log.Warn("job exceeded wait bound",
				zap.String("provider", provider),
				zap.String("job_id", job.ID),
				zap.Duration("bound", e.maxDuration),
			)
			return nil, api.TimeoutError(provider, "job", time.Since(start))
		}

		timer := time.NewTimer(e.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, api.FromContext(ctx, provider, "job")
		case <-timer.C:
		}

		next, err := poll(ctx, job.ID)
		if err != nil {
			if ctxErr := api.FromContext(ctx, provider, "job"); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		polls++
		job = next
	}
}

// resolve maps a terminal job onto the error taxonomy.
func (e *Engine) resolve(provider string, job *api.PredictionJob) (*api.PredictionJob, error) {
	switch job.Status {
	case api.JobSucceeded:
		return job, nil
	case api.JobFailed:
		msg := job.Error
		if msg == "" {
			msg = "job failed without an error message"
		}
		return nil, api.JobFailedError(provider, msg)
	case api.JobCanceled:
		return nil, api.JobCanceledError(provider)
	default:
		// Unreachable: Await only calls resolve on terminal jobs.
		return job, nil
	}
}
