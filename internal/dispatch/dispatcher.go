// internal/dispatch/dispatcher.go
// Package dispatch runs the worker pool that drains the queue: render the
// template, respect the tenant's rate budget, call the channel adapter, and
// settle the job according to the retry policy.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
)

// jobQueue is the slice of the queue the dispatcher drives.
type jobQueue interface {
	Dequeue(ctx context.Context, workerID string) (*models.NotificationJob, error)
	Complete(ctx context.Context, job *models.NotificationJob, status models.JobStatus) error
	Retry(ctx context.Context, job *models.NotificationJob, delay time.Duration) error
	Bury(ctx context.Context, job *models.NotificationJob, reason string) error
	ExtendLease(ctx context.Context, job *models.NotificationJob) error
}

// renderer resolves and fills a message template for a job.
type renderer interface {
	Render(ctx context.Context, tenantID string, channel models.Channel, name string, variables map[string]string) (*models.RenderedMessage, error)
}

// recorder appends delivery transitions and indexes provider message ids.
type recorder interface {
	Record(ctx context.Context, job *models.NotificationJob, status models.JobStatus, source models.TransitionSource, detail string) (*models.DeliveryTransition, error)
	IndexProviderMessage(ctx context.Context, providerMessageID, jobID string) error
}

var _ jobQueue = (*queue.Queue)(nil)

// Options tunes the worker pool and retry policy.
type Options struct {
	Workers        int
	MaxAttempts    int
	PollInterval   time.Duration
	SendTimeout    time.Duration
	LeaseHeartbeat time.Duration
	Backoff        BackoffPolicy
	RateLimitRPS   float64
	RateLimitBurst int
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
	if o.LeaseHeartbeat <= 0 {
		o.LeaseHeartbeat = 10 * time.Second
	}
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = 2 * time.Second
	}
	if o.Backoff.Cap <= 0 {
		o.Backoff.Cap = 5 * time.Minute
	}
}

// Dispatcher owns the worker pool. Start it once; workers run until the
// context is cancelled and Wait returns after every in-progress job settles.
type Dispatcher struct {
	queue     jobQueue
	renderer  renderer
	recorder  recorder
	adapters  *provider.Registry
	limiter   *tenantLimiter
	opts      Options
	obs       *observability.Observability
	logger    logger.Logger
	wg        sync.WaitGroup
}

func New(q jobQueue, r renderer, rec recorder, adapters *provider.Registry, obs *observability.Observability, opts Options, log logger.Logger) *Dispatcher {
	opts.applyDefaults()
	return &Dispatcher{
		queue:    q,
		renderer: r,
		recorder: rec,
		adapters: adapters,
		limiter:  newTenantLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		opts:     opts,
		obs:      obs,
		logger:   log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting dispatcher", map[string]interface{}{
		"workers":     d.opts.Workers,
		"maxAttempts": d.opts.MaxAttempts,
	})
	for i := 0; i < d.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runWorker(ctx, workerID)
		}()
	}
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.queue.Dequeue(ctx, workerID)
		if err != nil {
			d.logger.Error("dequeue failed", map[string]interface{}{
				"worker": workerID,
				"error":  err,
			})
			d.sleep(ctx, d.opts.PollInterval)
			continue
		}
		if job == nil {
			d.sleep(ctx, d.opts.PollInterval)
			continue
		}

		d.process(ctx, job)
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// process runs one leased job to a settlement: complete, retry or bury.
func (d *Dispatcher) process(ctx context.Context, job *models.NotificationJob) {
	log := d.logger.WithFields(map[string]interface{}{
		"jobId":   job.ID,
		"tenant":  job.TenantID,
		"channel": job.Channel,
		"attempt": job.AttemptCount + 1,
	})

	// The delivery record opens when the job first goes in-flight. Later
	// attempts are already visible through their failed entries, and a
	// repeat in-flight row would read as a reordered callback.
	if job.AttemptCount == 0 {
		if _, err := d.recorder.Record(ctx, job, models.StatusInFlight, models.SourceDispatcher, ""); err != nil {
			log.Warn("failed to record in-flight transition", map[string]interface{}{"error": err})
		}
	}

	msg, err := d.renderer.Render(ctx, job.TenantID, job.Channel, job.TemplateName, job.Variables)
	if err != nil {
		// Template problems are configuration faults: retrying cannot fix
		// a missing template or variable, so the job dies immediately.
		d.settleDead(ctx, job, string(errors.CodeOf(err)), err.Error(), log)
		return
	}

	if err := d.limiter.Wait(ctx, job.TenantID, string(job.Channel)); err != nil {
		// Shutdown while throttled; the lease lapses and the job returns
		// to the queue on its own.
		return
	}

	adapter, err := d.adapters.Get(job.Channel)
	if err != nil {
		d.settleDead(ctx, job, "NO_ADAPTER", err.Error(), log)
		return
	}

	stopHeartbeat := d.keepLeaseAlive(ctx, job)
	defer stopHeartbeat()

	now := time.Now().UTC()
	job.AttemptCount++
	job.LastAttemptAt = &now

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	start := time.Now()
	result, sendErr := adapter.Send(sendCtx, job.RecipientAddress, msg)
	cancel()
	elapsed := time.Since(start)

	metrics.SendDuration.WithLabelValues(string(job.Channel)).Observe(elapsed.Seconds())

	if sendErr == nil && result != nil && result.Success {
		d.settleSent(ctx, job, result, elapsed, log)
		return
	}

	kind, detail, retryAfter := classifyFailure(result, sendErr)
	d.settleFailed(ctx, job, kind, detail, retryAfter, log)
}

// keepLeaseAlive extends the lease on a ticker while a slow provider call is
// in progress. Returns a stop function.
func (d *Dispatcher) keepLeaseAlive(ctx context.Context, job *models.NotificationJob) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(d.opts.LeaseHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.queue.ExtendLease(ctx, job); err != nil {
					d.logger.Warn("lease extension failed", map[string]interface{}{
						"jobId": job.ID,
						"error": err,
					})
					return
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (d *Dispatcher) settleSent(ctx context.Context, job *models.NotificationJob, result *provider.SendResult, elapsed time.Duration, log logger.Logger) {
	if err := d.queue.Complete(ctx, job, models.StatusSent); err != nil {
		log.Error("failed to complete job after send", map[string]interface{}{"error": err})
		return
	}
	if _, err := d.recorder.Record(ctx, job, models.StatusSent, models.SourceDispatcher, ""); err != nil {
		log.Error("failed to record sent transition", map[string]interface{}{"error": err})
	}
	if err := d.recorder.IndexProviderMessage(ctx, result.ProviderMessageID, job.ID); err != nil {
		log.Warn("failed to index provider message id", map[string]interface{}{"error": err})
	}

	metrics.JobsSent.WithLabelValues(job.TenantID, string(job.Channel)).Inc()
	d.obs.RecordJobProcessed(ctx, string(job.Channel), "sent")
	d.obs.RecordJobDuration(ctx, elapsed, string(job.Channel), "sent")

	log.Info("notification sent", map[string]interface{}{
		"providerMessageId": result.ProviderMessageID,
		"durationMs":        elapsed.Milliseconds(),
	})
}

func (d *Dispatcher) settleFailed(ctx context.Context, job *models.NotificationJob, kind provider.ErrorKind, detail string, retryAfter time.Duration, log logger.Logger) {
	job.LastError = detail
	if _, err := d.recorder.Record(ctx, job, models.StatusFailed, models.SourceDispatcher, detail); err != nil {
		log.Error("failed to record failed transition", map[string]interface{}{"error": err})
	}
	metrics.JobsFailed.WithLabelValues(job.TenantID, string(job.Channel), string(kind)).Inc()

	retryable := kind == provider.ErrorTransient || kind == provider.ErrorRateLimited
	switch {
	case !retryable:
		d.settleDead(ctx, job, string(kind), detail, log)
	case job.AttemptCount >= d.maxAttempts(job):
		d.settleDead(ctx, job, string(kind), "attempts exhausted: "+detail, log)
	default:
		delay := d.opts.Backoff.Delay(job.AttemptCount, retryAfter)
		if err := d.queue.Retry(ctx, job, delay); err != nil {
			log.Error("failed to requeue job for retry", map[string]interface{}{"error": err})
			return
		}
		log.Warn("send failed, retry scheduled", map[string]interface{}{
			"errorKind": kind,
			"detail":    detail,
			"delayMs":   delay.Milliseconds(),
		})
	}
}

func (d *Dispatcher) settleDead(ctx context.Context, job *models.NotificationJob, code, reason string, log logger.Logger) {
	if err := d.queue.Bury(ctx, job, reason); err != nil {
		log.Error("failed to bury job", map[string]interface{}{"error": err})
		return
	}
	if _, err := d.recorder.Record(ctx, job, models.StatusDead, models.SourceDispatcher, reason); err != nil {
		log.Error("failed to record dead transition", map[string]interface{}{"error": err})
	}

	metrics.JobsDead.WithLabelValues(job.TenantID, string(job.Channel), code).Inc()
	d.obs.RecordJobProcessed(ctx, string(job.Channel), "dead")

	log.Error("job moved to dead letters", map[string]interface{}{
		"code":   code,
		"reason": reason,
	})
}

func (d *Dispatcher) maxAttempts(job *models.NotificationJob) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return d.opts.MaxAttempts
}

// classifyFailure normalizes the two failure shapes an adapter can produce:
// a classified SendResult, or a plain error from the adapter itself (treated
// as transient).
func classifyFailure(result *provider.SendResult, sendErr error) (provider.ErrorKind, string, time.Duration) {
	if result != nil && !result.Success && result.ErrorKind != "" {
		return result.ErrorKind, result.ErrorDetail, result.RetryAfter
	}
	if sendErr != nil {
		if std, ok := errors.AsStandard(sendErr); ok && !std.Retryable {
			return provider.ErrorPermanent, std.Message, 0
		}
		return provider.ErrorTransient, sendErr.Error(), 0
	}
	return provider.ErrorTransient, "provider returned no result", 0
}
