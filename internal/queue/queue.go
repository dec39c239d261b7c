// internal/queue/queue.go
// Package queue implements the durable dispatch queue on Redis: FIFO per
// tenant with delayed visibility, per-job leases (visibility timeout), and
// idempotent enqueue keyed by (correlationId, notificationType, channel).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyJob      = "nq:job:"     // job:{id} -> job JSON
	keySched    = "nq:sched:"   // sched:{tenant} -> ZSET member=jobID score=visibleAt unix ms
	keyInflight = "nq:leased:"  // leased:{tenant} -> ZSET member=jobID score=leaseExpiry unix ms
	keyLease    = "nq:lease:"   // lease:{id} -> worker id, PX = lease duration
	keyDedupe   = "nq:dedupe:"  // dedupe:{tenant}:{triple} -> job id
	keyDead     = "nq:dead"     // ZSET member=jobID score=died-at unix ms
	keyTenants  = "nq:tenants"  // SET of tenant ids with queued work
)

// Options tunes queue behavior.
type Options struct {
	LeaseDuration time.Duration
	DedupeTTL     time.Duration
}

// Queue is the durable per-tenant dispatch queue.
type Queue struct {
	rdb    *redis.Client
	opts   Options
	logger logger.Logger
	now    func() time.Time
}

func New(rdb *redis.Client, opts Options, log logger.Logger) *Queue {
	if opts.LeaseDuration == 0 {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.DedupeTTL == 0 {
		opts.DedupeTTL = 24 * time.Hour
	}
	return &Queue{
		rdb:    rdb,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "queue"}),
		now:    time.Now,
	}
}

// EnqueueResult reports the outcome of an Enqueue call.
type EnqueueResult struct {
	JobID      string
	Duplicate  bool // an equivalent live job already existed
}

// Enqueue stores a new job and makes it visible at job.ScheduledFor.
// It is idempotent on the job's dedupe triple: while an equivalent job is
// still live, re-enqueuing returns the existing job id and enqueues nothing.
// A dead prior job does not block a fresh enqueue.
func (q *Queue) Enqueue(ctx context.Context, job *models.NotificationJob) (*EnqueueResult, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := q.now().UTC()
	job.CreatedAt = now
	job.Status = models.StatusPending
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = now
	}

	dedupeKey := keyDedupe + job.TenantID + ":" + job.DedupeKey()

	set, err := q.rdb.SetNX(ctx, dedupeKey, job.ID, q.opts.DedupeTTL).Result()
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}
	if !set {
		existingID, err := q.rdb.Get(ctx, dedupeKey).Result()
		if err != nil && err != redis.Nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
		if existingID != "" {
			existing, err := q.GetJob(ctx, existingID)
			if err == nil && existing != nil && existing.Status != models.StatusDead {
				return &EnqueueResult{JobID: existing.ID, Duplicate: true}, nil
			}
		}
		// Prior job is dead or gone: claim the dedupe slot for the new job.
		if err := q.rdb.Set(ctx, dedupeKey, job.ID, q.opts.DedupeTTL).Err(); err != nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, keySched+job.TenantID, redis.Z{
		Score:  float64(job.ScheduledFor.UnixMilli()),
		Member: job.ID,
	})
	pipe.SAdd(ctx, keyTenants, job.TenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}

	return &EnqueueResult{JobID: job.ID}, nil
}

// Dequeue leases the earliest visible job across tenants for workerID.
// Returns nil without error when no job is visible; callers poll on a
// bounded interval. A leased job is invisible to other workers until the
// lease expires or is completed/failed.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*models.NotificationJob, error) {
	tenants, err := q.rdb.SMembers(ctx, keyTenants).Result()
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}

	for _, tenant := range tenants {
		if err := q.reclaimExpired(ctx, tenant); err != nil {
			q.logger.Warn("failed to reclaim expired leases", map[string]interface{}{
				"tenant": tenant,
				"error":  err,
			})
		}

		job, err := q.dequeueTenant(ctx, tenant, workerID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, nil
}

func (q *Queue) dequeueTenant(ctx context.Context, tenant, workerID string) (*models.NotificationJob, error) {
	now := q.now().UTC()

	// Earliest visible jobs; a small batch so a lost SETNX race moves on to
	// the next candidate instead of giving up the poll round.
	candidates, err := q.rdb.ZRangeByScore(ctx, keySched+tenant, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 8,
	}).Result()
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}

	for _, jobID := range candidates {
		claimed, err := q.rdb.SetNX(ctx, keyLease+jobID, workerID, q.opts.LeaseDuration).Result()
		if err != nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
		if !claimed {
			continue // another worker holds this job
		}

		job, err := q.GetJob(ctx, jobID)
		if err != nil || job == nil {
			// Orphaned queue entry; drop it.
			q.rdb.ZRem(ctx, keySched+tenant, jobID)
			q.rdb.Del(ctx, keyLease+jobID)
			continue
		}

		job.Status = models.StatusInFlight
		if err := q.saveJob(ctx, job); err != nil {
			q.rdb.Del(ctx, keyLease+jobID)
			return nil, err
		}

		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, keySched+tenant, jobID)
		pipe.ZAdd(ctx, keyInflight+tenant, redis.Z{
			Score:  float64(now.Add(q.opts.LeaseDuration).UnixMilli()),
			Member: jobID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
		return job, nil
	}
	return nil, nil
}

// reclaimExpired returns jobs whose lease lapsed (worker crash or stall) to
// the visible set. The send may already have happened: delivery is
// at-least-once, deduped downstream by providerMessageId.
func (q *Queue) reclaimExpired(ctx context.Context, tenant string) error {
	now := q.now().UTC()

	expired, err := q.rdb.ZRangeByScore(ctx, keyInflight+tenant, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return err
	}

	for _, jobID := range expired {
		job, err := q.GetJob(ctx, jobID)
		if err != nil {
			return err
		}

		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, keyInflight+tenant, jobID)
		pipe.Del(ctx, keyLease+jobID)
		if job != nil {
			job.Status = models.StatusPending
			data, merr := json.Marshal(job)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, keyJob+jobID, data, 0)
			pipe.ZAdd(ctx, keySched+tenant, redis.Z{
				Score:  float64(now.UnixMilli()),
				Member: jobID,
			})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}

		q.logger.Warn("lease expired, job returned to queue", map[string]interface{}{
			"jobId":  jobID,
			"tenant": tenant,
		})
	}
	return nil
}

// ExtendLease keeps a slow job invisible while its worker is still alive.
func (q *Queue) ExtendLease(ctx context.Context, job *models.NotificationJob) error {
	ok, err := q.rdb.Expire(ctx, keyLease+job.ID, q.opts.LeaseDuration).Result()
	if err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	if !ok {
		return fmt.Errorf("lease for job %s no longer held", job.ID)
	}
	return q.rdb.ZAdd(ctx, keyInflight+job.TenantID, redis.Z{
		Score:  float64(q.now().UTC().Add(q.opts.LeaseDuration).UnixMilli()),
		Member: job.ID,
	}).Err()
}

// Complete finishes a leased job with a successful terminal status.
func (q *Queue) Complete(ctx context.Context, job *models.NotificationJob, status models.JobStatus) error {
	job.Status = status
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyInflight+job.TenantID, job.ID)
	pipe.Del(ctx, keyLease+job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

// Retry returns a leased job to the queue, visible again after delay.
// The caller has already incremented attemptCount.
func (q *Queue) Retry(ctx context.Context, job *models.NotificationJob, delay time.Duration) error {
	job.Status = models.StatusPending
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	visibleAt := q.now().UTC().Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyInflight+job.TenantID, job.ID)
	pipe.Del(ctx, keyLease+job.ID)
	pipe.ZAdd(ctx, keySched+job.TenantID, redis.Z{
		Score:  float64(visibleAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

// Bury moves a leased job to the dead-letter set and releases its dedupe
// slot so a genuinely new business event can enqueue a replacement.
func (q *Queue) Bury(ctx context.Context, job *models.NotificationJob, reason string) error {
	job.Status = models.StatusDead
	job.LastError = reason
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyInflight+job.TenantID, job.ID)
	pipe.Del(ctx, keyLease+job.ID)
	pipe.ZAdd(ctx, keyDead, redis.Z{
		Score:  float64(q.now().UTC().UnixMilli()),
		Member: job.ID,
	})
	pipe.Del(ctx, keyDedupe+job.TenantID+":"+job.DedupeKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

// RequeueDead resets a dead job to pending with a fresh attempt budget.
// Operator action from the dead-letter listing.
func (q *Queue) RequeueDead(ctx context.Context, jobID string) (*models.NotificationJob, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.NewJobNotFoundError(jobID)
	}
	if job.Status != models.StatusDead {
		return nil, errors.NewValidationError(fmt.Sprintf("job %s is %s, not dead", jobID, job.Status))
	}

	job.Status = models.StatusPending
	job.AttemptCount = 0
	job.LastError = ""
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyDead, jobID)
	pipe.ZAdd(ctx, keySched+job.TenantID, redis.Z{
		Score:  float64(q.now().UTC().UnixMilli()),
		Member: jobID,
	})
	pipe.SAdd(ctx, keyTenants, job.TenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}
	return job, nil
}

// DeadLetters lists jobs in the dead-letter set, most recent first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]models.NotificationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := q.rdb.ZRevRange(ctx, keyDead, 0, limit-1).Result()
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}

	out := make([]models.NotificationJob, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil {
			out = append(out, *job)
		}
	}
	return out, nil
}

// Depth reports queue occupancy across all tenants.
func (q *Queue) Depth(ctx context.Context) (*models.QueueDepth, error) {
	tenants, err := q.rdb.SMembers(ctx, keyTenants).Result()
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}

	depth := &models.QueueDepth{}
	for _, tenant := range tenants {
		pending, err := q.rdb.ZCard(ctx, keySched+tenant).Result()
		if err != nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
		inflight, err := q.rdb.ZCard(ctx, keyInflight+tenant).Result()
		if err != nil {
			return nil, errors.NewQueueUnavailableError(err)
		}
		depth.Pending += pending
		depth.InFlight += inflight
	}

	dead, err := q.rdb.ZCard(ctx, keyDead).Result()
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}
	depth.Dead = dead
	return depth, nil
}

// GetJob loads a job by id, or nil when unknown.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*models.NotificationJob, error) {
	data, err := q.rdb.Get(ctx, keyJob+jobID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}

	var job models.NotificationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("corrupt job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *models.NotificationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := q.rdb.Set(ctx, keyJob+job.ID, data, 0).Err(); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

// SetClock overrides the queue's time source. Test hook.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}
