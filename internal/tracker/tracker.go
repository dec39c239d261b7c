// internal/tracker/tracker.go
// Package tracker records the delivery lifecycle of notification jobs as an
// append-only transition log in Postgres, with a Redis index mapping provider
// message ids back to job ids for callback correlation.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyProviderMsg = "nq:pmsg:" // pmsg:{providerMessageId} -> job id

// Options tunes tracker behavior.
type Options struct {
	// ProviderIndexTTL bounds how long a provider message id stays
	// resolvable. Receipts arriving later than this are unmatchable.
	ProviderIndexTTL time.Duration
}

// Tracker persists delivery transitions and resolves provider callbacks.
type Tracker struct {
	db     *sql.DB
	rdb    *redis.Client
	opts   Options
	logger logger.Logger
	now    func() time.Time
}

func New(db *sql.DB, rdb *redis.Client, opts Options, log logger.Logger) *Tracker {
	if opts.ProviderIndexTTL == 0 {
		opts.ProviderIndexTTL = 72 * time.Hour
	}
	return &Tracker{
		db:     db,
		rdb:    rdb,
		opts:   opts,
		logger: log.WithFields(map[string]interface{}{"component": "tracker"}),
		now:    time.Now,
	}
}

// Record appends one transition to the job's delivery log. Transitions are
// never rewritten: a receipt that arrives behind an already-recorded later
// state is stored with outOfOrder=true and does not change the effective
// status.
func (t *Tracker) Record(ctx context.Context, job *models.NotificationJob, status models.JobStatus, source models.TransitionSource, detail string) (*models.DeliveryTransition, error) {
	current, err := t.EffectiveStatus(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	transition := &models.DeliveryTransition{
		JobID:      job.ID,
		Status:     status,
		Source:     source,
		OccurredAt: t.now().UTC(),
		Detail:     detail,
	}
	// Only strictly backward transitions are reordered callbacks. A repeat
	// of the current rank (a second failed attempt, a duplicate receipt) is
	// normal progression noise.
	if current != "" && models.StatusRank(status) < models.StatusRank(current) {
		transition.OutOfOrder = true
	}

	query := `
		INSERT INTO delivery_records (job_id, tenant_id, channel, status, source, occurred_at, out_of_order, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = t.db.ExecContext(ctx, query,
		transition.JobID,
		job.TenantID,
		string(job.Channel),
		string(transition.Status),
		string(transition.Source),
		transition.OccurredAt,
		transition.OutOfOrder,
		transition.Detail,
	)
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}

	if transition.OutOfOrder {
		t.logger.Warn("out-of-order delivery transition recorded", map[string]interface{}{
			"jobId":     job.ID,
			"status":    status,
			"effective": current,
		})
	}
	return transition, nil
}

// EffectiveStatus returns the highest-ranked status recorded for the job,
// or "" when the job has no transitions yet.
func (t *Tracker) EffectiveStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	query := `
		SELECT status FROM delivery_records
		WHERE job_id = $1
		ORDER BY ` + rankExpr("status") + ` DESC, occurred_at DESC
		LIMIT 1`

	var status string
	err := t.db.QueryRowContext(ctx, query, jobID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewStorageUnavailableError(err)
	}
	return models.JobStatus(status), nil
}

// History returns the job's transitions in recorded order.
func (t *Tracker) History(ctx context.Context, jobID string) ([]models.DeliveryTransition, error) {
	query := `
		SELECT job_id, status, source, occurred_at, out_of_order, detail
		FROM delivery_records
		WHERE job_id = $1
		ORDER BY occurred_at ASC, id ASC`

	rows, err := t.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	defer rows.Close()

	var out []models.DeliveryTransition
	for rows.Next() {
		var tr models.DeliveryTransition
		var status, source string
		if err := rows.Scan(&tr.JobID, &status, &source, &tr.OccurredAt, &tr.OutOfOrder, &tr.Detail); err != nil {
			return nil, errors.NewStorageUnavailableError(err)
		}
		tr.Status = models.JobStatus(status)
		tr.Source = models.TransitionSource(source)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	return out, nil
}

// IndexProviderMessage maps the provider's message id to our job id so a
// later delivery or read receipt can find its job.
func (t *Tracker) IndexProviderMessage(ctx context.Context, providerMessageID, jobID string) error {
	if providerMessageID == "" {
		return nil
	}
	err := t.rdb.Set(ctx, keyProviderMsg+providerMessageID, jobID, t.opts.ProviderIndexTTL).Err()
	if err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

// ResolveProviderMessage returns the job id for a provider message id, or ""
// when the id is unknown or the index entry has aged out.
func (t *Tracker) ResolveProviderMessage(ctx context.Context, providerMessageID string) (string, error) {
	jobID, err := t.rdb.Get(ctx, keyProviderMsg+providerMessageID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.NewQueueUnavailableError(err)
	}
	return jobID, nil
}

// AggregateStats computes per-tenant delivery rates over a window, counting
// each job once at its furthest recorded state.
func (t *Tracker) AggregateStats(ctx context.Context, tenantID string, since time.Time) (*models.TenantStats, error) {
	query := `
		SELECT final.status, COUNT(*)
		FROM (
			SELECT DISTINCT ON (job_id) job_id, status
			FROM delivery_records
			WHERE tenant_id = $1 AND occurred_at >= $2
			ORDER BY job_id, ` + rankExpr("status") + ` DESC
		) final
		GROUP BY final.status`

	rows, err := t.db.QueryContext(ctx, query, tenantID, since)
	if err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}
	defer rows.Close()

	stats := &models.TenantStats{TenantID: tenantID}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.NewStorageUnavailableError(err)
		}
		switch models.JobStatus(status) {
		case models.StatusSent:
			stats.Sent += count
		case models.StatusDelivered:
			stats.Delivered += count
		case models.StatusRead:
			stats.Read += count
		case models.StatusFailed, models.StatusDead:
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageUnavailableError(err)
	}

	// Delivered and read imply sent; rates are over everything that left
	// the door.
	attempted := stats.Sent + stats.Delivered + stats.Read
	if attempted > 0 {
		stats.DeliveryRate = float64(stats.Delivered+stats.Read) / float64(attempted)
		stats.ReadRate = float64(stats.Read) / float64(attempted)
	}
	return stats, nil
}

// rankExpr renders the status ordering used for monotonicity as SQL, kept in
// step with models.StatusRank.
func rankExpr(col string) string {
	return fmt.Sprintf(`CASE %s
		WHEN 'pending' THEN 0
		WHEN 'in-flight' THEN 1
		WHEN 'failed' THEN 2
		WHEN 'sent' THEN 3
		WHEN 'delivered' THEN 4
		WHEN 'read' THEN 5
		WHEN 'dead' THEN 6
		ELSE -1 END`, col)
}

// SetClock overrides the tracker's time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}
