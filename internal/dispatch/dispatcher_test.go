// internal/dispatch/dispatcher_test.go
package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
	"notification-engine/internal/template"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter scripts a sequence of send outcomes.
type fakeAdapter struct {
	mu      sync.Mutex
	channel models.Channel
	results []*provider.SendResult
	calls   int
	lastMsg *models.RenderedMessage
}

func (f *fakeAdapter) Channel() models.Channel { return f.channel }

func (f *fakeAdapter) Send(_ context.Context, _ string, msg *models.RenderedMessage) (*provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastMsg = msg
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func (f *fakeAdapter) HealthCheck(context.Context) error { return nil }

func (f *fakeAdapter) VerifyInboundSignature([]byte, string) bool { return true }

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRecorder captures recorded transitions in memory.
type fakeRecorder struct {
	mu          sync.Mutex
	transitions []models.DeliveryTransition
	indexed     map[string]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{indexed: make(map[string]string)}
}

func (f *fakeRecorder) Record(_ context.Context, job *models.NotificationJob, status models.JobStatus, source models.TransitionSource, detail string) (*models.DeliveryTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := models.DeliveryTransition{JobID: job.ID, Status: status, Source: source, Detail: detail, OccurredAt: time.Now().UTC()}
	f.transitions = append(f.transitions, tr)
	return &tr, nil
}

func (f *fakeRecorder) IndexProviderMessage(_ context.Context, providerMessageID, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if providerMessageID != "" {
		f.indexed[providerMessageID] = jobID
	}
	return nil
}

func (f *fakeRecorder) statuses() []models.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.JobStatus, 0, len(f.transitions))
	for _, tr := range f.transitions {
		out = append(out, tr.Status)
	}
	return out
}

type dispatchFixture struct {
	queue    *queue.Queue
	recorder *fakeRecorder
	adapter  *fakeAdapter
	dsp      *Dispatcher
}

func setupDispatch(t *testing.T, results ...*provider.SendResult) *dispatchFixture {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewTestLogger(t)
	q := queue.New(rdb, queue.Options{LeaseDuration: 30 * time.Second}, log)

	store := template.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &models.MessageTemplate{
		TenantID:          "tenant-a",
		Name:              "appointment-reminder",
		Channel:           models.ChannelSMS,
		BodyTemplate:      "Hi {{customerName}}, see you at {{time}}.",
		RequiredVariables: []string{"customerName"},
		Active:            true,
		IsDefault:         true,
	}))

	adapter := &fakeAdapter{channel: models.ChannelSMS, results: results}
	registry := provider.NewRegistry()
	registry.Register(adapter)

	recorder := newFakeRecorder()
	dsp := New(q, template.NewEngine(store), recorder, registry, &observability.Observability{}, Options{
		Workers:      1,
		MaxAttempts:  3,
		PollInterval: 10 * time.Millisecond,
		Backoff:      BackoffPolicy{Base: time.Millisecond, Cap: 5 * time.Millisecond},
	}, log)

	return &dispatchFixture{queue: q, recorder: recorder, adapter: adapter, dsp: dsp}
}

func dispatchJob() *models.NotificationJob {
	return &models.NotificationJob{
		TenantID:         "tenant-a",
		Channel:          models.ChannelSMS,
		NotificationType: models.TypeReminder,
		TemplateName:     "appointment-reminder",
		Variables:        map[string]string{"customerName": "Dana", "time": "3pm"},
		RecipientAddress: "+15550100",
		CorrelationID:    "appt-1",
	}
}

func waitForStatus(t *testing.T, q *queue.Queue, jobID string, want models.JobStatus) *models.NotificationJob {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestDispatchSuccess(t *testing.T) {
	f := setupDispatch(t, &provider.SendResult{Success: true, ProviderMessageID: "sns-1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := f.queue.Enqueue(ctx, dispatchJob())
	require.NoError(t, err)

	f.dsp.Start(ctx)
	job := waitForStatus(t, f.queue, res.JobID, models.StatusSent)
	cancel()
	f.dsp.Wait()

	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, []models.JobStatus{models.StatusInFlight, models.StatusSent}, f.recorder.statuses())
	assert.Equal(t, models.SourceDispatcher, f.recorder.transitions[0].Source, "record opens with the first in-flight transition")
	assert.Equal(t, res.JobID, f.recorder.indexed["sns-1"])
	assert.Contains(t, f.adapter.lastMsg.Body, "Hi Dana, see you at 3pm.")
}

func TestDispatchRetriesTransientThenSucceeds(t *testing.T) {
	f := setupDispatch(t,
		&provider.SendResult{Success: false, ErrorKind: provider.ErrorTransient, ErrorDetail: "throttled"},
		&provider.SendResult{Success: true, ProviderMessageID: "sns-2"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := f.queue.Enqueue(ctx, dispatchJob())
	require.NoError(t, err)

	f.dsp.Start(ctx)
	job := waitForStatus(t, f.queue, res.JobID, models.StatusSent)
	cancel()
	f.dsp.Wait()

	assert.Equal(t, 2, job.AttemptCount)
	assert.Equal(t, []models.JobStatus{models.StatusInFlight, models.StatusFailed, models.StatusSent}, f.recorder.statuses())
}

func TestDispatchPermanentFailureBuriesImmediately(t *testing.T) {
	f := setupDispatch(t, &provider.SendResult{Success: false, ErrorKind: provider.ErrorPermanent, ErrorDetail: "invalid recipient"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := f.queue.Enqueue(ctx, dispatchJob())
	require.NoError(t, err)

	f.dsp.Start(ctx)
	job := waitForStatus(t, f.queue, res.JobID, models.StatusDead)
	cancel()
	f.dsp.Wait()

	assert.Equal(t, 1, f.adapter.callCount(), "permanent failures must not be retried")
	assert.Equal(t, "invalid recipient", job.LastError)
	assert.Equal(t, []models.JobStatus{models.StatusInFlight, models.StatusFailed, models.StatusDead}, f.recorder.statuses())
}

func TestDispatchExhaustsAttempts(t *testing.T) {
	f := setupDispatch(t, &provider.SendResult{Success: false, ErrorKind: provider.ErrorTransient, ErrorDetail: "timeout"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := f.queue.Enqueue(ctx, dispatchJob())
	require.NoError(t, err)

	f.dsp.Start(ctx)
	job := waitForStatus(t, f.queue, res.JobID, models.StatusDead)
	cancel()
	f.dsp.Wait()

	assert.Equal(t, 3, job.AttemptCount)
	assert.Equal(t, 3, f.adapter.callCount())
}

func TestDispatchMissingVariableKillsJob(t *testing.T) {
	f := setupDispatch(t, &provider.SendResult{Success: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := dispatchJob()
	job.Variables = map[string]string{"time": "3pm"} // customerName is required

	res, err := f.queue.Enqueue(ctx, job)
	require.NoError(t, err)

	f.dsp.Start(ctx)
	dead := waitForStatus(t, f.queue, res.JobID, models.StatusDead)
	cancel()
	f.dsp.Wait()

	assert.Zero(t, f.adapter.callCount(), "nothing may reach the provider")
	assert.Contains(t, dead.LastError, "customerName")
}

func TestBackoffDelay(t *testing.T) {
	p := BackoffPolicy{Base: 2 * time.Second, Cap: 5 * time.Minute}

	assert.Equal(t, 2*time.Second, p.Delay(1, 0))
	assert.Equal(t, 4*time.Second, p.Delay(2, 0))
	assert.Equal(t, 8*time.Second, p.Delay(3, 0))
	assert.Equal(t, 5*time.Minute, p.Delay(20, 0), "delay is capped")
	assert.Equal(t, 10*time.Minute, p.Delay(1, 10*time.Minute), "retry-after hint wins when longer")
}

func TestBackoffJitterBounds(t *testing.T) {
	p := BackoffPolicy{Base: 2 * time.Second, Cap: 5 * time.Minute, Jitter: 0.2}

	for i := 0; i < 100; i++ {
		d := p.Delay(2, 0)
		assert.GreaterOrEqual(t, d, 3200*time.Millisecond)
		assert.LessOrEqual(t, d, 4800*time.Millisecond)
	}
}

func TestTenantLimiterIsolatesBuckets(t *testing.T) {
	l := newTenantLimiter(1, 1)
	ctx := context.Background()

	// First token in each bucket is immediate even after another tenant
	// drained its own bucket.
	require.NoError(t, l.Wait(ctx, "tenant-a", "sms"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "tenant-b", "sms"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
