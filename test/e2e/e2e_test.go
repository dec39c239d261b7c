// test/e2e/e2e_test.go
// Exercises the full pipeline over HTTP: template creation, enqueue,
// dispatch through a provider adapter, delivery receipt webhook and an
// inbound reply firing a domain event.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"notification-engine/internal/api"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/observability"
	"notification-engine/internal/dispatch"
	"notification-engine/internal/inbound"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
	"notification-engine/internal/template"
	"notification-engine/internal/tracker"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	webhookSecret     = "e2e-secret"
	providerMessageID = "prov-msg-1"
)

type chatAdapter struct {
	mu    sync.Mutex
	sends []*models.RenderedMessage
}

func (a *chatAdapter) Channel() models.Channel { return models.ChannelChat }

func (a *chatAdapter) Send(_ context.Context, _ string, msg *models.RenderedMessage) (*provider.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, msg)
	return &provider.SendResult{Success: true, ProviderMessageID: providerMessageID}, nil
}

func (a *chatAdapter) HealthCheck(context.Context) error { return nil }

func (a *chatAdapter) VerifyInboundSignature(rawPayload []byte, signatureHeader string) bool {
	return provider.VerifyHMACSignature([]byte(webhookSecret), rawPayload, signatureHeader)
}

func (a *chatAdapter) sent() []*models.RenderedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.RenderedMessage(nil), a.sends...)
}

type capturingEvents struct {
	mu        sync.Mutex
	confirmed []*models.InboundEvent
	cancelled []*models.InboundEvent
}

func (e *capturingEvents) CustomerConfirmed(_ context.Context, ev *models.InboundEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmed = append(e.confirmed, ev)
	return nil
}

func (e *capturingEvents) CustomerRequestedCancellation(_ context.Context, ev *models.InboundEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, ev)
	return nil
}

func (e *capturingEvents) confirmedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.confirmed)
}

func TestNotificationPipeline(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)
	adapter := &chatAdapter{}
	registry := provider.NewRegistry()
	registry.Register(adapter)

	q := queue.New(rdb, queue.Options{}, log)
	tr := tracker.New(db, rdb, tracker.Options{}, log)
	store := template.NewMemoryStore()
	engine := template.NewEngine(store)
	events := &capturingEvents{}

	processor := inbound.New(registry, tr, q, events, rdb, inbound.Options{}, log)

	dispatcher := dispatch.New(q, engine, tr, registry, &observability.Observability{}, dispatch.Options{
		Workers:      2,
		PollInterval: 20 * time.Millisecond,
	}, log)

	srv := api.NewServer(config.HTTPConfig{Address: ":0"}, api.Deps{
		Queue:     q,
		Tracker:   tr,
		Templates: store,
		Processor: processor,
		Adapters:  registry,
		Redis:     rdb,
		Logger:    log,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	// The record opens in-flight, the sent transition follows, then the
	// delivery receipt sees both.
	mock.ExpectQuery("SELECT status FROM delivery_records").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectExec("INSERT INTO delivery_records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT status FROM delivery_records").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("in-flight"))
	mock.ExpectExec("INSERT INTO delivery_records").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectQuery("SELECT status FROM delivery_records").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))
	mock.ExpectExec("INSERT INTO delivery_records").
		WillReturnResult(sqlmock.NewResult(3, 1))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatcher.Start(ctx)

	// Tenant configures a template.
	resp := postJSON(t, ts.URL+"/api/v1/tenants/tenant-a/templates", map[string]interface{}{
		"name":              "appointment-reminder",
		"channel":           "chat",
		"bodyTemplate":      "Hi {{customerName}}, see you at {{time}}.",
		"requiredVariables": []string{"customerName", "time"},
		"active":            true,
		"isDefault":         true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Client enqueues a notification.
	resp = postJSON(t, ts.URL+"/api/v1/notifications", map[string]interface{}{
		"tenantId":         "tenant-a",
		"channel":          "chat",
		"notificationType": "reminder",
		"templateName":     "appointment-reminder",
		"recipientAddress": "+15550100",
		"correlationId":    "appt-42",
		"variables":        map[string]string{"customerName": "Dana", "time": "3pm"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var enq struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&enq))
	resp.Body.Close()

	// Indexing the provider message id is the last step of a settled send.
	require.Eventually(t, func() bool {
		jobID, err := tr.ResolveProviderMessage(ctx, providerMessageID)
		return err == nil && jobID == enq.JobID
	}, 5*time.Second, 25*time.Millisecond)

	sends := adapter.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, "Hi Dana, see you at 3pm.", sends[0].Body)

	job, err := q.GetJob(ctx, enq.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.StatusSent, job.Status)

	// Provider reports delivery; the receipt correlates back to the job.
	receipt := []byte(`{"callbackId":"cb-1","eventType":"delivery","messageId":"` + providerMessageID + `"}`)
	postWebhook(t, ts.URL, receipt, http.StatusOK)

	require.NoError(t, mock.ExpectationsWereMet())

	// Customer replies YES; exactly one confirmation fires, and the
	// provider's redelivery of the same callback is absorbed.
	reply := []byte(`{"callbackId":"cb-2","eventType":"reply","from":"+15550100","text":"Yes!"}`)
	postWebhook(t, ts.URL, reply, http.StatusOK)
	postWebhook(t, ts.URL, reply, http.StatusOK)
	assert.Equal(t, 1, events.confirmedCount())

	// Tampered payloads never reach the processor.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/chat", bytes.NewReader(reply))
	req.Header.Set("X-Signature", "sha256=0000")
	badResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, badResp.StatusCode)
	badResp.Body.Close()
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func postWebhook(t *testing.T, baseURL string, payload []byte, wantStatus int) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/webhooks/chat", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("X-Signature", provider.SignPayload([]byte(webhookSecret), payload))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, wantStatus, resp.StatusCode)
	resp.Body.Close()
}
