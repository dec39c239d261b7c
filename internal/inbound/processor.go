// internal/inbound/processor.go
// Package inbound turns provider callbacks into state: delivery and read
// receipts update the tracker, customer replies become domain events, and
// everything is verified, deduplicated and normalized before it touches
// business logic.
package inbound

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"

	"github.com/redis/go-redis/v9"
)

const keyCallback = "nq:cb:" // cb:{channel}:{callbackId} -> seen marker

// Events is the hook into the business layer. Implementations receive
// exactly-once domain events derived from verified customer replies.
type Events interface {
	CustomerConfirmed(ctx context.Context, event *models.InboundEvent) error
	CustomerRequestedCancellation(ctx context.Context, event *models.InboundEvent) error
}

// enqueuer is the slice of the queue the processor needs for auto-replies.
type enqueuer interface {
	Enqueue(ctx context.Context, job *models.NotificationJob) (*queue.EnqueueResult, error)
	GetJob(ctx context.Context, jobID string) (*models.NotificationJob, error)
}

// receiptTracker resolves provider message ids and records transitions.
type receiptTracker interface {
	ResolveProviderMessage(ctx context.Context, providerMessageID string) (string, error)
	Record(ctx context.Context, job *models.NotificationJob, status models.JobStatus, source models.TransitionSource, detail string) (*models.DeliveryTransition, error)
}

// Options tunes callback processing.
type Options struct {
	// DedupeTTL bounds the window in which a redelivered callback id is
	// recognized as a duplicate.
	DedupeTTL time.Duration
	// HelpTenant and HelpTemplate identify the auto-reply sent for HELP.
	HelpTenant   string
	HelpTemplate string
}

// Processor handles one provider callback end to end.
type Processor struct {
	adapters *provider.Registry
	tracker  receiptTracker
	queue    enqueuer
	events   Events
	rdb      *redis.Client
	opts     Options
	logger   logger.Logger
	now      func() time.Time
}

func New(adapters *provider.Registry, tr receiptTracker, q enqueuer, events Events, rdb *redis.Client, opts Options, log logger.Logger) *Processor {
	if opts.DedupeTTL == 0 {
		opts.DedupeTTL = 24 * time.Hour
	}
	if opts.HelpTenant == "" {
		opts.HelpTenant = "system"
	}
	if opts.HelpTemplate == "" {
		opts.HelpTemplate = "help-reply"
	}
	return &Processor{
		adapters: adapters,
		tracker:  tr,
		queue:    q,
		events:   events,
		rdb:      rdb,
		opts:     opts,
		logger:   log.WithFields(map[string]interface{}{"component": "inbound"}),
		now:      time.Now,
	}
}

// callbackPayload is the normalized wire shape providers post to our webhook
// endpoints.
type callbackPayload struct {
	CallbackID string `json:"callbackId"`
	EventType  string `json:"eventType"` // delivery | read | reply
	MessageID  string `json:"messageId"`
	From       string `json:"from"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"` // unix seconds, optional
}

// HandleCallback verifies, deduplicates and applies one raw provider
// callback. Signature failures return an error so the HTTP layer can answer
// 401; everything past verification is answered 200 regardless, because
// providers retry on non-2xx and a malformed callback never gets better.
func (p *Processor) HandleCallback(ctx context.Context, channel models.Channel, rawPayload []byte, signatureHeader string) error {
	adapter, err := p.adapters.Get(channel)
	if err != nil {
		metrics.InboundCallbacks.WithLabelValues(string(channel), "rejected").Inc()
		return errors.NewCallbackMalformedError(string(channel), err)
	}

	if !adapter.VerifyInboundSignature(rawPayload, signatureHeader) {
		metrics.InboundCallbacks.WithLabelValues(string(channel), "rejected").Inc()
		return errors.NewCallbackSignatureError(string(channel))
	}

	var payload callbackPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		// Verified but unparseable: log and drop, never retried.
		metrics.InboundCallbacks.WithLabelValues(string(channel), "malformed").Inc()
		p.logger.Warn("discarding malformed callback", map[string]interface{}{
			"channel": channel,
			"error":   err,
		})
		return nil
	}

	duplicate, err := p.markSeen(ctx, channel, &payload, rawPayload)
	if err != nil {
		return err
	}
	if duplicate {
		metrics.InboundCallbacks.WithLabelValues(string(channel), "duplicate").Inc()
		return nil
	}

	event := &models.InboundEvent{
		Channel:           channel,
		ProviderMessageID: payload.MessageID,
		SenderAddress:     payload.From,
		Payload:           payload.Text,
		ReceivedAt:        p.now().UTC(),
		Verified:          true,
	}

	switch payload.EventType {
	case "delivery":
		event.EventKind = models.EventDeliveryReceipt
		return p.applyReceipt(ctx, event, models.StatusDelivered)
	case "read":
		event.EventKind = models.EventReadReceipt
		return p.applyReceipt(ctx, event, models.StatusRead)
	case "reply":
		event.EventKind = models.EventInboundReply
		return p.applyReply(ctx, event)
	default:
		metrics.InboundCallbacks.WithLabelValues(string(channel), "malformed").Inc()
		p.logger.Warn("discarding callback with unknown event type", map[string]interface{}{
			"channel":   channel,
			"eventType": payload.EventType,
		})
		return nil
	}
}

// markSeen claims the callback id so provider redeliveries collapse to one
// application. Callbacks without an id are keyed by payload hash.
func (p *Processor) markSeen(ctx context.Context, channel models.Channel, payload *callbackPayload, raw []byte) (bool, error) {
	id := payload.CallbackID
	if id == "" {
		sum := sha256.Sum256(raw)
		id = hex.EncodeToString(sum[:])
	}
	set, err := p.rdb.SetNX(ctx, keyCallback+string(channel)+":"+id, 1, p.opts.DedupeTTL).Result()
	if err != nil {
		return false, errors.NewQueueUnavailableError(err)
	}
	return !set, nil
}

// applyReceipt correlates a delivery or read receipt with its job and
// records the transition. Receipts for unknown message ids are dropped.
func (p *Processor) applyReceipt(ctx context.Context, event *models.InboundEvent, status models.JobStatus) error {
	jobID, err := p.tracker.ResolveProviderMessage(ctx, event.ProviderMessageID)
	if err != nil {
		return err
	}
	if jobID == "" {
		metrics.InboundCallbacks.WithLabelValues(string(event.Channel), "unmatched").Inc()
		p.logger.Warn("receipt for unknown provider message id", map[string]interface{}{
			"channel":           event.Channel,
			"providerMessageId": event.ProviderMessageID,
		})
		return nil
	}

	job, err := p.queue.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		metrics.InboundCallbacks.WithLabelValues(string(event.Channel), "unmatched").Inc()
		return nil
	}

	if _, err := p.tracker.Record(ctx, job, status, models.SourceProvider, string(event.EventKind)); err != nil {
		return err
	}
	metrics.InboundCallbacks.WithLabelValues(string(event.Channel), "applied").Inc()
	return nil
}

// applyReply normalizes the customer's text and routes it through the
// command grammar. Unrecognized replies are logged and dropped.
func (p *Processor) applyReply(ctx context.Context, event *models.InboundEvent) error {
	cmd := ParseCommand(event.Payload)

	// Confirm and cancel act on a specific appointment: resolve the reply's
	// message id back to the job so the event carries its correlation id.
	if cmd == CommandConfirm || cmd == CommandCancel {
		if err := p.correlateReply(ctx, event); err != nil {
			return err
		}
	}

	switch cmd {
	case CommandConfirm:
		if err := p.events.CustomerConfirmed(ctx, event); err != nil {
			return err
		}
		metrics.DomainEvents.WithLabelValues("customer-confirmed").Inc()
	case CommandCancel:
		if err := p.events.CustomerRequestedCancellation(ctx, event); err != nil {
			return err
		}
		metrics.DomainEvents.WithLabelValues("cancellation-requested").Inc()
	case CommandHelp:
		if err := p.enqueueHelpReply(ctx, event); err != nil {
			return err
		}
		metrics.DomainEvents.WithLabelValues("help-requested").Inc()
	default:
		metrics.InboundCallbacks.WithLabelValues(string(event.Channel), "unrecognized").Inc()
		p.logger.Info("unrecognized reply dropped", map[string]interface{}{
			"channel": event.Channel,
			"sender":  event.SenderAddress,
		})
		return nil
	}

	metrics.InboundCallbacks.WithLabelValues(string(event.Channel), "applied").Inc()
	return nil
}

// correlateReply walks the same path as applyReceipt: provider message id to
// job to the business correlation. A reply without a resolvable id still
// fires its event; the sender address is all the context available then.
func (p *Processor) correlateReply(ctx context.Context, event *models.InboundEvent) error {
	if event.ProviderMessageID == "" {
		return nil
	}
	jobID, err := p.tracker.ResolveProviderMessage(ctx, event.ProviderMessageID)
	if err != nil {
		return err
	}
	if jobID == "" {
		metrics.InboundCallbacks.WithLabelValues(string(event.Channel), "unmatched").Inc()
		p.logger.Warn("reply references unknown provider message id", map[string]interface{}{
			"channel":           event.Channel,
			"providerMessageId": event.ProviderMessageID,
		})
		return nil
	}
	job, err := p.queue.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job != nil {
		event.TenantID = job.TenantID
		event.CorrelationID = job.CorrelationID
	}
	return nil
}

// enqueueHelpReply answers HELP with a templated auto-reply through the
// normal dispatch pipeline, so it gets the same retry and rate-limit
// treatment as any other notification.
func (p *Processor) enqueueHelpReply(ctx context.Context, event *models.InboundEvent) error {
	job := &models.NotificationJob{
		TenantID:         p.opts.HelpTenant,
		Channel:          event.Channel,
		NotificationType: models.TypeCustom,
		TemplateName:     p.opts.HelpTemplate,
		Variables:        map[string]string{},
		RecipientAddress: event.SenderAddress,
		// One help reply per sender per dedupe window.
		CorrelationID: "help:" + event.SenderAddress,
	}
	_, err := p.queue.Enqueue(ctx, job)
	return err
}
