// internal/models/models.go
package models

import (
	"fmt"
	"time"
)

// Channel identifies one outbound transport type.
type Channel string

const (
	ChannelChat  Channel = "chat" // conversational messaging
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ValidChannel reports whether c is one of the supported channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelChat, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

// NotificationType classifies the business meaning of a notification.
type NotificationType string

const (
	TypeConfirmation NotificationType = "confirmation"
	TypeReminder     NotificationType = "reminder"
	TypeCancellation NotificationType = "cancellation"
	TypeReschedule   NotificationType = "reschedule"
	TypeCustom       NotificationType = "custom"
)

// ValidNotificationType reports whether t is a known notification type.
func ValidNotificationType(t NotificationType) bool {
	switch t {
	case TypeConfirmation, TypeReminder, TypeCancellation, TypeReschedule, TypeCustom:
		return true
	}
	return false
}

// JobStatus is the state of a NotificationJob in its lifecycle.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusInFlight  JobStatus = "in-flight"
	StatusSent      JobStatus = "sent"
	StatusDelivered JobStatus = "delivered"
	StatusRead      JobStatus = "read"
	StatusFailed    JobStatus = "failed"
	StatusDead      JobStatus = "dead"
)

// Terminal reports whether s ends the job lifecycle. A sent job is terminal
// from the queue's perspective: further transitions (delivered, read) arrive
// via provider callbacks and only touch the delivery record.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusDead:
		return true
	}
	return false
}

// StatusRank orders delivery statuses for monotonicity checks. A transition
// to a lower-or-equal rank than one already recorded is out of order.
func StatusRank(s JobStatus) int {
	switch s {
	case StatusPending:
		return 0
	case StatusInFlight:
		return 1
	case StatusFailed:
		return 2
	case StatusSent:
		return 3
	case StatusDelivered:
		return 4
	case StatusRead:
		return 5
	case StatusDead:
		return 6
	}
	return -1
}

// NotificationJob is the unit of dispatch work.
type NotificationJob struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenantId"`
	Channel          Channel           `json:"channel"`
	NotificationType NotificationType  `json:"notificationType"`
	TemplateName     string            `json:"templateName"`
	Variables        map[string]string `json:"variables"`
	RecipientAddress string            `json:"recipientAddress"`
	ScheduledFor     time.Time         `json:"scheduledFor"`
	AttemptCount     int               `json:"attemptCount"`
	MaxAttempts      int               `json:"maxAttempts"`
	Status           JobStatus         `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
	LastAttemptAt    *time.Time        `json:"lastAttemptAt,omitempty"`
	CorrelationID    string            `json:"correlationId"`
	LastError        string            `json:"lastError,omitempty"`
}

// DedupeKey derives the idempotent-enqueue key. Two business events with the
// same correlation id, type and channel describe the same notification.
func (j *NotificationJob) DedupeKey() string {
	return DedupeKey(j.CorrelationID, j.NotificationType, j.Channel)
}

// DedupeKey builds the enqueue dedupe key for the given triple.
func DedupeKey(correlationID string, t NotificationType, c Channel) string {
	return fmt.Sprintf("%s:%s:%s", correlationID, t, c)
}

// MessageTemplate is a tenant-owned template for one channel and name.
type MessageTemplate struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	Name              string    `json:"name"`
	Channel           Channel   `json:"channel"`
	BodyTemplate      string    `json:"bodyTemplate"`
	SubjectTemplate   string    `json:"subjectTemplate,omitempty"`
	RequiredVariables []string  `json:"requiredVariables"`
	Active            bool      `json:"active"`
	IsDefault         bool      `json:"isDefault"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// RenderedMessage is the output of template rendering, ready for an adapter.
type RenderedMessage struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// TransitionSource distinguishes who observed a delivery transition.
type TransitionSource string

const (
	SourceDispatcher TransitionSource = "dispatcher"
	SourceProvider   TransitionSource = "provider-callback"
)

// DeliveryTransition is one entry of a job's append-only delivery history.
type DeliveryTransition struct {
	JobID      string           `json:"jobId"`
	Status     JobStatus        `json:"status"`
	Source     TransitionSource `json:"source"`
	OccurredAt time.Time        `json:"occurredAt"`
	OutOfOrder bool             `json:"outOfOrder"`
	Detail     string           `json:"detail,omitempty"`
}

// InboundEventKind classifies a provider callback.
type InboundEventKind string

const (
	EventDeliveryReceipt InboundEventKind = "delivery-receipt"
	EventReadReceipt     InboundEventKind = "read-receipt"
	EventInboundReply    InboundEventKind = "inbound-reply"
)

// InboundEvent is one parsed provider callback. Created per callback,
// consumed once; malformed events are logged and discarded, never retried.
// TenantID and CorrelationID are filled in once the callback has been
// correlated with the notification job it answers.
type InboundEvent struct {
	Channel           Channel          `json:"channel"`
	EventKind         InboundEventKind `json:"eventKind"`
	ProviderMessageID string           `json:"providerMessageId,omitempty"`
	SenderAddress     string           `json:"senderAddress,omitempty"`
	Payload           string           `json:"payload,omitempty"`
	TenantID          string           `json:"tenantId,omitempty"`
	CorrelationID     string           `json:"correlationId,omitempty"`
	ReceivedAt        time.Time        `json:"receivedAt"`
	Verified          bool             `json:"verified"`
}

// TenantStats aggregates delivery outcomes for one tenant over a window.
type TenantStats struct {
	TenantID     string  `json:"tenantId"`
	Sent         int64   `json:"sent"`
	Delivered    int64   `json:"delivered"`
	Read         int64   `json:"read"`
	Failed       int64   `json:"failed"`
	DeliveryRate float64 `json:"deliveryRate"`
	ReadRate     float64 `json:"readRate"`
}

// QueueDepth is a point-in-time snapshot of queue occupancy.
type QueueDepth struct {
	Pending  int64 `json:"pending"`
	InFlight int64 `json:"inFlight"`
	Dead     int64 `json:"dead"`
}
