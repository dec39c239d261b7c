// internal/provider/provider.go
// Package provider defines the uniform capability contract every channel
// transport implements, so the dispatcher is written once against the
// interface instead of once per transport.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notification-engine/internal/models"
)

// ErrorKind classifies a failed send into the retry taxonomy. Each adapter
// maps its transport-specific error codes into these kinds; the dispatcher
// never branches on transport detail.
type ErrorKind string

const (
	ErrorTransient       ErrorKind = "transient"
	ErrorPermanent       ErrorKind = "permanent"
	ErrorUnauthenticated ErrorKind = "unauthenticated"
	ErrorRateLimited     ErrorKind = "rate-limited"
)

// SendResult is the normalized outcome of one provider send call.
type SendResult struct {
	Success           bool
	ProviderMessageID string        // opaque external reference, success only
	ErrorKind         ErrorKind     // set when Success is false
	ErrorDetail       string        // human-readable failure detail
	RetryAfter        time.Duration // optional, rate-limited results only
}

// Adapter is the uniform send contract for one channel. Adapters are
// stateless with respect to job data; connection pooling is adapter-internal
// and must be safe for concurrent use by multiple dispatcher workers.
type Adapter interface {
	Channel() models.Channel

	// Send delivers a rendered message. Failures are classified into the
	// SendResult taxonomy rather than returned as errors; a non-nil error
	// means the adapter itself could not run and is treated as transient.
	Send(ctx context.Context, recipient string, msg *models.RenderedMessage) (*SendResult, error)

	// HealthCheck verifies the adapter can reach its provider.
	HealthCheck(ctx context.Context) error

	// VerifyInboundSignature checks the authenticity of a provider callback.
	VerifyInboundSignature(rawPayload []byte, signatureHeader string) bool
}

// Registry resolves adapters by channel.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Channel]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Channel]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Channel()] = a
}

func (r *Registry) Get(channel models.Channel) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %q", channel)
	}
	return a, nil
}

// Adapters returns a snapshot of all registered adapters.
func (r *Registry) Adapters() map[models.Channel]Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.Channel]Adapter, len(r.adapters))
	for c, a := range r.adapters {
		out[c] = a
	}
	return out
}
