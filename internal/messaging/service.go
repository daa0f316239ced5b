// Package messaging delivers outbound WhatsApp text and fetches inbound media
// through the configured provider.
package messaging

import (
	"context"
	"errors"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

// Service sends one text message. Delivery failures are logged by the
// implementation and reported as false; they are never raised.
type Service interface {
	SendText(ctx context.Context, instance, to, text string) bool
}

// MediaFetcher downloads the audio attached to an inbound message.
type MediaFetcher interface {
	FetchAudio(ctx context.Context, msg models.NormalizedMessage) (audio []byte, fileName string, err error)
}

// ErrMediaUnavailable is returned when the provider holds no media for a message.
var ErrMediaUnavailable = errors.New("media unavailable")

// ErrServiceStopped is returned by transports that were shut down.
var ErrServiceStopped = errors.New("messaging service stopped")

// Provider names used in logs and metrics.
const (
	ProviderEvolution = "evolution"
	ProviderTwilio    = "twilio"
)
