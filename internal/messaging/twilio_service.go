package messaging

import (
	"context"
	"mime"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/metrics"
	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/twiliowhatsapp"
)

// TwilioService delivers through the Twilio WhatsApp sender. Twilio has no
// notion of instances, so the instance argument is only logged.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	metrics *metrics.Collector
}

var (
	_ Service      = (*TwilioService)(nil)
	_ MediaFetcher = (*TwilioService)(nil)
)

func NewTwilioService(client twiliowhatsapp.Sender, m *metrics.Collector) *TwilioService {
	return &TwilioService{client: client, metrics: m}
}

func (s *TwilioService) SendText(ctx context.Context, instance, to, text string) bool {
	if err := s.client.SendMessage(ctx, to, text); err != nil {
		logx.Ctx(ctx).Error().Err(err).Str("event", "send_text_failed").Msg("TwilioService.SendText: delivery failed")
		s.metrics.RecordDelivery(ProviderTwilio, false)
		return false
	}
	logx.Ctx(ctx).Info().Str("event", "message_sent").Msg("TwilioService.SendText: delivered")
	s.metrics.RecordDelivery(ProviderTwilio, true)
	return true
}

// FetchAudio downloads msg.MediaURL.
func (s *TwilioService) FetchAudio(ctx context.Context, msg models.NormalizedMessage) ([]byte, string, error) {
	if msg.MediaURL == "" {
		return nil, "", ErrMediaUnavailable
	}
	b, contentType, err := s.client.FetchMedia(ctx, msg.MediaURL)
	if err != nil {
		return nil, "", err
	}
	return b, msg.MessageID + extensionFor(contentType), nil
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".ogg"
	}
	switch mediaType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4", "audio/aac":
		return ".m4a"
	case "audio/amr":
		return ".amr"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	default:
		return ".ogg"
	}
}
