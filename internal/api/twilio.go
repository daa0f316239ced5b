package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

// TwilioInstance stands in for the instance name on Twilio messages.
const TwilioInstance = "twilio"

// normalizeTwilio turns a Twilio WhatsApp webhook form into a
// channel-agnostic message. Only the first media item is considered.
func normalizeTwilio(form url.Values, now time.Time) (models.NormalizedMessage, messageKind, error) {
	from := form.Get("From")
	sid := form.Get("MessageSid")
	if from == "" || sid == "" {
		return models.NormalizedMessage{}, kindUnknown, ErrNotAMessage
	}
	userID := util.Digits(strings.TrimPrefix(from, "whatsapp:"))
	if userID == "" {
		return models.NormalizedMessage{}, kindUnknown, ErrNotAMessage
	}

	msg := models.NormalizedMessage{
		UserID:    userID,
		MessageID: sid,
		Instance:  TwilioInstance,
		RemoteJID: from,
		Text:      util.CollapseSpace(form.Get("Body")),
		Timestamp: now.UTC(),
	}

	kind := twilioKind(form)
	if kind == kindAudio {
		audio := models.MediaAudio
		msg.MediaType = &audio
		msg.MediaURL = form.Get("MediaUrl0")
	}
	return msg, kind, nil
}

func twilioKind(form url.Values) messageKind {
	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	if numMedia > 0 {
		contentType := strings.ToLower(form.Get("MediaContentType0"))
		if strings.HasPrefix(contentType, "audio/") {
			return kindAudio
		}
		return kindMedia
	}
	if form.Get("Latitude") != "" {
		return kindMedia
	}
	if form.Get("Body") != "" {
		return kindText
	}
	return kindUnknown
}
