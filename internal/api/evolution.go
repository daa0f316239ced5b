package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/models"
	"github.com/BTreeMap/FlowPipe/internal/util"
)

// ErrNotAMessage is returned for webhook payloads that are valid JSON but do
// not describe an inbound chat message.
var ErrNotAMessage = errors.New("payload is not a chat message")

// EvolutionPayload is the messages.upsert webhook body sent by Evolution API.
type EvolutionPayload struct {
	Event    string         `json:"event"`
	Instance string         `json:"instance"`
	Data     *EvolutionData `json:"data"`
}

type EvolutionData struct {
	Key              *EvolutionKey     `json:"key"`
	Message          *EvolutionMessage `json:"message"`
	MessageTimestamp json.RawMessage   `json:"messageTimestamp"`
}

type EvolutionKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// EvolutionMessage keeps the media variants raw: only their presence matters.
type EvolutionMessage struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	AudioMessage    json.RawMessage `json:"audioMessage"`
	ImageMessage    json.RawMessage `json:"imageMessage"`
	VideoMessage    json.RawMessage `json:"videoMessage"`
	DocumentMessage json.RawMessage `json:"documentMessage"`
	StickerMessage  json.RawMessage `json:"stickerMessage"`
	LocationMessage json.RawMessage `json:"locationMessage"`
	ContactMessage  json.RawMessage `json:"contactMessage"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func (m *EvolutionMessage) text() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedTextMessage != nil {
		return m.ExtendedTextMessage.Text
	}
	return ""
}

func (m *EvolutionMessage) kind() messageKind {
	switch {
	case m == nil:
		return kindUnknown
	case m.text() != "":
		return kindText
	case present(m.AudioMessage):
		return kindAudio
	case present(m.StickerMessage):
		return kindSticker
	case present(m.ImageMessage), present(m.VideoMessage), present(m.DocumentMessage),
		present(m.LocationMessage), present(m.ContactMessage):
		return kindMedia
	default:
		return kindUnknown
	}
}

// IsGroupJID reports whether jid addresses a group or a linked-id chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us") || strings.HasSuffix(jid, "@lid")
}

// normalizeEvolution turns a decoded Evolution payload into a channel-agnostic
// message. now stamps messages without a usable messageTimestamp.
func normalizeEvolution(p EvolutionPayload, now time.Time) (models.NormalizedMessage, messageKind, error) {
	if p.Event == "" || p.Instance == "" || p.Data == nil || p.Data.Key == nil {
		return models.NormalizedMessage{}, kindUnknown, ErrNotAMessage
	}
	key := p.Data.Key
	if key.RemoteJID == "" || key.ID == "" {
		return models.NormalizedMessage{}, kindUnknown, ErrNotAMessage
	}

	local, _, _ := strings.Cut(key.RemoteJID, "@")
	userID := util.Digits(local)
	if userID == "" {
		return models.NormalizedMessage{}, kindUnknown, ErrNotAMessage
	}

	kind := p.Data.Message.kind()
	msg := models.NormalizedMessage{
		UserID:    userID,
		MessageID: key.ID,
		Instance:  p.Instance,
		RemoteJID: key.RemoteJID,
		Text:      util.CollapseSpace(p.Data.Message.text()),
		FromMe:    key.FromMe,
		IsGroup:   IsGroupJID(key.RemoteJID),
		Timestamp: parseTimestamp(p.Data.MessageTimestamp, now),
	}
	if kind == kindAudio {
		audio := models.MediaAudio
		msg.MediaType = &audio
	}
	return msg, kind, nil
}

// parseTimestamp accepts unix seconds as a JSON number or string.
func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	if !present(raw) {
		return now.UTC()
	}
	s := strings.Trim(string(raw), `"`)
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return now.UTC()
	}
	return time.Unix(secs, 0).UTC()
}
