package models

import "time"

// Direction of a logged chat message.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// MediaAudio is the only media type that is processed.
const MediaAudio = "audio"

// NormalizedMessage is a channel-agnostic inbound message.
type NormalizedMessage struct {
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	Instance  string    `json:"instance"`
	RemoteJID string    `json:"remote_jid"`
	Text      string    `json:"text"`
	MediaType *string   `json:"media_type,omitempty"`
	FromMe    bool      `json:"from_me"`
	IsGroup   bool      `json:"is_group"`
	Timestamp time.Time `json:"timestamp"`

	// MediaURL is set by channels that expose media by URL (Twilio).
	MediaURL string `json:"media_url,omitempty"`
}

// IsAudio reports whether the message carries audio.
func (m NormalizedMessage) IsAudio() bool {
	return m.MediaType != nil && *m.MediaType == MediaAudio
}

// GuardResult decides whether an inbound message reaches the router.
type GuardResult struct {
	ShouldProcess         bool   `json:"should_process"`
	Reason                string `json:"reason"`
	AutoReplyText         string `json:"auto_reply_text,omitempty"`
	RequiresTranscription bool   `json:"requires_transcription"`
}

// ChatMessage is one row of the message log. MessageID is nil for outbound rows.
type ChatMessage struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Instance  string    `json:"instance"`
	Direction Direction `json:"direction"`
	MessageID *string   `json:"message_id,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
