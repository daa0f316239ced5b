package api

import "github.com/BTreeMap/FlowPipe/internal/models"

// MediaAutoReply answers media the bot cannot read.
const MediaAutoReply = "Por favor, envie sua mensagem em formato de texto ou áudio. No momento não consigo processar imagens, vídeos ou documentos."

// Guard reasons.
const (
	ReasonFromMe      = "fromMe"
	ReasonGroup       = "group_message"
	ReasonSticker     = "sticker"
	ReasonMedia       = "media_message"
	ReasonUnknownType = "unknown_message_type"
	ReasonEmptyText   = "empty_text"
)

// messageKind is what an inbound payload carries, independent of channel.
type messageKind int

const (
	kindUnknown messageKind = iota
	kindText
	kindAudio
	kindSticker
	kindMedia
)

func (k messageKind) String() string {
	switch k {
	case kindText:
		return "text"
	case kindAudio:
		return "audio"
	case kindSticker:
		return "sticker"
	case kindMedia:
		return "media"
	default:
		return "unknown"
	}
}

// applyGuards decides whether msg reaches the router. Checks run in order:
// own messages, groups, then content kind.
func applyGuards(msg models.NormalizedMessage, kind messageKind) models.GuardResult {
	if msg.FromMe {
		return models.GuardResult{Reason: ReasonFromMe}
	}
	if msg.IsGroup {
		return models.GuardResult{Reason: ReasonGroup}
	}

	switch kind {
	case kindAudio:
		return models.GuardResult{ShouldProcess: true, RequiresTranscription: true}
	case kindSticker:
		return models.GuardResult{Reason: ReasonSticker}
	case kindMedia:
		return models.GuardResult{Reason: ReasonMedia, AutoReplyText: MediaAutoReply}
	case kindText:
	default:
		return models.GuardResult{Reason: ReasonUnknownType}
	}

	if msg.Text == "" {
		return models.GuardResult{Reason: ReasonEmptyText}
	}
	return models.GuardResult{ShouldProcess: true}
}
