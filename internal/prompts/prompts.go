// Package prompts renders the system and user prompts sent to the model gateway.
//
// Templates are embedded Go templates formatted through the Eino prompt component.
package prompts

import (
	"context"
	"embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/*.txt
var templateFS embed.FS

// Name identifies a prompt pair.
type Name string

const (
	GlobalRouter   Name = "global_router"
	TopicShift     Name = "topic_shift"
	Subroute       Name = "subroute"
	Extract        Name = "extract"
	Confirm        Name = "confirm"
	Conversational Name = "conversational"
	Summarize      Name = "summarize"
)

// pairs maps each prompt to its system and user template files.
var pairs = map[Name][2]string{
	GlobalRouter:   {"global_router_system.txt", "history_user.txt"},
	TopicShift:     {"topic_shift_system.txt", "topic_shift_user.txt"},
	Subroute:       {"subroute_system.txt", "history_user.txt"},
	Extract:        {"extract_system.txt", "message_user.txt"},
	Confirm:        {"confirm_system.txt", "message_user.txt"},
	Conversational: {"conversational_system.txt", "history_user.txt"},
	Summarize:      {"summarize_system.txt", "summarize_user.txt"},
}

// Transcription biases speech-to-text towards the data users dictate.
const Transcription = "Transcrição de áudio em português do Brasil. O usuário pode ditar e-mails (com arroba e ponto), CPF, CNPJ, números de pedido e telefones com DDD."

// Rendered is a formatted prompt pair.
type Rendered struct {
	System string
	User   string
}

// Render formats the named prompt with vars.
func Render(ctx context.Context, name Name, vars map[string]any) (Rendered, error) {
	files, ok := pairs[name]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown prompt %q", name)
	}
	system, err := templateFS.ReadFile("template/" + files[0])
	if err != nil {
		return Rendered{}, fmt.Errorf("prompt %s: %w", name, err)
	}
	user, err := templateFS.ReadFile("template/" + files[1])
	if err != nil {
		return Rendered{}, fmt.Errorf("prompt %s: %w", name, err)
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(string(system)),
		schema.UserMessage(string(user)),
	)
	if vars == nil {
		vars = map[string]any{}
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return Rendered{}, fmt.Errorf("prompt %s render: %w", name, err)
	}
	if len(msgs) != 2 || msgs[0] == nil || msgs[1] == nil {
		return Rendered{}, fmt.Errorf("prompt %s render: unexpected message count %d", name, len(msgs))
	}
	return Rendered{System: msgs[0].Content, User: msgs[1].Content}, nil
}

// SubrouteOption is one entry listed in the subroute prompt.
type SubrouteOption struct {
	ID          string
	Description string
}
