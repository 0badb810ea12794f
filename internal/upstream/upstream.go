package upstream

import (
	"context"
	"iter"

	"github.com/sashabaranov/go-openai"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem Role = openai.ChatMessageRoleSystem
	RoleUser   Role = openai.ChatMessageRoleUser
)

// Message is a single entry of the upstream message list.
type Message struct {
	Role    Role
	Content string
}

// Request describes one streaming completion. APIKey is forwarded to the gateway
// as-is and only ever used for this request.
type Request struct {
	Model    string
	Messages []Message
	APIKey   string
}

// BuildMessages returns the message list for a relay request: a system entry for
// a non-empty developer message, followed by the user entry.
func BuildMessages(developerMessage, userMessage string) []Message {
	messages := make([]Message, 0, 2)
	if developerMessage != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: developerMessage})
	}
	return append(messages, Message{Role: RoleUser, Content: userMessage})
}

// Delta is the assistant text carried by one streamed unit, or nothing.
type Delta struct {
	text string
	ok   bool
}

// Some returns a Delta carrying text.
func Some(text string) Delta {
	return Delta{text: text, ok: true}
}

// None returns a Delta carrying no text.
func None() Delta {
	return Delta{}
}

// Get returns the text and whether the unit carried any.
func (d Delta) Get() (string, bool) {
	return d.text, d.ok
}

// Streamer opens streaming completions.
//
// OpenStream fails synchronously when the stream cannot be started (bad
// credential, unreachable gateway, rejected request). Once it returns a sequence,
// every later failure is delivered through the sequence. The sequence must be
// ranged exactly once.
type Streamer interface {
	OpenStream(ctx context.Context, req Request) (iter.Seq2[Delta, error], error)
}
