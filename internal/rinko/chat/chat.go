// Package chat defines the transport-neutral surface Rinko talks through.
//
// Workflows only ever see Transport: they send a Message (text plus an
// optional inline keyboard), edit it in place as the workflow progresses, and
// delete it when a newer prompt supersedes it. Concrete transports live in the
// telegram and matrix packages and feed user input back through Handler.
package chat

import (
	"context"
	"errors"
)

// MessageID identifies a sent message within its conversation. Telegram ids
// are decimal integers; Matrix ids are event ids.
type MessageID string

// Button is one inline keyboard button. Exactly one of Data and URL is set:
// Data buttons round-trip as a callback, URL buttons open a link.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Message is an outgoing chat message.
type Message struct {
	Text string
	// Markdown enables the legacy Telegram markdown dialect (*bold*, _italic_,
	// `code`). The Matrix transport renders the same dialect to HTML.
	Markdown bool
	// Buttons is the inline keyboard, one slice per row. An empty keyboard on
	// Edit removes any existing buttons.
	Buttons [][]Button
}

// Text is shorthand for a plain message without buttons.
func Text(s string) Message { return Message{Text: s} }

// Markdown is shorthand for a markdown message without buttons.
func Markdown(s string) Message { return Message{Text: s, Markdown: true} }

// Transport sends, edits and deletes messages in a conversation.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, conv string, msg Message) (MessageID, error)
	Edit(ctx context.Context, conv string, id MessageID, msg Message) error
	Delete(ctx context.Context, conv string, id MessageID) error
}

// CallbackAnswerer is implemented by transports that need an explicit
// acknowledgement for button presses (Telegram shows a spinner until then).
// text, when non-empty, is shown as a short toast.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Typer is implemented by transports that can show a typing indicator.
type Typer interface {
	Typing(ctx context.Context, conv string) error
}

// ErrMessageGone is returned by Edit and Delete when the target message no
// longer exists or can no longer be modified. Callers generally ignore it.
var ErrMessageGone = errors.New("chat: message no longer editable")

// Inbound is one event delivered by a transport.
type Inbound struct {
	// Conversation is the chat or room id.
	Conversation string
	// Sender identifies the user, for logging and rate limiting.
	Sender string
	// Text is the message body. Empty for callbacks.
	Text string
	// CallbackID and CallbackData are set when the user pressed a button.
	CallbackID   string
	CallbackData string
	// MessageID is the message that carried the pressed button, or the
	// inbound message itself for text.
	MessageID MessageID
}

// IsCallback reports whether the event is a button press.
func (in Inbound) IsCallback() bool { return in.CallbackData != "" }

// Handler receives inbound events. Transports call it from their receive
// loop; implementations must return quickly and do their work asynchronously.
type Handler interface {
	HandleInbound(ctx context.Context, in Inbound)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, in Inbound)

// HandleInbound calls f(ctx, in).
func (f HandlerFunc) HandleInbound(ctx context.Context, in Inbound) { f(ctx, in) }
