// Package audit reports what Rinko did: operator notices go to the admin
// conversation (ADMIN_CHAT_ID on Telegram, MATRIX_ADMIN_ROOM on Matrix) and
// executed workflow actions are written to the SQLite audit log.
//
// Notices carry the originating trace id so an operator can match a chat
// notice with the log lines and audit rows of the same turn.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindStartup        Kind = "startup"
	KindCacheRefresh   Kind = "cache.refresh"
	KindWorkflowFailed Kind = "workflow.failed"
	KindActionFailed   Kind = "action.failed"
	KindConfigChanged  Kind = "config.changed"
	KindNotice         Kind = "notice"
)

// Event is one operator notice.
type Event struct {
	Kind Kind
	// Actor is the conversation the event came from, if any.
	Actor string
	// Target is the primary resource affected (series, bin, config key).
	Target  string
	Message string
	// TraceID defaults to the id carried by the context.
	TraceID string
	// Timestamp defaults to time.Now().
	Timestamp time.Time
}

// Notifier posts operator notices. Implementations must not block the
// caller for long; send failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
	// Notice posts a bare text line.
	Notice(ctx context.Context, text string)
}

// Sender is the part of chat.Transport a ChatNotifier needs.
type Sender interface {
	Send(ctx context.Context, conv string, msg chat.Message) (chat.MessageID, error)
}

// sendTimeout bounds one notice so a slow transport never stalls a workflow.
const sendTimeout = 10 * time.Second

// ChatNotifier posts notices to one admin conversation.
type ChatNotifier struct {
	sender Sender
	conv   string
}

// NewChatNotifier returns a ChatNotifier posting to conv via sender.
func NewChatNotifier(sender Sender, conv string) *ChatNotifier {
	return &ChatNotifier{sender: sender, conv: conv}
}

// Notify formats evt and posts it.
func (n *ChatNotifier) Notify(ctx context.Context, evt Event) {
	n.post(ctx, string(evt.Kind), Format(ctx, evt))
}

// Notice posts text as-is.
func (n *ChatNotifier) Notice(ctx context.Context, text string) {
	n.post(ctx, string(KindNotice), text)
}

func (n *ChatNotifier) post(ctx context.Context, kind, text string) {
	if n.conv == "" || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	log := trace.Logger(ctx, slog.Default())
	if _, err := n.sender.Send(ctx, n.conv, chat.Text(text)); err != nil {
		log.Warn("audit: failed to send notice", "conv", n.conv, "kind", kind, "err", err)
		return
	}
	log.Debug("audit: sent notice", "conv", n.conv, "kind", kind)
}

// Format renders evt as the notice text.
func Format(ctx context.Context, evt Event) string {
	tid := evt.TraceID
	if tid == "" {
		tid = trace.FromContext(ctx)
	}

	icon := kindIcon(evt.Kind)
	msg := fmt.Sprintf("%s [%s] %s", icon, evt.Kind, evt.Message)
	if evt.Target != "" {
		msg = fmt.Sprintf("%s %s → %s", icon, evt.Target, evt.Message)
	}
	if evt.Actor != "" {
		msg += "\n  chat: " + evt.Actor
	}
	if tid != "" {
		msg += "\n  trace: " + tid
	}
	return msg
}

// Noop is the Notifier used when no admin conversation is configured.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Event) {}

// Notice does nothing.
func (Noop) Notice(context.Context, string) {}

func kindIcon(k Kind) string {
	switch k {
	case KindStartup:
		return "🟢"
	case KindCacheRefresh:
		return "🔄"
	case KindWorkflowFailed, KindActionFailed:
		return "🚨"
	case KindConfigChanged:
		return "⚙️"
	default:
		return "ℹ️"
	}
}
