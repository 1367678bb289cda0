package audit

import (
	"context"
	"log/slog"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/store"
	"github.com/bdobrica/Rinko/internal/rinko/workflow"
)

// Writer persists audit rows.
type Writer interface {
	WriteAudit(ctx context.Context, e store.AuditEntry) error
}

// Log records executed workflow actions. Failed actions are also posted to
// the operator.
type Log struct {
	w      Writer
	notify Notifier
	log    *slog.Logger
}

var _ workflow.Auditor = (*Log)(nil)

// NewLog returns a Log writing to w. notify may be nil.
func NewLog(w Writer, notify Notifier, logger *slog.Logger) *Log {
	if notify == nil {
		notify = Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{w: w, notify: notify, log: logger}
}

// Audit writes ev. Write failures are logged and otherwise ignored.
func (l *Log) Audit(ctx context.Context, ev workflow.AuditEvent) {
	entry := store.AuditEntry{
		TraceID: trace.FromContext(ctx),
		Actor:   ev.Conversation,
		Action:  ev.Action,
		Target:  ev.Target,
		Result:  store.ResultSuccess,
	}
	if ev.Result != "" {
		entry.Payload = store.AuditPayload{"result": ev.Result}
	}
	if ev.Err != nil {
		entry.Result = store.ResultError
		entry.Error = ev.Err.Error()
	}

	log := trace.Logger(ctx, l.log).With("action", ev.Action, "target", ev.Target)
	if err := l.w.WriteAudit(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn("audit: write failed", "err", err)
	}
	if ev.Err != nil {
		l.notify.Notify(ctx, Event{
			Kind:    KindActionFailed,
			Actor:   ev.Conversation,
			Target:  ev.Target,
			Message: ev.Action + " failed: " + ev.Err.Error(),
		})
	}
}
