// Package monitor tracks a remote Sonarr command after the chat turn that
// started it has finished.
//
// A monitor polls the command until it reaches a terminal state, then polls
// the target episode until a file different from the one present before the
// action appears. Any non-success outcome re-issues the search, consuming one
// attempt, until the attempts are exhausted. Progress and the terminal result
// are written by editing a single tracked chat message.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultCommandPollInterval  = 5 * time.Second
	DefaultCommandTimeout       = 10 * time.Minute
	DefaultArtifactPollInterval = 10 * time.Second
	DefaultArtifactTimeout      = 5 * time.Minute
	DefaultMaxAttempts          = 3
)

// Command states. Completed, Failed and Aborted are terminal.
const (
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateAborted   = "aborted"
	StateTimeout   = "timeout"
)

// Outcomes passed to Observer.MonitorFinished.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeCrashed   = "crashed"
)

// Failure reasons reported in the tracked message.
const (
	ReasonNeverCompleted = "Sonarr command never completed."
	ReasonNoNewFile      = "Sonarr finished but no new file appeared."
	ReasonNoCommandID    = "Sonarr did not provide a command id for the retry."
	ReasonRestartFailed  = "Unable to restart the Sonarr search."
)

// ErrNoCommandID is returned by a Backend whose search call succeeded but did
// not yield a pollable command.
var ErrNoCommandID = errors.New("monitor: no command id")

// Options tunes polling. Zero fields take the package defaults.
type Options struct {
	CommandPollInterval  time.Duration
	CommandTimeout       time.Duration
	ArtifactPollInterval time.Duration
	ArtifactTimeout      time.Duration
	MaxAttempts          int
}

func (o Options) withDefaults() Options {
	if o.CommandPollInterval <= 0 {
		o.CommandPollInterval = DefaultCommandPollInterval
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.ArtifactPollInterval <= 0 {
		o.ArtifactPollInterval = DefaultArtifactPollInterval
	}
	if o.ArtifactTimeout <= 0 {
		o.ArtifactTimeout = DefaultArtifactTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Artifact identifies the file a command produced. A zero ID means no file.
type Artifact struct {
	ID      int
	Size    int64
	Quality string
}

// Backend is the remote service a monitor polls.
type Backend interface {
	// CommandState returns the lower-case state of a command.
	CommandState(ctx context.Context, commandID int) (string, error)
	// Artifact returns the file currently attached to the target.
	Artifact(ctx context.Context, targetID int) (Artifact, error)
	// RunSearch re-issues the command for the target and returns its id.
	RunSearch(ctx context.Context, targetID int) (int, error)
}

// Editor rewrites the tracked chat message.
type Editor interface {
	Edit(ctx context.Context, conversation string, id chat.MessageID, msg chat.Message) error
}

// Observer receives monitor lifecycle events, typically for metrics.
type Observer interface {
	MonitorRetried()
	MonitorFinished(outcome string)
}

// Request describes one job to track.
type Request struct {
	Conversation string
	MessageID    chat.MessageID
	TargetID     int
	CommandID    int
	// PreviousArtifactID is the file id present before the action. A file
	// with the same id is never reported as success.
	PreviousArtifactID int
	SeriesTitle        string
	EpisodeLabel       string
}

// Label is the human name used in every status line.
func (r Request) Label() string {
	title := r.SeriesTitle
	if title == "" {
		title = "Episode"
	}
	return strings.TrimSpace(title + " " + r.EpisodeLabel)
}

type monitor struct {
	req      Request
	handle   *Handle
	opts     Options
	backend  Backend
	editor   Editor
	observer Observer
	log      *slog.Logger
	previous int
}

func (m *monitor) run(ctx context.Context) {
	outcome := OutcomeCrashed
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("monitor: crashed", "panic", p, "stack", string(debug.Stack()))
			if !m.handle.Cancelled() {
				m.edit(ctx, fmt.Sprintf("❌ %s: monitoring failed (%v).", m.req.Label(), p))
			}
			outcome = OutcomeCrashed
		}
		if m.observer != nil {
			m.observer.MonitorFinished(outcome)
		}
	}()
	outcome = m.loop(ctx)
}

func (m *monitor) loop(ctx context.Context) string {
	for !m.handle.Cancelled() {
		state := m.waitForCommand(ctx)
		if m.handle.Cancelled() {
			break
		}

		var reason string
		switch state {
		case StateCompleted:
			art, ok := m.waitForArtifact(ctx)
			if m.handle.Cancelled() {
				return OutcomeCancelled
			}
			if ok {
				m.reportSuccess(ctx, art)
				return OutcomeSuccess
			}
			reason = ReasonNoNewFile
		case StateFailed, StateAborted:
			reason = `Sonarr reported "` + state + `".`
		default:
			reason = ReasonNeverCompleted
		}

		if !m.retry(ctx, reason) {
			if m.handle.Cancelled() {
				return OutcomeCancelled
			}
			return OutcomeFailed
		}
	}
	return OutcomeCancelled
}

// waitForCommand polls until the command reaches a terminal state or the
// deadline passes. Fetch errors are logged and retried on the next tick.
func (m *monitor) waitForCommand(ctx context.Context) string {
	id := m.handle.CommandID()
	if id == 0 {
		return StateFailed
	}
	deadline := time.Now().Add(m.opts.CommandTimeout)
	for !m.handle.Cancelled() && time.Now().Before(deadline) {
		state, err := m.backend.CommandState(ctx, id)
		if err != nil {
			m.log.Warn("monitor: poll command", "command_id", id, "err", err)
		} else {
			switch state {
			case StateCompleted, StateFailed, StateAborted:
				return state
			}
		}
		if !sleep(ctx, m.opts.CommandPollInterval) {
			break
		}
	}
	return StateTimeout
}

func (m *monitor) waitForArtifact(ctx context.Context) (Artifact, bool) {
	deadline := time.Now().Add(m.opts.ArtifactTimeout)
	for !m.handle.Cancelled() && time.Now().Before(deadline) {
		art, err := m.backend.Artifact(ctx, m.req.TargetID)
		if err != nil {
			m.log.Warn("monitor: poll artifact", "target_id", m.req.TargetID, "err", err)
		} else if art.ID != 0 && art.ID != m.previous {
			return art, true
		}
		if !sleep(ctx, m.opts.ArtifactPollInterval) {
			break
		}
	}
	return Artifact{}, false
}

// retry re-issues the search and reports whether the loop should continue.
func (m *monitor) retry(ctx context.Context, reason string) bool {
	if m.handle.Cancelled() {
		return false
	}
	attempt := m.handle.Attempt()
	if attempt >= m.opts.MaxAttempts {
		m.reportFailure(ctx, reason)
		return false
	}

	next := attempt + 1
	m.edit(ctx, fmt.Sprintf("⚠️ %s: %s Retrying (%d/%d)…", m.req.Label(), reason, next, m.opts.MaxAttempts))
	if m.handle.Cancelled() {
		return false
	}

	id, err := m.backend.RunSearch(ctx, m.req.TargetID)
	switch {
	case errors.Is(err, ErrNoCommandID) || (err == nil && id == 0):
		m.reportFailure(ctx, ReasonNoCommandID)
		return false
	case err != nil:
		m.log.Error("monitor: restart search", "target_id", m.req.TargetID, "err", err)
		m.reportFailure(ctx, ReasonRestartFailed)
		return false
	}

	m.handle.setCommandID(id)
	m.handle.setAttempt(next)
	if m.observer != nil {
		m.observer.MonitorRetried()
	}
	m.log.Info("monitor: retrying", "attempt", next, "max_attempts", m.opts.MaxAttempts, "command_id", id, "reason", reason)
	return true
}

func (m *monitor) reportSuccess(ctx context.Context, art Artifact) {
	m.previous = art.ID
	size := "unknown size"
	if art.Size > 0 {
		size = format.Bytes(art.Size)
	}
	quality := art.Quality
	if quality == "" {
		quality = "unknown quality"
	}
	m.edit(ctx, fmt.Sprintf("✅ %s redownloaded (%s, %s).", m.req.Label(), quality, size))
}

func (m *monitor) reportFailure(ctx context.Context, reason string) {
	m.edit(ctx, fmt.Sprintf("❌ %s redownload failed. %s", m.req.Label(), reason))
}

// edit replaces the tracked message and drops its buttons. Skipped once
// cancelled; errors are logged only.
func (m *monitor) edit(ctx context.Context, text string) {
	if m.handle.Cancelled() || m.req.MessageID == "" {
		return
	}
	if err := m.editor.Edit(ctx, m.req.Conversation, m.req.MessageID, chat.Text(text)); err != nil {
		m.log.Warn("monitor: edit message", "err", err)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full
// interval elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
