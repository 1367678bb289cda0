package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/common/version"
	"github.com/bdobrica/Rinko/internal/rinko/audit"
	"github.com/bdobrica/Rinko/internal/rinko/cache"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/config"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/store"
)

// ErrNotPermitted is returned when a non-admin conversation runs an admin
// command.
var ErrNotPermitted = errors.New("this command is only available in the admin chat")

// AuditLog reads and writes the audit table.
type AuditLog interface {
	WriteAudit(ctx context.Context, e store.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]store.AuditEntry, error)
	AuditByTrace(ctx context.Context, traceID string) ([]store.AuditEntry, error)
}

// Workflows clears a conversation's pending prompt.
type Workflows interface {
	Cancel(ctx context.Context, conv string) bool
}

// Monitors stops redownload monitors.
type Monitors interface {
	CancelConversation(conv string) int
	Active() int
}

// Library exposes the series cache.
type Library interface {
	Snapshot() *cache.Snapshot
}

// Refresher reloads the series cache on demand.
type Refresher interface {
	Refresh(ctx context.Context) string
}

// ModelSwitch changes the classifier model at runtime.
type ModelSwitch interface {
	Model() string
	SetModel(model string)
}

// Service is one backend as shown by /status.
type Service struct {
	Name       string
	Configured bool
}

// HandlersConfig wires Handlers. Audit and ConfigStore are required; the
// rest may be nil, in which case the commands that need them say so.
type HandlersConfig struct {
	Audit       AuditLog
	ConfigStore config.Store
	Notifier    audit.Notifier
	Workflows   Workflows
	Monitors    Monitors
	Library     Library
	Refresher   Refresher
	Model       ModelSwitch
	Services    []Service
	// Admins are the conversations allowed to change configuration and
	// read the audit log. Empty means every conversation.
	Admins    []string
	Transport string
	Started   time.Time
	Logger    *slog.Logger
}

// Handlers holds all command handlers and dependencies
type Handlers struct {
	cfg    HandlersConfig
	notify audit.Notifier
	log    *slog.Logger
	now    func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Started.IsZero() {
		cfg.Started = time.Now()
	}
	notify := cfg.Notifier
	if notify == nil {
		notify = audit.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{cfg: cfg, notify: notify, log: logger, now: time.Now}
}

// Register adds every command to r.
func (h *Handlers) Register(r *Router) {
	r.Register("help", h.HandleHelp)
	r.Register("start", h.HandleHelp)
	r.Register("version", h.HandleVersion)
	r.Register("ping", h.HandlePing)
	r.Register("status", h.HandleStatus)
	r.Register("cancel", h.HandleCancel)
	r.Register("cache", h.HandleCache)
	r.Register("cache.refresh", h.HandleCacheRefresh)
	r.Register("config", h.HandleConfigList)
	r.Register("config.list", h.HandleConfigList)
	r.Register("config.get", h.HandleConfigGet)
	r.Register("config.set", h.HandleConfigSet)
	r.Register("config.unset", h.HandleConfigUnset)
	r.Register("audit", h.HandleAuditTail)
	r.Register("trace", h.HandleTrace)
}

// HandleHelp shows available commands
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	return `*Rinko*
Ask in plain language, e.g. "redownload The Office S02E03" or "how much space is left on the NAS". Type "help" for everything I understand.

*Commands:*
• /help - Show this help message
• /status - Services, cache and monitors
• /cancel - Drop the pending question and stop redownload monitors
• /cache - Show the series cache; /cache refresh reloads it
• /config list|get|set|unset - Runtime settings
• /audit [n] - Recent actions (admin)
• /trace <id> - Everything recorded for one trace id (admin)
• /version - Show version information
• /ping - Health check`, nil
}

// HandleVersion shows version information
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	return fmt.Sprintf("*Rinko*\nVersion: `%s`\nCommit: `%s`\nBuild Time: `%s`",
		version.Version, version.GitCommit, version.BuildTime), nil
}

// HandlePing responds with a health check
func (h *Handlers) HandlePing(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	ctx, traceID := h.traced(ctx)
	h.writeAudit(ctx, in, "ping", "", store.ResultSuccess, nil, nil)
	return fmt.Sprintf("🏓 Pong! (trace: `%s`)", traceID), nil
}

// Status is a point-in-time view of the bot, shared by /status and the HTTP
// status endpoint.
type Status struct {
	Version        string          `json:"version"`
	Commit         string          `json:"commit"`
	Transport      string          `json:"transport,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	UptimeSecs     float64         `json:"uptime_seconds"`
	CacheEntries   int             `json:"cache_entries"`
	CacheUpdatedAt *time.Time      `json:"cache_updated_at,omitempty"`
	ActiveMonitors int             `json:"active_monitors"`
	Model          string          `json:"model,omitempty"`
	Services       map[string]bool `json:"services"`
}

// Status collects the current Status.
func (h *Handlers) Status(ctx context.Context) Status {
	st := Status{
		Version:    version.Version,
		Commit:     version.GitCommit,
		Transport:  h.cfg.Transport,
		StartedAt:  h.cfg.Started,
		UptimeSecs: h.now().Sub(h.cfg.Started).Seconds(),
		Services:   make(map[string]bool, len(h.cfg.Services)),
	}
	if h.cfg.Library != nil {
		if snap := h.cfg.Library.Snapshot(); snap != nil {
			st.CacheEntries = len(snap.Entries)
			updated := snap.UpdatedAt
			st.CacheUpdatedAt = &updated
		}
	}
	if h.cfg.Monitors != nil {
		st.ActiveMonitors = h.cfg.Monitors.Active()
	}
	if h.cfg.Model != nil {
		st.Model = h.cfg.Model.Model()
	}
	for _, s := range h.cfg.Services {
		st.Services[s.Name] = s.Configured
	}
	return st
}

// HandleStatus shows which services are wired and what is running.
func (h *Handlers) HandleStatus(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	st := h.Status(ctx)

	var sb strings.Builder
	sb.WriteString("*Rinko status*\n")
	fmt.Fprintf(&sb, "Version: `%s`\n", st.Version)
	fmt.Fprintf(&sb, "Uptime: %s\n", time.Duration(st.UptimeSecs*float64(time.Second)).Round(time.Second))
	if st.CacheUpdatedAt != nil {
		fmt.Fprintf(&sb, "Series cache: %d series, updated %s\n",
			st.CacheEntries, st.CacheUpdatedAt.Local().Format("2006-01-02 15:04"))
	} else {
		sb.WriteString("Series cache: empty\n")
	}
	fmt.Fprintf(&sb, "Active monitors: %d\n", st.ActiveMonitors)
	if st.Model != "" {
		fmt.Fprintf(&sb, "Model: `%s`\n", st.Model)
	}
	if len(h.cfg.Services) > 0 {
		sb.WriteString("\n*Services:*\n")
		for _, s := range h.cfg.Services {
			mark := "✅"
			if !s.Configured {
				mark = "➖"
			}
			fmt.Fprintf(&sb, "%s %s\n", mark, s.Name)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HandleCancel drops the pending prompt and stops this conversation's
// monitors.
func (h *Handlers) HandleCancel(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	ctx, _ = h.traced(ctx)
	cancelled := h.cfg.Workflows != nil && h.cfg.Workflows.Cancel(ctx, in.Conversation)
	stopped := 0
	if h.cfg.Monitors != nil {
		stopped = h.cfg.Monitors.CancelConversation(in.Conversation)
	}
	h.writeAudit(ctx, in, "cancel", "", store.ResultSuccess,
		store.AuditPayload{"pending": cancelled, "monitors": stopped}, nil)

	switch {
	case !cancelled && stopped == 0:
		return "Nothing to cancel.", nil
	case stopped == 0:
		return "❌ Cancelled.", nil
	default:
		return fmt.Sprintf("❌ Cancelled. Stopped %d %s.", stopped, format.Plural(stopped, "monitor")), nil
	}
}

// HandleCache shows the series cache size and age.
func (h *Handlers) HandleCache(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	if h.cfg.Library == nil {
		return "", fmt.Errorf("the series cache is not available")
	}
	snap := h.cfg.Library.Snapshot()
	if snap == nil {
		return "Series cache is empty. Run /cache refresh to load it.", nil
	}
	age := h.now().Sub(snap.UpdatedAt).Round(time.Minute)
	return fmt.Sprintf("*Series cache*\n%d series, updated %s (%s ago).",
		len(snap.Entries), snap.UpdatedAt.Local().Format("2006-01-02 15:04"), age), nil
}

// HandleCacheRefresh reloads the series cache from Sonarr.
func (h *Handlers) HandleCacheRefresh(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	ctx, traceID := h.traced(ctx)
	if err := h.requireAdmin(in); err != nil {
		return "", err
	}
	if h.cfg.Refresher == nil {
		return "", fmt.Errorf("the series cache is not available")
	}

	result := h.cfg.Refresher.Refresh(ctx)
	status := store.ResultSuccess
	if result == cache.ResultError {
		status = store.ResultError
	}
	h.writeAudit(ctx, in, "cache.refresh", "", status, store.AuditPayload{"result": result}, nil)

	switch result {
	case cache.ResultOK:
		n := 0
		if h.cfg.Library != nil {
			if snap := h.cfg.Library.Snapshot(); snap != nil {
				n = len(snap.Entries)
			}
		}
		return fmt.Sprintf("✓ Series cache refreshed: %d series. (trace: `%s`)", n, traceID), nil
	case cache.ResultEmpty:
		return fmt.Sprintf("⚠️ Sonarr returned no series; the previous cache was kept. (trace: `%s`)", traceID), nil
	default:
		return fmt.Sprintf("⚠️ Cache refresh failed; the previous cache was kept. (trace: `%s`)", traceID), nil
	}
}

const (
	defaultAuditTail = 10
	maxAuditTail     = 50
)

// HandleAuditTail shows the most recent audit entries.
//
// Usage: /audit [n]
func (h *Handlers) HandleAuditTail(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	if err := h.requireAdmin(in); err != nil {
		return "", err
	}
	limit := defaultAuditTail
	if arg, ok := cmd.GetArg(0); ok {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return "", fmt.Errorf("usage: /audit [n]")
		}
		limit = min(n, maxAuditTail)
	}

	entries, err := h.cfg.Audit.RecentAudit(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(entries) == 0 {
		return "The audit log is empty.", nil
	}
	return "*Recent actions*\n" + formatAudit(entries), nil
}

// HandleTrace shows every audit entry of one trace.
//
// Usage: /trace <trace_id>
func (h *Handlers) HandleTrace(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	if err := h.requireAdmin(in); err != nil {
		return "", err
	}
	id, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /trace <trace_id>")
	}

	entries, err := h.cfg.Audit.AuditByTrace(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Nothing recorded for trace `%s`.", id), nil
	}
	return fmt.Sprintf("*Trace* `%s`\n", id) + formatAudit(entries), nil
}

func formatAudit(entries []store.AuditEntry) string {
	var sb strings.Builder
	for _, e := range entries {
		mark := "✓"
		if e.Result == store.ResultError {
			mark = "✗"
		}
		fmt.Fprintf(&sb, "%s %s `%s`", mark, e.Timestamp.Local().Format("01-02 15:04"), e.Action)
		if e.Target != "" {
			fmt.Fprintf(&sb, " %s", format.Truncate(e.Target, 40))
		}
		if e.Error != "" {
			fmt.Fprintf(&sb, ": %s", format.Truncate(e.Error, 80))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// requireAdmin rejects conversations outside the admin list, if one is set.
func (h *Handlers) requireAdmin(in chat.Inbound) error {
	if len(h.cfg.Admins) == 0 || slices.Contains(h.cfg.Admins, in.Conversation) {
		return nil
	}
	return ErrNotPermitted
}

// traced returns ctx with a trace id, reusing the caller's.
func (h *Handlers) traced(ctx context.Context) (context.Context, string) {
	ctx = trace.Ensure(ctx)
	return ctx, trace.FromContext(ctx)
}

func (h *Handlers) writeAudit(ctx context.Context, in chat.Inbound, action, target, result string, payload store.AuditPayload, cause error) {
	entry := store.AuditEntry{
		TraceID: trace.FromContext(ctx),
		Actor:   in.Conversation,
		Action:  action,
		Target:  target,
		Payload: payload,
		Result:  result,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := h.cfg.Audit.WriteAudit(ctx, entry); err != nil {
		trace.Logger(ctx, h.log).Warn("audit write failed", "op", action, "err", err)
	}
}
