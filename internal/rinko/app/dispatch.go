package app

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/commands"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
)

// Status lines shown while a free-text message is being worked on. The
// workflow deletes the message once it has replied.
const (
	statusUnderstanding = "⏳ *Understanding your request…*"
	statusClassifying   = "🤖 *Classifying intent…*"
	statusRouting       = "📡 *Routing request…*"

	msgProcessingError = "❌ *Error processing request.*"
	msgNLPDisabled     = "Natural language is not configured. Send /help for the commands I understand."
)

// typingInterval re-sends the typing indicator before Telegram's five second
// expiry.
const typingInterval = 4 * time.Second

// Classifier turns free text into an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) (*nlp.Classification, error)
}

// Workflows runs classified intents and button presses.
type Workflows interface {
	RouteIntent(ctx context.Context, conv string, c *nlp.Classification, status chat.MessageID)
	HandleCallback(ctx context.Context, in chat.Inbound)
}

// CommandRouter answers slash commands.
type CommandRouter interface {
	Route(ctx context.Context, text string, in chat.Inbound) (string, error)
}

// InboundObserver counts inbound events.
type InboundObserver interface {
	InboundReceived(transport, kind string)
}

// DispatcherConfig wires a Dispatcher. Transport, Router, Classifier and
// Workflows are required.
type DispatcherConfig struct {
	Transport  chat.Transport
	Name       string
	Router     CommandRouter
	Classifier Classifier
	Limiter    *nlp.RateLimiter
	Workflows  Workflows
	Observer   InboundObserver
	Logger     *slog.Logger
	// TypingInterval overrides typingInterval, for tests.
	TypingInterval time.Duration
}

// Dispatcher is the chat.Handler behind a transport. Every inbound turn gets
// its own trace id and goroutine; button presses go straight to the workflow
// engine, slash commands to the command router and everything else through
// the classifier.
type Dispatcher struct {
	cfg DispatcherConfig
	log *slog.Logger
	wg  sync.WaitGroup
}

var _ chat.Handler = (*Dispatcher)(nil)

// NewDispatcher returns a Dispatcher for cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = nlp.NewRateLimiter(nlp.DefaultRateLimit, time.Minute)
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = typingInterval
	}
	return &Dispatcher{cfg: cfg, log: cfg.Logger}
}

// HandleInbound implements chat.Handler. It returns immediately.
func (d *Dispatcher) HandleInbound(ctx context.Context, in chat.Inbound) {
	ctx = trace.WithTraceID(ctx, trace.GenerateID())

	kind := "text"
	switch {
	case in.IsCallback():
		kind = "callback"
	case commands.IsCommand(in.Text):
		kind = "command"
	}
	if d.cfg.Observer != nil {
		d.cfg.Observer.InboundReceived(d.cfg.Name, kind)
	}
	trace.Logger(ctx, d.log).Debug("dispatch: inbound",
		"conv", in.Conversation, "sender", in.Sender, "kind", kind)

	if kind == "callback" {
		d.cfg.Workflows.HandleCallback(ctx, in)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				trace.Logger(ctx, d.log).Error("dispatch: panic",
					"conv", in.Conversation, "panic", rec, "stack", string(debug.Stack()))
			}
		}()
		d.handleText(ctx, in)
	}()
}

// Wait blocks until every in-flight turn has been handed off.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) handleText(ctx context.Context, in chat.Inbound) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return
	}
	log := trace.Logger(ctx, d.log).With("conv", in.Conversation)

	isCmd := commands.IsCommand(text)
	if commands.LooksLikeSecret(text, isCmd) {
		log.Warn("dispatch: message looks like a secret; not processed")
		d.send(ctx, in.Conversation, chat.Text(commands.SecretGuardrailMessage))
		return
	}
	if isCmd {
		d.command(ctx, log, in, text)
		return
	}
	d.freeText(ctx, log, in, text)
}

func (d *Dispatcher) command(ctx context.Context, log *slog.Logger, in chat.Inbound, text string) {
	resp, err := d.cfg.Router.Route(ctx, text, in)
	if err != nil {
		log.Info("dispatch: command rejected", "command", strings.Fields(text)[0], "err", err)
		d.send(ctx, in.Conversation, chat.Text("❌ "+err.Error()))
		return
	}
	if resp != "" {
		d.send(ctx, in.Conversation, chat.Markdown(resp))
	}
}

func (d *Dispatcher) freeText(ctx context.Context, log *slog.Logger, in chat.Inbound, text string) {
	conv := in.Conversation
	if !d.cfg.Limiter.Allow(conv) {
		log.Info("dispatch: classifier rate limit reached")
		d.send(ctx, conv, chat.Text(nlp.RateLimitMessage))
		return
	}

	status, err := d.cfg.Transport.Send(ctx, conv, chat.Markdown(statusUnderstanding))
	if err != nil {
		log.Warn("dispatch: could not send status message", "err", err)
	}

	stopTyping := d.typing(ctx, conv)
	d.progress(ctx, conv, status, statusClassifying)
	c, err := d.cfg.Classifier.Classify(ctx, text)
	stopTyping()
	if err != nil {
		log.Warn("dispatch: classification failed", "err", err)
		d.replaceStatus(ctx, conv, status, classifyErrorMessage(err))
		return
	}
	log.Info("dispatch: classified", "intent", c.Intent, "title", c.Entities.Title)

	d.progress(ctx, conv, status, statusRouting)
	d.cfg.Workflows.RouteIntent(ctx, conv, c, status)
}

// classifyErrorMessage is the chat text for a failed classification.
func classifyErrorMessage(err error) chat.Message {
	switch {
	case errors.Is(err, nlp.ErrRateLimit):
		return chat.Text(nlp.APIRateLimitMessage)
	case errors.Is(err, nlp.ErrMalformedOutput):
		return chat.Text(nlp.MalformedOutputMessage)
	case errors.Is(err, nlp.ErrNotConfigured):
		return chat.Text(msgNLPDisabled)
	case errors.Is(err, context.Canceled):
		return chat.Markdown(msgProcessingError)
	default:
		return chat.Text(nlp.ClassifyFailedMessage)
	}
}

// progress edits the status message, if there is one.
func (d *Dispatcher) progress(ctx context.Context, conv string, status chat.MessageID, line string) {
	if status == "" {
		return
	}
	d.edit(ctx, conv, status, chat.Markdown(line))
}

// replaceStatus turns the status message into msg, or sends msg when there
// is no status message.
func (d *Dispatcher) replaceStatus(ctx context.Context, conv string, status chat.MessageID, msg chat.Message) {
	if status == "" {
		d.send(ctx, conv, msg)
		return
	}
	d.edit(ctx, conv, status, msg)
}

func (d *Dispatcher) edit(ctx context.Context, conv string, id chat.MessageID, msg chat.Message) {
	if err := d.cfg.Transport.Edit(ctx, conv, id, msg); err != nil && !errors.Is(err, chat.ErrMessageGone) {
		trace.Logger(ctx, d.log).Warn("dispatch: could not update status message", "conv", conv, "err", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, conv string, msg chat.Message) {
	if _, err := d.cfg.Transport.Send(ctx, conv, msg); err != nil {
		trace.Logger(ctx, d.log).Warn("dispatch: send failed", "conv", conv, "err", err)
	}
}

// typing shows the typing indicator until the returned func is called.
func (d *Dispatcher) typing(ctx context.Context, conv string) (stop func()) {
	typer, ok := d.cfg.Transport.(chat.Typer)
	if !ok {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.cfg.TypingInterval)
		defer ticker.Stop()
		for {
			if err := typer.Typing(ctx, conv); err != nil && ctx.Err() == nil {
				d.log.Debug("dispatch: typing indicator failed", "conv", conv, "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
