// Package telegram is the Telegram Bot API transport. It long-polls
// getUpdates, hands messages and button presses to a chat.Handler, and
// implements chat.Transport with inline keyboards.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/common/redact"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
)

const (
	defaultPollTimeout = 30 * time.Second
	backoffMin         = 2 * time.Second
	backoffMax         = 15 * time.Second

	parseModeMarkdown = "Markdown"
	msgUnauthorized   = "This chat is not authorized to use this bot."
)

// Config configures a Bot.
type Config struct {
	Token string
	// AllowedChatIDs restricts who may talk to the bot. Empty allows
	// every chat.
	AllowedChatIDs []int64
	// PollTimeout is the getUpdates long-poll timeout.
	PollTimeout time.Duration
	// OffsetFile persists the update offset across restarts. Empty keeps
	// it in memory.
	OffsetFile string
	BaseURL    string
	Client     *http.Client
	Logger     *slog.Logger
}

// Bot is a Telegram transport.
type Bot struct {
	token       string
	baseURL     string
	client      *http.Client
	allowed     map[int64]struct{}
	pollTimeout time.Duration
	offsetFile  string
	log         *slog.Logger
}

var (
	_ chat.Transport        = (*Bot)(nil)
	_ chat.CallbackAnswerer = (*Bot)(nil)
	_ chat.Typer            = (*Bot)(nil)
)

// New returns a Bot. The token is required.
func New(cfg Config) (*Bot, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: pollTimeout + 15*time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[int64]struct{}, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = struct{}{}
	}
	return &Bot{
		token:       token,
		baseURL:     baseURL,
		client:      client,
		allowed:     allowed,
		pollTimeout: pollTimeout,
		offsetFile:  strings.TrimSpace(cfg.OffsetFile),
		log:         logger.With("transport", "telegram"),
	}, nil
}

// ParseChatIDs parses a comma-separated list of chat ids.
func ParseChatIDs(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram: invalid chat id %q: %w", v, err)
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Name identifies the transport in logs and metrics.
func (b *Bot) Name() string { return "telegram" }

func (b *Bot) chatAllowed(id int64) bool {
	if len(b.allowed) == 0 {
		return true
	}
	_, ok := b.allowed[id]
	return ok
}

func keyboard(rows [][]chat.Button) *replyMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]inlineButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]inlineButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, inlineButton{Text: btn.Label, CallbackData: btn.Data, URL: btn.URL})
		}
		out = append(out, buttons)
	}
	return &replyMarkup{InlineKeyboard: out}
}

// isParseError reports a Markdown entity error; the message is then resent
// as plain text.
func isParseError(err error) bool {
	return descriptionHas(err, "can't parse entities", "can't find end of the entity")
}

// Send posts msg and returns its message id.
func (b *Bot) Send(ctx context.Context, conv string, msg chat.Message) (chat.MessageID, error) {
	req := sendMessageRequest{ChatID: conv, Text: msg.Text, ReplyMarkup: keyboard(msg.Buttons)}
	if msg.Markdown {
		req.ParseMode = parseModeMarkdown
	}
	var sent message
	err := b.call(ctx, "sendMessage", req, &sent)
	if err != nil && req.ParseMode != "" && isParseError(err) {
		b.log.Debug("telegram: markdown rejected, sending plain text", "conv", conv, "err", err)
		req.ParseMode = ""
		err = b.call(ctx, "sendMessage", req, &sent)
	}
	if err != nil {
		return "", err
	}
	return chat.MessageID(strconv.FormatInt(sent.MessageID, 10)), nil
}

// Edit replaces the text and keyboard of id. An unchanged message is not an
// error; a message that can no longer be edited is chat.ErrMessageGone.
func (b *Bot) Edit(ctx context.Context, conv string, id chat.MessageID, msg chat.Message) error {
	mid, err := parseMessageID(id)
	if err != nil {
		return err
	}
	req := editMessageRequest{ChatID: conv, MessageID: mid, Text: msg.Text, ReplyMarkup: keyboard(msg.Buttons)}
	if msg.Markdown {
		req.ParseMode = parseModeMarkdown
	}
	err = b.call(ctx, "editMessageText", req, nil)
	if err != nil && req.ParseMode != "" && isParseError(err) {
		req.ParseMode = ""
		err = b.call(ctx, "editMessageText", req, nil)
	}
	switch {
	case err == nil, descriptionHas(err, "message is not modified"):
		return nil
	case descriptionHas(err, "message to edit not found", "message can't be edited"):
		return fmt.Errorf("%w: %v", chat.ErrMessageGone, err)
	default:
		return err
	}
}

// Delete removes id.
func (b *Bot) Delete(ctx context.Context, conv string, id chat.MessageID) error {
	mid, err := parseMessageID(id)
	if err != nil {
		return err
	}
	err = b.call(ctx, "deleteMessage", deleteMessageRequest{ChatID: conv, MessageID: mid}, nil)
	if descriptionHas(err, "message to delete not found", "message can't be deleted") {
		return fmt.Errorf("%w: %v", chat.ErrMessageGone, err)
	}
	return err
}

// AnswerCallback stops the button spinner, optionally with a toast.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return b.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: callbackID, Text: text}, nil)
}

// Typing shows "typing…" for about five seconds.
func (b *Bot) Typing(ctx context.Context, conv string) error {
	return b.call(ctx, "sendChatAction", chatActionRequest{ChatID: conv, Action: "typing"}, nil)
}

func parseMessageID(id chat.MessageID) (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid message id %q", id)
	}
	return n, nil
}

// Run long-polls for updates until ctx is cancelled. Poll failures back off
// from 2s to 15s; the offset is saved after every batch.
func (b *Bot) Run(ctx context.Context, h chat.Handler) error {
	offset, err := loadOffset(b.offsetFile)
	if err != nil {
		return err
	}
	if len(b.allowed) == 0 {
		b.log.Warn("telegram: no allowed chat ids configured; every chat may use the bot")
	}
	b.log.Info("telegram: polling started", "poll_timeout", b.pollTimeout, "allowed_chats", len(b.allowed))

	backoff := backoffMin
	for {
		if ctx.Err() != nil {
			b.log.Info("telegram: polling stopped")
			return nil
		}

		var updates []update
		err := b.call(ctx, "getUpdates", getUpdatesRequest{
			Offset:         offset,
			Timeout:        int(b.pollTimeout / time.Second),
			AllowedUpdates: []string{"message", "callback_query"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("telegram: getUpdates failed", "err", redact.Error(err, b.token), "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
			continue
		}
		backoff = backoffMin

		next := offset
		for _, u := range updates {
			if u.UpdateID >= next {
				next = u.UpdateID + 1
			}
			b.dispatch(ctx, h, u)
		}
		if next > offset {
			offset = next
			if err := saveOffset(b.offsetFile, offset); err != nil {
				b.log.Warn("telegram: save offset failed", "err", err)
			}
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, h chat.Handler, u update) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Message == nil || q.Data == "" {
			_ = b.AnswerCallback(ctx, q.ID, "")
			return
		}
		if !b.chatAllowed(q.Message.Chat.ID) {
			b.log.Warn("telegram: callback from unauthorized chat", "chat_id", q.Message.Chat.ID)
			_ = b.AnswerCallback(ctx, q.ID, msgUnauthorized)
			return
		}
		h.HandleInbound(ctx, chat.Inbound{
			Conversation: strconv.FormatInt(q.Message.Chat.ID, 10),
			Sender:       senderName(&q.From),
			CallbackID:   q.ID,
			CallbackData: q.Data,
			MessageID:    chat.MessageID(strconv.FormatInt(q.Message.MessageID, 10)),
		})

	case u.Message != nil:
		m := u.Message
		text := strings.TrimSpace(m.Text)
		if m.Chat.ID == 0 || text == "" {
			return
		}
		conv := strconv.FormatInt(m.Chat.ID, 10)
		if !b.chatAllowed(m.Chat.ID) {
			b.log.Warn("telegram: message from unauthorized chat", "chat_id", m.Chat.ID)
			if _, err := b.Send(ctx, conv, chat.Text(msgUnauthorized)); err != nil {
				b.log.Debug("telegram: unauthorized reply failed", "err", err)
			}
			return
		}
		h.HandleInbound(ctx, chat.Inbound{
			Conversation: conv,
			Sender:       senderName(m.From),
			Text:         text,
			MessageID:    chat.MessageID(strconv.FormatInt(m.MessageID, 10)),
		})
	}
}

func senderName(u *user) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}
