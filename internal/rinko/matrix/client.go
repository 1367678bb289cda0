// Package matrix is the Matrix transport. Matrix has no inline keyboards, so
// buttons are rendered as a numbered list; replying with a number (or
// reacting with a keycap emoji) presses the matching button. Edits are
// m.replace relations and deletes are redactions.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
)

const (
	backoffMin    = 2 * time.Second
	backoffMax    = 5 * time.Minute
	typingTimeout = 5 * time.Second
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined at startup and are the only rooms the bot listens
	// in.
	Rooms []string
	// DB persists the sync token. When nil the whole room history is
	// skipped on every start instead of resumed.
	DB     *sql.DB
	Logger *slog.Logger
}

// Client is a Matrix transport.
type Client struct {
	client *mautrix.Client
	userID id.UserID
	rooms  []string
	log    *slog.Logger

	mu      sync.Mutex
	prompts *promptTable
}

var (
	_ chat.Transport = (*Client)(nil)
	_ chat.Typer     = (*Client)(nil)
)

// New returns a Client. It does not contact the homeserver.
func New(cfg Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		client:  client,
		userID:  id.UserID(cfg.UserID),
		rooms:   slices.Clone(cfg.Rooms),
		log:     logger.With("transport", "matrix"),
		prompts: newPromptTable(),
	}
	if cfg.DB != nil {
		client.Store = NewSyncStore(cfg.DB)
	} else {
		c.log.Warn("matrix: no database configured; sync position is not persisted")
	}
	return c, nil
}

// Name identifies the transport in logs and metrics.
func (c *Client) Name() string { return "matrix" }

// Run joins the configured rooms and syncs until ctx is cancelled, with
// exponential back-off between failed syncs.
func (c *Client) Run(ctx context.Context, h chat.Handler) error {
	// E2EE is not implemented; rooms must be unencrypted.
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.handleMessage(ctx, h, evt)
	})
	syncer.OnEventType(event.EventReaction, func(ctx context.Context, evt *event.Event) {
		c.handleReaction(ctx, h, evt)
	})

	for _, room := range c.rooms {
		if err := c.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join %s: %w", room, err)
		}
	}
	c.log.Info("matrix: sync started", "rooms", len(c.rooms))

	backoff := backoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			c.log.Info("matrix: sync stopped")
			return nil
		}
		if err == nil {
			return nil
		}
		c.log.Error("matrix: sync failed; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Send posts msg and remembers its numbered buttons.
func (c *Client) Send(ctx context.Context, conv string, msg chat.Message) (chat.MessageID, error) {
	content, data := c.content(msg)
	resp, err := c.client.SendMessageEvent(ctx, id.RoomID(conv), event.EventMessage, content)
	if err != nil {
		return "", fmt.Errorf("matrix: send: %w", err)
	}
	c.mu.Lock()
	c.prompts.set(id.RoomID(conv), resp.EventID, data)
	c.mu.Unlock()
	return chat.MessageID(resp.EventID), nil
}

// Edit replaces the message with an m.replace edit.
func (c *Client) Edit(ctx context.Context, conv string, mid chat.MessageID, msg chat.Message) error {
	content, data := c.content(msg)
	content.SetEdit(id.EventID(mid))
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(conv), event.EventMessage, content); err != nil {
		return fmt.Errorf("matrix: edit: %w", err)
	}
	c.mu.Lock()
	c.prompts.set(id.RoomID(conv), id.EventID(mid), data)
	c.mu.Unlock()
	return nil
}

// Delete redacts the message.
func (c *Client) Delete(ctx context.Context, conv string, mid chat.MessageID) error {
	c.mu.Lock()
	c.prompts.set(id.RoomID(conv), id.EventID(mid), nil)
	c.mu.Unlock()
	if _, err := c.client.RedactEvent(ctx, id.RoomID(conv), id.EventID(mid)); err != nil {
		if errors.Is(err, mautrix.MNotFound) {
			return fmt.Errorf("%w: %v", chat.ErrMessageGone, err)
		}
		return fmt.Errorf("matrix: redact: %w", err)
	}
	return nil
}

// Typing shows the typing indicator for a few seconds.
func (c *Client) Typing(ctx context.Context, conv string) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(conv), true, typingTimeout); err != nil {
		return fmt.Errorf("matrix: typing: %w", err)
	}
	return nil
}

func (c *Client) content(msg chat.Message) (*event.MessageEventContent, []string) {
	plain, formatted, data := render(msg)
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          plain,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}, data
}

func (c *Client) listening(room id.RoomID) bool {
	return slices.Contains(c.rooms, room.String())
}

func (c *Client) handleMessage(ctx context.Context, h chat.Handler, evt *event.Event) {
	if evt.Sender == c.userID || !c.listening(evt.RoomID) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	// Edits of earlier messages are not new input.
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}
	content.RemoveReplyFallback()

	c.mu.Lock()
	in := c.prompts.decode(evt.RoomID, content.RelatesTo.GetReplyTo(), content.Body)
	c.mu.Unlock()
	in.Sender = evt.Sender.String()
	if !in.IsCallback() {
		in.MessageID = chat.MessageID(evt.ID)
	}
	h.HandleInbound(ctx, in)
}

func (c *Client) handleReaction(ctx context.Context, h chat.Handler, evt *event.Event) {
	if evt.Sender == c.userID || !c.listening(evt.RoomID) {
		return
	}
	content := evt.Content.AsReaction()
	if content == nil {
		return
	}
	c.mu.Lock()
	in, ok := c.prompts.press(evt.RoomID, content.RelatesTo.EventID, content.RelatesTo.Key)
	c.mu.Unlock()
	if !ok {
		return
	}
	in.Sender = evt.Sender.String()
	h.HandleInbound(ctx, in)
}

// joinRoom joins room. M_FORBIDDEN usually means the bot is already a
// member, so it is logged and ignored.
func (c *Client) joinRoom(ctx context.Context, room id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, room)
	if errors.Is(err, mautrix.MForbidden) {
		c.log.Warn("matrix: join forbidden, assuming membership", "room", room)
		return nil
	}
	return err
}
