// Package commands parses and routes the slash commands that bypass the
// classifier: /help, /status, /config and friends.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
)

// Prefix starts every command.
const Prefix = "/"

// Command represents a parsed command
type Command struct {
	Name string
	// Subcommand is set by Route when Name.Subcommand has its own handler.
	Subcommand string
	Args       []string
	RawText    string
}

// ErrNotACommand is returned by Parse when the message does not start with the
// command prefix. Callers should use errors.Is to distinguish this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrUnknownCommand is returned by Route for commands nobody registered.
var ErrUnknownCommand = errors.New("unknown command")

// Handler is a function that handles a command. The returned text is sent
// back as Markdown.
type Handler func(ctx context.Context, cmd *Command, in chat.Inbound) (string, error)

// Router routes commands to handlers
type Router struct {
	handlers map[string]Handler
}

// NewRouter creates a new command router
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register registers a command handler. Use "name.sub" for a subcommand.
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// IsCommand reports whether text looks like a command.
func IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasPrefix(text, Prefix) && len(text) > len(Prefix)
}

// Parse parses a message into a command. Telegram's "/cmd@BotName" form is
// accepted.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Prefix) {
		return nil, ErrNotACommand
	}

	parts := strings.Fields(strings.TrimPrefix(text, Prefix))
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	name, _, _ := strings.Cut(parts[0], "@")
	if name == "" {
		return nil, fmt.Errorf("empty command")
	}

	return &Command{
		Name:    strings.ToLower(name),
		Args:    parts[1:],
		RawText: text,
	}, nil
}

// Route parses and routes a command to its handler
func (r *Router) Route(ctx context.Context, text string, in chat.Inbound) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	if len(cmd.Args) > 0 {
		sub := strings.ToLower(cmd.Args[0])
		if handler, ok := r.handlers[cmd.Name+"."+sub]; ok {
			cmd.Subcommand = sub
			cmd.Args = cmd.Args[1:]
			return handler(ctx, cmd, in)
		}
	}

	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("%w: /%s", ErrUnknownCommand, cmd.Name)
	}
	return handler(ctx, cmd, in)
}

// GetArg returns an argument by index
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

// Rest joins the arguments from index on, for values that contain spaces.
func (c *Command) Rest(index int) string {
	if index < 0 || index >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[index:], " ")
}

// FullCommand returns the full command string
func (c *Command) FullCommand() string {
	if c.Subcommand != "" {
		return c.Name + " " + c.Subcommand
	}
	return c.Name
}
