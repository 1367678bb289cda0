package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/Rinko/internal/rinko/audit"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/config"
	"github.com/bdobrica/Rinko/internal/rinko/store"
)

// keyModel is applied to the classifier as soon as it changes.
const keyModel = "nlp.model"

// HandleConfigSet stores a runtime configuration value.
//
// Usage: /config set <key> <value>
//
// Only allowlisted keys are accepted. Values may contain spaces, which
// profile names often do.
func (h *Handlers) HandleConfigSet(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	ctx, traceID := h.traced(ctx)
	if err := h.requireAdmin(in); err != nil {
		return "", err
	}

	if len(cmd.Args) < 2 {
		return "", fmt.Errorf("usage: /config set <key> <value>\n\nPermitted keys: %s", config.KeyNames())
	}
	key := cmd.Args[0]
	value := cmd.Rest(1)

	if err := config.Validate(key, value); err != nil {
		if errors.Is(err, config.ErrUnknownKey) {
			return "", fmt.Errorf("unknown config key %q. Permitted keys: %s", key, config.KeyNames())
		}
		return "", err
	}

	if err := h.cfg.ConfigStore.Set(ctx, key, value); err != nil {
		h.writeAudit(ctx, in, "config.set", key, store.ResultError, nil, err)
		return "", fmt.Errorf("failed to set config: %w", err)
	}
	h.writeAudit(ctx, in, "config.set", key, store.ResultSuccess, store.AuditPayload{"key": key, "value": value}, nil)
	h.applied(ctx, in, key, value)

	return fmt.Sprintf("✓ `%s` set to `%s`. (trace: `%s`)", key, value, traceID), nil
}

// HandleConfigGet retrieves a runtime configuration value.
//
// Usage: /config get <key>
//
// When the key has not been set, the handler replies with a "not set, using
// default" notice so operators can distinguish an absent value.
func (h *Handlers) HandleConfigGet(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	key, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /config get <key>\n\nPermitted keys: %s", config.KeyNames())
	}
	k, ok := config.LookupKey(key)
	if !ok {
		return "", fmt.Errorf("unknown config key %q. Permitted keys: %s", key, config.KeyNames())
	}

	value, err := h.cfg.ConfigStore.Get(ctx, key)
	if errors.Is(err, config.ErrNotFound) {
		return fmt.Sprintf("`%s`: not set, using default.\n_%s_", key, k.Help), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return fmt.Sprintf("`%s`: `%s`\n_%s_", key, value, k.Help), nil
}

// HandleConfigList shows every allowlisted key and its override, if any.
//
// Usage: /config list
func (h *Handlers) HandleConfigList(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	entries, err := h.cfg.ConfigStore.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list config: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Runtime config* (%d set)\n", len(entries))
	for _, k := range config.Keys {
		if v, ok := entries[k.Name]; ok {
			fmt.Fprintf(&sb, "• `%s` = `%s`\n", k.Name, v)
		} else {
			fmt.Fprintf(&sb, "• `%s` (default)\n", k.Name)
		}
	}
	sb.WriteString("\nChange with /config set <key> <value>; revert with /config unset <key>.")
	return sb.String(), nil
}

// HandleConfigUnset deletes a runtime configuration value, reverting the key
// to its environment default.
//
// Usage: /config unset <key>
func (h *Handlers) HandleConfigUnset(ctx context.Context, cmd *Command, in chat.Inbound) (string, error) {
	ctx, traceID := h.traced(ctx)
	if err := h.requireAdmin(in); err != nil {
		return "", err
	}

	key, ok := cmd.GetArg(0)
	if !ok {
		return "", fmt.Errorf("usage: /config unset <key>\n\nPermitted keys: %s", config.KeyNames())
	}
	if _, ok := config.LookupKey(key); !ok {
		return "", fmt.Errorf("unknown config key %q. Permitted keys: %s", key, config.KeyNames())
	}

	if err := h.cfg.ConfigStore.Delete(ctx, key); err != nil {
		h.writeAudit(ctx, in, "config.unset", key, store.ResultError, nil, err)
		return "", fmt.Errorf("failed to unset config: %w", err)
	}
	h.writeAudit(ctx, in, "config.unset", key, store.ResultSuccess, store.AuditPayload{"key": key}, nil)
	h.applied(ctx, in, key, "")

	return fmt.Sprintf("✓ `%s` unset, reverted to default. (trace: `%s`)", key, traceID), nil
}

// applied pushes live changes and tells the operator. An empty value means
// the key was unset.
func (h *Handlers) applied(ctx context.Context, in chat.Inbound, key, value string) {
	if key == keyModel && h.cfg.Model != nil {
		h.cfg.Model.SetModel(value)
	}
	msg := key + " set to " + value
	if value == "" {
		msg = key + " reverted to default"
	}
	h.notify.Notify(ctx, audit.Event{
		Kind:    audit.KindConfigChanged,
		Actor:   in.Conversation,
		Target:  key,
		Message: msg,
	})
}

// ApplyStored pushes stored overrides that need a live component, such as
// the classifier model, at startup.
func (h *Handlers) ApplyStored(ctx context.Context) {
	if h.cfg.Model == nil {
		return
	}
	if v, ok := h.cfg.ConfigStore.Lookup(ctx, keyModel); ok {
		h.cfg.Model.SetModel(v)
		h.log.Info("config: classifier model override applied", "model", v)
	}
}
