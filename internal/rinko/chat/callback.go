package chat

import (
	"fmt"
	"strings"
)

// CallbackSeparator splits action and parameter in callback data.
const CallbackSeparator = "|"

// Callback is decoded button data. On the wire it is "action" or
// "action|param"; the param may itself contain separators.
type Callback struct {
	Action string
	Param  string
}

// ParseCallback decodes raw callback data. Only an empty action is an error.
func ParseCallback(data string) (Callback, error) {
	action, param, _ := strings.Cut(strings.TrimSpace(data), CallbackSeparator)
	if action == "" {
		return Callback{}, fmt.Errorf("chat: empty callback action in %q", data)
	}
	return Callback{Action: action, Param: param}, nil
}

// String encodes the callback for the wire.
func (c Callback) String() string {
	if c.Param == "" {
		return c.Action
	}
	return c.Action + CallbackSeparator + c.Param
}

// Data builds wire data for action with an optional formatted parameter.
func Data(action string, param ...any) string {
	if len(param) == 0 {
		return action
	}
	parts := make([]string, len(param))
	for i, p := range param {
		parts[i] = fmt.Sprint(p)
	}
	return Callback{Action: action, Param: strings.Join(parts, CallbackSeparator)}.String()
}

// ActionButton is a Data button.
func ActionButton(label, action string, param ...any) Button {
	return Button{Label: label, Data: Data(action, param...)}
}

// LinkButton is a URL button.
func LinkButton(label, url string) Button {
	return Button{Label: label, URL: url}
}
