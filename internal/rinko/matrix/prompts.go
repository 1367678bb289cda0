package matrix

import (
	"slices"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
)

const maxPrompts = 256

// promptTable maps sent prompts to the callback data of their numbered
// buttons. It is not safe for concurrent use; Client guards it.
type promptTable struct {
	buttons map[id.EventID][]string
	latest  map[id.RoomID]id.EventID
	order   []id.EventID
}

func newPromptTable() *promptTable {
	return &promptTable{
		buttons: make(map[id.EventID][]string),
		latest:  make(map[id.RoomID]id.EventID),
	}
}

// set records the buttons of ev. No buttons forgets the prompt.
func (t *promptTable) set(room id.RoomID, ev id.EventID, data []string) {
	if len(data) == 0 {
		delete(t.buttons, ev)
		t.order = slices.DeleteFunc(t.order, func(e id.EventID) bool { return e == ev })
		if t.latest[room] == ev {
			delete(t.latest, room)
		}
		return
	}
	if _, known := t.buttons[ev]; !known {
		t.order = append(t.order, ev)
	}
	t.buttons[ev] = data
	t.latest[room] = ev

	for len(t.order) > maxPrompts {
		delete(t.buttons, t.order[0])
		t.order = t.order[1:]
	}
}

// decode turns a text message into an inbound event. A number that picks a
// button of the replied-to prompt, or else of the room's latest prompt,
// becomes a button press.
func (t *promptTable) decode(room id.RoomID, replyTo id.EventID, text string) chat.Inbound {
	in := chat.Inbound{Conversation: room.String(), Text: strings.TrimSpace(text)}
	n, ok := choice(text)
	if !ok {
		return in
	}
	target := replyTo
	if _, known := t.buttons[target]; !known {
		target = t.latest[room]
	}
	data := t.buttons[target]
	if n > len(data) {
		return in
	}
	return chat.Inbound{Conversation: room.String(), CallbackData: data[n-1], MessageID: chat.MessageID(target)}
}

// press resolves a reaction key on ev to a button press.
func (t *promptTable) press(room id.RoomID, ev id.EventID, key string) (chat.Inbound, bool) {
	data := t.buttons[ev]
	n, ok := choice(key)
	if !ok || n > len(data) {
		return chat.Inbound{}, false
	}
	return chat.Inbound{Conversation: room.String(), CallbackData: data[n-1], MessageID: chat.MessageID(ev)}, true
}
