package matrix

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/store"
)

func TestRenderMarkdownAndButtons(t *testing.T) {
	plain, formatted, data := render(chat.Message{
		Text:     "Delete *The Office* season 2 <now>?",
		Markdown: true,
		Buttons: [][]chat.Button{
			{chat.ActionButton("✅ Yes", "tidy_yes"), chat.ActionButton("❌ No", "tidy_no")},
			{chat.LinkButton("TMDB", "https://tmdb.org/?a=1&b=2")},
		},
	})

	wantPlain := "Delete The Office season 2 <now>?\n\n1. ✅ Yes\n2. ❌ No\n🔗 TMDB: https://tmdb.org/?a=1&b=2\n\n" + replyHint
	if plain != wantPlain {
		t.Errorf("plain =\n%q\nwant\n%q", plain, wantPlain)
	}
	wantHTML := "Delete <b>The Office</b> season 2 &lt;now&gt;?<br><br>" +
		"<b>1.</b> ✅ Yes<br><b>2.</b> ❌ No<br>" +
		`🔗 <a href="https://tmdb.org/?a=1&amp;b=2">TMDB</a><br><br><i>` + replyHint + "</i>"
	if formatted != wantHTML {
		t.Errorf("html =\n%q\nwant\n%q", formatted, wantHTML)
	}
	if diff := cmp.Diff([]string{"tidy_yes", "tidy_no"}, data); diff != "" {
		t.Errorf("data (-want +got):\n%s", diff)
	}
}

func TestRenderPlainText(t *testing.T) {
	plain, formatted, data := render(chat.Text("a_b *c*"))
	if plain != "a_b *c*" || formatted != "a_b *c*" || data != nil {
		t.Errorf("render = %q, %q, %v", plain, formatted, data)
	}
}

func TestMarkdownToHTML(t *testing.T) {
	tests := map[string]string{
		"`/volume1/media`":     "<code>/volume1/media</code>",
		"_Season 2_ is ready":  "<i>Season 2</i> is ready",
		"file_name_here":       "file_name_here",
		"💽 *NAS Storage*\nok": "💽 <b>NAS Storage</b>\nok",
	}
	for in, want := range tests {
		if got := markdownToHTML(in); got != want {
			t.Errorf("markdownToHTML(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChoice(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"2", 2, true},
		{" 3. ", 3, true},
		{"#4", 4, true},
		{"1\ufe0f\u20e3", 1, true},
		{"5\u20e3", 5, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"yes", 0, false},
	}
	for _, tt := range tests {
		got, ok := choice(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("choice(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPromptTableDecode(t *testing.T) {
	const room = id.RoomID("!media:example.org")
	tab := newPromptTable()
	tab.set(room, "$old", []string{"redl_yes", "redl_no"})
	tab.set(room, "$new", []string{"tidy_yes", "tidy_no", "tidy_pick"})

	tests := []struct {
		name    string
		replyTo id.EventID
		text    string
		want    chat.Inbound
	}{
		{
			name: "latest prompt",
			text: "3",
			want: chat.Inbound{Conversation: string(room), CallbackData: "tidy_pick", MessageID: "$new"},
		},
		{
			name:    "reply picks the quoted prompt",
			replyTo: "$old",
			text:    "1",
			want:    chat.Inbound{Conversation: string(room), CallbackData: "redl_yes", MessageID: "$old"},
		},
		{
			name: "out of range stays text",
			text: "9",
			want: chat.Inbound{Conversation: string(room), Text: "9"},
		},
		{
			name: "free text",
			text: " add dune ",
			want: chat.Inbound{Conversation: string(room), Text: "add dune"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tab.decode(room, tt.replyTo, tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decode (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPromptTableForgetsFinishedPrompts(t *testing.T) {
	const room = id.RoomID("!media:example.org")
	tab := newPromptTable()
	tab.set(room, "$p", []string{"qb_yes", "qb_no"})

	if in, ok := tab.press(room, "$p", "2\ufe0f\u20e3"); !ok || in.CallbackData != "qb_no" {
		t.Fatalf("press = %+v, %v", in, ok)
	}

	tab.set(room, "$p", nil)
	if _, ok := tab.press(room, "$p", "1"); ok {
		t.Error("press on a finished prompt succeeded")
	}
	if in := tab.decode(room, "", "1"); in.IsCallback() {
		t.Errorf("decode after finish = %+v", in)
	}
}

func TestPromptTableIsBounded(t *testing.T) {
	const room = id.RoomID("!r:example.org")
	tab := newPromptTable()
	for i := range maxPrompts + 10 {
		tab.set(room, id.EventID(string(rune('a'+i%26))+string(rune('0'+i))), []string{"x"})
	}
	if len(tab.buttons) != maxPrompts || len(tab.order) != maxPrompts {
		t.Errorf("table size = %d/%d, want %d", len(tab.buttons), len(tab.order), maxPrompts)
	}
}

func TestSyncStoreRoundTrip(t *testing.T) {
	db, err := store.New(filepath.Join(t.TempDir(), "rinko.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()

	s := NewSyncStore(db.DB())
	ctx := context.Background()
	const user = id.UserID("@rinko:example.org")

	if got, err := s.LoadNextBatch(ctx, user); err != nil || got != "" {
		t.Fatalf("LoadNextBatch before save = %q, %v", got, err)
	}
	for _, token := range []string{"s1_1", "s2_7"} {
		if err := s.SaveNextBatch(ctx, user, token); err != nil {
			t.Fatalf("SaveNextBatch: %v", err)
		}
	}
	if got, err := s.LoadNextBatch(ctx, user); err != nil || got != "s2_7" {
		t.Errorf("LoadNextBatch = %q, %v", got, err)
	}
	if err := s.SaveFilterID(ctx, user, "f1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}
	if got, err := s.LoadFilterID(ctx, user); err != nil || got != "f1" {
		t.Errorf("LoadFilterID = %q, %v", got, err)
	}
}
