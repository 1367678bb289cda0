package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/app"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/commands"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
)

// --- fakes -----------------------------------------------------------------

type sent struct {
	Op   string
	ID   chat.MessageID
	Text string
}

type fakeTransport struct {
	mu     sync.Mutex
	next   int
	log    []sent
	typing int
}

func (f *fakeTransport) Send(_ context.Context, _ string, msg chat.Message) (chat.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := chat.MessageID(fmt.Sprint(f.next))
	f.log = append(f.log, sent{Op: "send", ID: id, Text: msg.Text})
	return id, nil
}

func (f *fakeTransport) Edit(_ context.Context, _ string, id chat.MessageID, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, sent{Op: "edit", ID: id, Text: msg.Text})
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _ string, id chat.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, sent{Op: "delete", ID: id})
	return nil
}

func (f *fakeTransport) Typing(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeTransport) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.log...)
}

type fakeClassifier struct {
	mu    sync.Mutex
	out   *nlp.Classification
	err   error
	calls []string
}

func (f *fakeClassifier) Classify(_ context.Context, text string) (*nlp.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	return f.out, f.err
}

type routed struct {
	conv   string
	intent nlp.Intent
	status chat.MessageID
	trace  string
}

type fakeWorkflows struct {
	mu        sync.Mutex
	routed    []routed
	callbacks []chat.Inbound
}

func (f *fakeWorkflows) RouteIntent(ctx context.Context, conv string, c *nlp.Classification, status chat.MessageID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routed = append(f.routed, routed{conv: conv, intent: c.Intent, status: status, trace: trace.FromContext(ctx)})
}

func (f *fakeWorkflows) HandleCallback(_ context.Context, in chat.Inbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, in)
}

type countingObserver struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (o *countingObserver) InboundReceived(transport, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds[transport+"/"+kind]++
}

// --- helpers ---------------------------------------------------------------

type harness struct {
	d          *app.Dispatcher
	transport  *fakeTransport
	classifier *fakeClassifier
	workflows  *fakeWorkflows
	observer   *countingObserver
}

func newHarness(limit int) *harness {
	h := &harness{
		transport:  &fakeTransport{},
		classifier: &fakeClassifier{out: &nlp.Classification{Intent: nlp.IntentAddTV}},
		workflows:  &fakeWorkflows{},
		observer:   &countingObserver{kinds: map[string]int{}},
	}
	router := commands.NewRouter()
	router.Register("ping", func(context.Context, *commands.Command, chat.Inbound) (string, error) {
		return "🏓 *Pong*", nil
	})
	h.d = app.NewDispatcher(app.DispatcherConfig{
		Transport:      h.transport,
		Name:           "fake",
		Router:         router,
		Classifier:     h.classifier,
		Limiter:        nlp.NewRateLimiter(limit, time.Minute),
		Workflows:      h.workflows,
		Observer:       h.observer,
		TypingInterval: time.Hour,
	})
	return h
}

func (h *harness) say(text string) {
	h.d.HandleInbound(context.Background(), chat.Inbound{Conversation: "42", Sender: "alice", Text: text})
	h.d.Wait()
}

// --- tests -----------------------------------------------------------------

func TestDispatcher_FreeText(t *testing.T) {
	h := newHarness(0)
	h.say("add severance")

	want := []sent{
		{Op: "send", ID: "1", Text: "⏳ *Understanding your request…*"},
		{Op: "edit", ID: "1", Text: "🤖 *Classifying intent…*"},
		{Op: "edit", ID: "1", Text: "📡 *Routing request…*"},
	}
	if diff := cmp.Diff(want, h.transport.messages()); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"add severance"}, h.classifier.calls); diff != "" {
		t.Errorf("classifier calls (-want +got):\n%s", diff)
	}

	if len(h.workflows.routed) != 1 {
		t.Fatalf("routed = %+v", h.workflows.routed)
	}
	r := h.workflows.routed[0]
	if r.conv != "42" || r.intent != nlp.IntentAddTV || r.status != "1" {
		t.Errorf("routed = %+v", r)
	}
	if !strings.HasPrefix(r.trace, "t_") {
		t.Errorf("trace id = %q", r.trace)
	}
	if h.transport.typing == 0 {
		t.Error("typing indicator was never shown")
	}
}

func TestDispatcher_Callback(t *testing.T) {
	h := newHarness(0)
	in := chat.Inbound{Conversation: "42", CallbackID: "cb1", CallbackData: "tidy_confirm", MessageID: "7"}
	h.d.HandleInbound(context.Background(), in)
	h.d.Wait()

	if len(h.workflows.callbacks) != 1 || h.workflows.callbacks[0].CallbackData != "tidy_confirm" {
		t.Errorf("callbacks = %+v", h.workflows.callbacks)
	}
	if got := h.transport.messages(); len(got) != 0 {
		t.Errorf("callback sent messages: %+v", got)
	}
	if len(h.classifier.calls) != 0 {
		t.Error("callback reached the classifier")
	}
}

func TestDispatcher_Commands(t *testing.T) {
	h := newHarness(0)
	h.say("/ping")
	h.say("/nope")

	got := h.transport.messages()
	if len(got) != 2 {
		t.Fatalf("messages = %+v", got)
	}
	if got[0].Text != "🏓 *Pong*" {
		t.Errorf("ping reply = %q", got[0].Text)
	}
	if !strings.HasPrefix(got[1].Text, "❌ ") || !strings.Contains(got[1].Text, "/nope") {
		t.Errorf("unknown command reply = %q", got[1].Text)
	}
	if len(h.classifier.calls) != 0 {
		t.Error("commands reached the classifier")
	}
}

func TestDispatcher_SecretGuardrail(t *testing.T) {
	h := newHarness(0)
	h.say("my key is sk-abcdefghijklmnopqrstuvwxyz1234567890abcd")

	got := h.transport.messages()
	if len(got) != 1 || got[0].Text != commands.SecretGuardrailMessage {
		t.Errorf("messages = %+v", got)
	}
	if len(h.classifier.calls) != 0 {
		t.Error("secret reached the classifier")
	}
}

func TestDispatcher_RateLimit(t *testing.T) {
	h := newHarness(1)
	h.say("add dune")
	h.say("add dune part two")

	if len(h.classifier.calls) != 1 {
		t.Errorf("classifier calls = %v", h.classifier.calls)
	}
	got := h.transport.messages()
	if last := got[len(got)-1]; last.Op != "send" || last.Text != nlp.RateLimitMessage {
		t.Errorf("last message = %+v", last)
	}
}

func TestDispatcher_ClassifyErrors(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("classify: %w", nlp.ErrRateLimit), nlp.APIRateLimitMessage},
		{nlp.ErrMalformedOutput, nlp.MalformedOutputMessage},
		{errors.New("dial tcp: connection refused"), nlp.ClassifyFailedMessage},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			h := newHarness(0)
			h.classifier.err = tc.err
			h.say("what's new")

			got := h.transport.messages()
			last := got[len(got)-1]
			if last.Op != "edit" || last.ID != "1" || last.Text != tc.want {
				t.Errorf("last message = %+v, want the status edited to %q", last, tc.want)
			}
			if len(h.workflows.routed) != 0 {
				t.Errorf("failed classification was routed: %+v", h.workflows.routed)
			}
		})
	}
}

func TestDispatcher_CountsInbound(t *testing.T) {
	h := newHarness(0)
	h.say("/ping")
	h.say("add dune")
	h.say("add arrival")
	h.d.HandleInbound(context.Background(), chat.Inbound{Conversation: "42", CallbackData: "x"})

	want := map[string]int{"fake/command": 1, "fake/text": 2, "fake/callback": 1}
	if diff := cmp.Diff(want, h.observer.kinds); diff != "" {
		t.Errorf("inbound counts (-want +got):\n%s", diff)
	}
}

func TestDispatcher_IgnoresBlankText(t *testing.T) {
	h := newHarness(0)
	h.say("   ")
	if got := h.transport.messages(); len(got) != 0 {
		t.Errorf("blank message produced %+v", got)
	}
}
