package monitor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/bdobrica/Rinko/internal/rinko/arr"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/monitor"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend answers command polls by command id and artifact polls in
// order, repeating the last artifact once the list is exhausted.
type fakeBackend struct {
	mu           sync.Mutex
	states       map[int]string
	defaultState string
	stateErrs    int
	artifacts    []monitor.Artifact
	searchIDs    []int
	searchErr    error
	searches     int
	commandPolls int
	panicOnPoll  bool
}

func (f *fakeBackend) CommandState(_ context.Context, id int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnPoll {
		panic("boom")
	}
	f.commandPolls++
	if f.stateErrs > 0 {
		f.stateErrs--
		return "", errors.New("connection refused")
	}
	if s, ok := f.states[id]; ok {
		return s, nil
	}
	return f.defaultState, nil
}

func (f *fakeBackend) Artifact(context.Context, int) (monitor.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.artifacts) == 0 {
		return monitor.Artifact{}, nil
	}
	a := f.artifacts[0]
	if len(f.artifacts) > 1 {
		f.artifacts = f.artifacts[1:]
	}
	return a, nil
}

func (f *fakeBackend) RunSearch(context.Context, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return 0, f.searchErr
	}
	if len(f.searchIDs) == 0 {
		return 0, nil
	}
	id := f.searchIDs[0]
	f.searchIDs = f.searchIDs[1:]
	return id, nil
}

func (f *fakeBackend) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

type fakeEditor struct {
	mu    sync.Mutex
	texts []string
}

func (e *fakeEditor) Edit(_ context.Context, _ string, _ chat.MessageID, msg chat.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(msg.Buttons) != 0 {
		return errors.New("unexpected buttons")
	}
	e.texts = append(e.texts, msg.Text)
	return nil
}

func (e *fakeEditor) edits() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

type fakeObserver struct {
	mu       sync.Mutex
	retries  int
	outcomes []string
}

func (o *fakeObserver) MonitorRetried() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *fakeObserver) MonitorFinished(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func fastOptions(maxAttempts int) monitor.Options {
	return monitor.Options{
		CommandPollInterval:  time.Millisecond,
		CommandTimeout:       5 * time.Millisecond,
		ArtifactPollInterval: time.Millisecond,
		ArtifactTimeout:      5 * time.Millisecond,
		MaxAttempts:          maxAttempts,
	}
}

func request() monitor.Request {
	return monitor.Request{
		Conversation:       "42",
		MessageID:          "100",
		TargetID:           7,
		CommandID:          10,
		PreviousArtifactID: 5,
		SeriesTitle:        "Show",
		EpisodeLabel:       "S01E02",
	}
}

func newRegistry(t *testing.T, b monitor.Backend, e monitor.Editor, opts ...monitor.RegistryOption) *monitor.Registry {
	t.Helper()
	r := monitor.NewRegistry(b, e, opts...)
	t.Cleanup(r.Close)
	return r
}

func waitDone(t *testing.T, h *monitor.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish")
	}
}

func TestMonitor_NeverCompletesWithSingleAttempt(t *testing.T) {
	b := &fakeBackend{defaultState: "started"}
	e := &fakeEditor{}
	obs := &fakeObserver{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(1)), monitor.WithObserver(obs))

	start := time.Now()
	h := r.Start(context.Background(), request())
	waitDone(t, h)

	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("finished after %v, want at least the command timeout", elapsed)
	}
	want := []string{"❌ Show S01E02 redownload failed. Sonarr command never completed."}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
	if n := b.searchCount(); n != 0 {
		t.Errorf("searches = %d, want 0", n)
	}
	if diff := cmp.Diff([]string{monitor.OutcomeFailed}, obs.outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if r.Active() != 0 {
		t.Errorf("Active = %d after finish, want 0", r.Active())
	}
}

func TestMonitor_TimeoutConsumesOneAttemptEach(t *testing.T) {
	b := &fakeBackend{defaultState: "queued", searchIDs: []int{11, 12}}
	e := &fakeEditor{}
	obs := &fakeObserver{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(2)), monitor.WithObserver(obs))

	h := r.Start(context.Background(), request())
	waitDone(t, h)

	want := []string{
		"⚠️ Show S01E02: Sonarr command never completed. Retrying (2/2)…",
		"❌ Show S01E02 redownload failed. Sonarr command never completed.",
	}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
	if n := b.searchCount(); n != 1 {
		t.Errorf("searches = %d, want 1", n)
	}
	if h.Attempt() != 2 || h.CommandID() != 11 {
		t.Errorf("attempt=%d command=%d, want 2 and 11", h.Attempt(), h.CommandID())
	}
	if obs.retries != 1 {
		t.Errorf("retries = %d, want 1", obs.retries)
	}
}

func TestMonitor_RetryThenSuccess(t *testing.T) {
	b := &fakeBackend{
		states:    map[int]string{10: "failed", 11: "completed"},
		searchIDs: []int{11},
		artifacts: []monitor.Artifact{{ID: 8, Size: 1536, Quality: "HDTV-1080p"}},
	}
	e := &fakeEditor{}
	obs := &fakeObserver{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(3)), monitor.WithObserver(obs))

	h := r.Start(context.Background(), request())
	waitDone(t, h)

	want := []string{
		`⚠️ Show S01E02: Sonarr reported "failed". Retrying (2/3)…`,
		"✅ Show S01E02 redownloaded (HDTV-1080p, 1.5 KB).",
	}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{monitor.OutcomeSuccess}, obs.outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitor_UnchangedArtifactIsNotSuccess(t *testing.T) {
	b := &fakeBackend{
		defaultState: "completed",
		artifacts:    []monitor.Artifact{{ID: 5, Size: 100, Quality: "WEBDL-720p"}},
	}
	e := &fakeEditor{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(1)))

	h := r.Start(context.Background(), request())
	waitDone(t, h)

	want := []string{"❌ Show S01E02 redownload failed. Sonarr finished but no new file appeared."}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitor_FetchErrorsDoNotConsumeAttempts(t *testing.T) {
	b := &fakeBackend{
		defaultState: "completed",
		stateErrs:    2,
		artifacts:    []monitor.Artifact{{ID: 9}},
	}
	e := &fakeEditor{}
	opts := fastOptions(1)
	opts.CommandTimeout = time.Second
	r := newRegistry(t, b, e, monitor.WithOptions(opts))

	h := r.Start(context.Background(), request())
	waitDone(t, h)

	want := []string{"✅ Show S01E02 redownloaded (unknown quality, unknown size)."}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
	if h.Attempt() != 1 {
		t.Errorf("Attempt = %d, want 1", h.Attempt())
	}
}

func TestMonitor_RetryWithoutCommandID(t *testing.T) {
	b := &fakeBackend{defaultState: "aborted", searchErr: monitor.ErrNoCommandID}
	e := &fakeEditor{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(3)))

	h := r.Start(context.Background(), request())
	waitDone(t, h)

	want := []string{
		`⚠️ Show S01E02: Sonarr reported "aborted". Retrying (2/3)…`,
		"❌ Show S01E02 redownload failed. Sonarr did not provide a command id for the retry.",
	}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
}

// Unknown states count as still running, so they end in a timeout.
func TestMonitor_RetrySearchError(t *testing.T) {
	b := &fakeBackend{defaultState: "weird", searchErr: errors.New("503")}
	e := &fakeEditor{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(2)))

	h := r.Start(context.Background(), request())
	waitDone(t, h)

	want := []string{
		"⚠️ Show S01E02: Sonarr command never completed. Retrying (2/2)…",
		"❌ Show S01E02 redownload failed. Unable to restart the Sonarr search.",
	}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
}

func TestMonitor_MissingCommandIDFailsImmediately(t *testing.T) {
	b := &fakeBackend{defaultState: "started"}
	e := &fakeEditor{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(1)))

	req := request()
	req.CommandID = 0
	h := r.Start(context.Background(), req)
	waitDone(t, h)

	want := []string{`❌ Show S01E02 redownload failed. Sonarr reported "failed".`}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.commandPolls != 0 {
		t.Errorf("commandPolls = %d, want 0", b.commandPolls)
	}
}

func TestMonitor_PanicIsReported(t *testing.T) {
	b := &fakeBackend{panicOnPoll: true}
	e := &fakeEditor{}
	obs := &fakeObserver{}
	r := newRegistry(t, b, e, monitor.WithOptions(fastOptions(1)), monitor.WithObserver(obs))

	h := r.Start(context.Background(), request())
	waitDone(t, h)

	want := []string{"❌ Show S01E02: monitoring failed (boom)."}
	if diff := cmp.Diff(want, e.edits()); diff != "" {
		t.Errorf("edits mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{monitor.OutcomeCrashed}, obs.outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
}

func slowOptions() monitor.Options {
	return monitor.Options{
		CommandPollInterval: time.Millisecond,
		CommandTimeout:      time.Hour,
		MaxAttempts:         1,
	}
}

func TestRegistry_StartSupersedesSameKey(t *testing.T) {
	b := &fakeBackend{defaultState: "started"}
	e := &fakeEditor{}
	obs := &fakeObserver{}
	r := newRegistry(t, b, e, monitor.WithOptions(slowOptions()), monitor.WithObserver(obs))

	first := r.Start(context.Background(), request())
	second := r.Start(context.Background(), request())

	if !first.Cancelled() {
		t.Error("first monitor not cancelled")
	}
	waitDone(t, first)
	if second.Cancelled() {
		t.Error("second monitor cancelled")
	}
	if r.Active() != 1 {
		t.Errorf("Active = %d, want 1", r.Active())
	}
	if got, ok := r.Get("42", 7); !ok || got != second {
		t.Errorf("Get returned %v, %v; want second handle", got, ok)
	}
	if n := len(e.edits()); n != 0 {
		t.Errorf("cancelled monitor edited %d times", n)
	}

	other := request()
	other.TargetID = 8
	third := r.Start(context.Background(), other)
	if second.Cancelled() {
		t.Error("different target cancelled existing monitor")
	}
	if r.Active() != 2 {
		t.Errorf("Active = %d, want 2", r.Active())
	}
	if n := r.CancelConversation("42"); n != 2 {
		t.Errorf("CancelConversation = %d, want 2", n)
	}
	waitDone(t, second)
	waitDone(t, third)
}

func TestRegistry_CancelIsIdempotent(t *testing.T) {
	b := &fakeBackend{defaultState: "started"}
	e := &fakeEditor{}
	r := newRegistry(t, b, e, monitor.WithOptions(slowOptions()))

	h := r.Start(context.Background(), request())
	if !r.Cancel("42", 7) {
		t.Fatal("Cancel reported no monitor")
	}
	if r.Cancel("42", 7) {
		t.Error("second Cancel reported a monitor")
	}
	h.Cancel()
	waitDone(t, h)
	if !h.Cancelled() {
		t.Error("handle not cancelled")
	}
	if r.Active() != 0 {
		t.Errorf("Active = %d, want 0", r.Active())
	}
	if n := len(e.edits()); n != 0 {
		t.Errorf("cancelled monitor edited %d times", n)
	}
}

func TestRegistry_CloseStopsMonitors(t *testing.T) {
	b := &fakeBackend{defaultState: "started"}
	e := &fakeEditor{}
	r := monitor.NewRegistry(b, e, monitor.WithOptions(slowOptions()))

	h := r.Start(context.Background(), request())
	r.Close()
	select {
	case <-h.Done():
	default:
		t.Fatal("Close returned before monitor exited")
	}
	if n := len(e.edits()); n != 0 {
		t.Errorf("edits after close = %d, want 0", n)
	}
}

func TestRequest_Label(t *testing.T) {
	if got := (monitor.Request{}).Label(); got != "Episode" {
		t.Errorf("Label = %q, want Episode", got)
	}
	if got := (monitor.Request{SeriesTitle: "Show"}).Label(); got != "Show" {
		t.Errorf("Label = %q, want Show", got)
	}
}

type fakeSonarr struct {
	episode *sonarr.Episode
	file    *sonarr.EpisodeFile
	command *arr.Command
	search  *arr.Command
}

func (f *fakeSonarr) Command(context.Context, int) (*arr.Command, error) { return f.command, nil }
func (f *fakeSonarr) Episode(context.Context, int) (*sonarr.Episode, error) {
	return f.episode, nil
}
func (f *fakeSonarr) EpisodeFile(context.Context, int) (*sonarr.EpisodeFile, error) {
	return f.file, nil
}
func (f *fakeSonarr) EpisodeSearch(context.Context, ...int) (*arr.Command, error) {
	return f.search, nil
}

func TestSonarrBackend(t *testing.T) {
	api := &fakeSonarr{
		episode: &sonarr.Episode{ID: 7, EpisodeFileID: 12},
		file: &sonarr.EpisodeFile{ID: 12, Size: 2048,
			Quality: arr.QualityModel{Quality: arr.Quality{Name: "Bluray-1080p"}}},
		command: &arr.Command{ID: 3, Status: "Completed"},
	}
	b := monitor.NewSonarrBackend(api)
	ctx := context.Background()

	state, err := b.CommandState(ctx, 3)
	if err != nil || state != "completed" {
		t.Errorf("CommandState = %q, %v", state, err)
	}

	art, err := b.Artifact(ctx, 7)
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if diff := cmp.Diff(monitor.Artifact{ID: 12, Size: 2048, Quality: "Bluray-1080p"}, art); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}

	api.episode = &sonarr.Episode{ID: 7}
	if art, _ := b.Artifact(ctx, 7); art.ID != 0 {
		t.Errorf("Artifact without file = %+v", art)
	}

	if _, err := b.RunSearch(ctx, 7); !errors.Is(err, monitor.ErrNoCommandID) {
		t.Errorf("RunSearch err = %v, want ErrNoCommandID", err)
	}
	api.search = &arr.Command{ID: 99}
	if id, err := b.RunSearch(ctx, 7); err != nil || id != 99 {
		t.Errorf("RunSearch = %d, %v", id, err)
	}
}
