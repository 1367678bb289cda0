package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bdobrica/Rinko/internal/rinko/arr"
	"github.com/bdobrica/Rinko/internal/rinko/cache"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/monitor"
	"github.com/bdobrica/Rinko/internal/rinko/nas"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/qbittorrent"
	"github.com/bdobrica/Rinko/internal/rinko/radarr"
	"github.com/bdobrica/Rinko/internal/rinko/resolver"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
	"github.com/bdobrica/Rinko/internal/rinko/tmdb"
	"github.com/bdobrica/Rinko/internal/rinko/workflow"
)

const conv = "chat-1"

// fakeTransport numbers messages from 1 and remembers the latest content of
// each.
type fakeTransport struct {
	mu      sync.Mutex
	next    int
	msgs    map[chat.MessageID]chat.Message
	sent    []chat.MessageID
	deleted []chat.MessageID
	answers []string
}

func newTransport() *fakeTransport {
	return &fakeTransport{msgs: make(map[chat.MessageID]chat.Message)}
}

func (f *fakeTransport) Send(_ context.Context, _ string, msg chat.Message) (chat.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := chat.MessageID(strconv.Itoa(f.next))
	f.msgs[id] = msg
	f.sent = append(f.sent, id)
	return id, nil
}

func (f *fakeTransport) Edit(_ context.Context, _ string, id chat.MessageID, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[id]; !ok {
		return chat.ErrMessageGone
	}
	f.msgs[id] = msg
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _ string, id chat.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[id]; !ok {
		return chat.ErrMessageGone
	}
	delete(f.msgs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTransport) message(id chat.MessageID) (chat.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	return m, ok
}

// last returns the most recently sent message that still exists.
func (f *fakeTransport) last() chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if m, ok := f.msgs[f.sent[i]]; ok {
			return m
		}
	}
	return chat.Message{}
}

func (f *fakeTransport) lastAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1]
}

func (f *fakeTransport) wasDeleted(id chat.MessageID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deleted {
		if d == id {
			return true
		}
	}
	return false
}

// buttonData lists every callback payload of msg.
func buttonData(msg chat.Message) []string {
	var out []string
	for _, row := range msg.Buttons {
		for _, b := range row {
			if b.Data != "" {
				out = append(out, b.Data)
			}
		}
	}
	return out
}

type fakeLibrary struct {
	entries []cache.Entry
}

func (f *fakeLibrary) Entries() []cache.Entry { return f.entries }

func (f *fakeLibrary) Find(query string) []cache.Entry {
	var out []cache.Entry
	for _, e := range f.entries {
		if strings.Contains(strings.ToLower(e.Title), strings.ToLower(query)) {
			out = append(out, e)
		}
	}
	return out
}

type fakeSonarr struct {
	mu         sync.Mutex
	series     map[int]sonarr.Series
	docs       map[int]map[string]any
	lookup     []sonarr.Series
	episodes   map[int][]sonarr.Episode
	failDelete map[int]bool
	deleted    []int
	searched   []int
	searchCmd  *arr.Command
	added      []sonarr.Series
	profiles   []arr.QualityProfile
	roots      []arr.RootFolder
}

func (f *fakeSonarr) Configured() bool { return true }

func (f *fakeSonarr) ListSeries(context.Context) ([]sonarr.Series, error) {
	var out []sonarr.Series
	for _, s := range f.series {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSonarr) GetSeries(_ context.Context, id int) (*sonarr.Series, error) {
	s, ok := f.series[id]
	if !ok {
		return nil, &arr.StatusError{Service: "sonarr", Status: 404}
	}
	return &s, nil
}

func (f *fakeSonarr) LookupSeries(context.Context, string) ([]sonarr.Series, error) {
	return f.lookup, nil
}

func (f *fakeSonarr) UpdateSeries(_ context.Context, id int, mutate func(map[string]any)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return errors.New("no such series")
	}
	mutate(doc)
	return nil
}

func (f *fakeSonarr) AddSeries(_ context.Context, s sonarr.Series, _ arr.Defaults) (*sonarr.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, s)
	return &s, nil
}

func (f *fakeSonarr) Episodes(_ context.Context, id int) ([]sonarr.Episode, error) {
	return f.episodes[id], nil
}

func (f *fakeSonarr) DeleteEpisodeFile(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[id] {
		return errors.New("disk busy")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSonarr) EpisodeSearch(_ context.Context, ids ...int) (*arr.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, ids...)
	return f.searchCmd, nil
}

func (f *fakeSonarr) SeriesSearch(_ context.Context, ids ...int) (*arr.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, ids...)
	return &arr.Command{ID: 1}, nil
}

func (f *fakeSonarr) RootFolders(context.Context) ([]arr.RootFolder, error) { return f.roots, nil }

func (f *fakeSonarr) QualityProfiles(context.Context) ([]arr.QualityProfile, error) {
	return f.profiles, nil
}

type fakeRadarr struct {
	mu         sync.Mutex
	movies     []radarr.Movie
	lookup     []radarr.Movie
	profiles   []arr.QualityProfile
	roots      []arr.RootFolder
	added      []radarr.Movie
	profileSet []int
	profileID  int
	searched   []int
}

func (f *fakeRadarr) Configured() bool { return true }

func (f *fakeRadarr) ListMovies(context.Context) ([]radarr.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]radarr.Movie(nil), f.movies...), nil
}

func (f *fakeRadarr) LookupMovie(context.Context, string) ([]radarr.Movie, error) {
	return f.lookup, nil
}

func (f *fakeRadarr) AddMovie(_ context.Context, m radarr.Movie, _ arr.Defaults) (*radarr.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, m)
	return &m, nil
}

func (f *fakeRadarr) SetQualityProfile(_ context.Context, ids []int, profileID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileSet = append(f.profileSet, ids...)
	f.profileID = profileID
	return nil
}

func (f *fakeRadarr) MoviesSearch(_ context.Context, ids ...int) (*arr.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, ids...)
	return &arr.Command{ID: 1}, nil
}

func (f *fakeRadarr) RootFolders(context.Context) ([]arr.RootFolder, error) { return f.roots, nil }

func (f *fakeRadarr) QualityProfiles(context.Context) ([]arr.QualityProfile, error) {
	return f.profiles, nil
}

type fakePlex struct {
	items   []plex.Item
	shows   []plex.Show
	seasons map[string][]plex.Season
}

func (f *fakePlex) Configured() bool { return true }

func (f *fakePlex) Shows(context.Context) ([]plex.Show, error) { return f.shows, nil }

func (f *fakePlex) Seasons(_ context.Context, ratingKey string) ([]plex.Season, error) {
	return f.seasons[ratingKey], nil
}

func (f *fakePlex) ContinueWatching(context.Context) ([]plex.Item, error) { return f.items, nil }

// fakeDelegate answers every ambiguous reference with pick, which may be nil
// for "none".
type fakeDelegate struct {
	mu      sync.Mutex
	pick    *resolver.Candidate
	phrases []string
	pools   [][]resolver.Candidate
}

func (f *fakeDelegate) ResolveAmbiguous(_ context.Context, phrase string, pool []resolver.Candidate) (*resolver.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phrases = append(f.phrases, phrase)
	f.pools = append(f.pools, pool)
	return f.pick, nil
}

type fakeTorrents struct {
	mu        sync.Mutex
	torrents  []qbittorrent.Torrent
	category  string
	deleted   []string
	withFiles bool
}

func (f *fakeTorrents) Configured() bool { return true }

func (f *fakeTorrents) FindUnregistered(_ context.Context, category string) ([]qbittorrent.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.category = category
	return f.torrents, nil
}

func (f *fakeTorrents) Delete(_ context.Context, hashes []string, deleteFiles bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, hashes...)
	f.withFiles = deleteFiles
	return len(hashes), nil
}

type fakeCollections struct {
	results []tmdb.Collection
	details map[int]*tmdb.CollectionDetails
}

func (f *fakeCollections) Configured() bool { return true }

func (f *fakeCollections) SearchCollections(context.Context, string) ([]tmdb.Collection, error) {
	return f.results, nil
}

func (f *fakeCollections) Collection(_ context.Context, id int) (*tmdb.CollectionDetails, error) {
	return f.details[id], nil
}

type fakeNAS struct {
	mu        sync.Mutex
	bins      []nas.Bin
	summaries map[string]nas.Summary
	usage     []nas.Usage
	emptied   []string
}

func (f *fakeNAS) DiscoverBins(context.Context, []string) ([]nas.Bin, error) { return f.bins, nil }

func (f *fakeNAS) Summarize(_ context.Context, path string, _ int) (nas.Summary, error) {
	return f.summaries[path], nil
}

func (f *fakeNAS) Empty(_ context.Context, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptied = append(f.emptied, path)
	return f.summaries[path].Entries, nil
}

func (f *fakeNAS) Storage(context.Context, []string) ([]nas.Usage, error) { return f.usage, nil }

type fakeMonitors struct {
	mu       sync.Mutex
	requests []monitor.Request
}

func (f *fakeMonitors) Start(_ context.Context, req monitor.Request) *monitor.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &monitor.Handle{ID: "mon-1"}
}

type fakeRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]string
	callbacks []string
}

func (f *fakeRecorder) WorkflowFinished(intent, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[string]string)
	}
	f.outcomes[intent] = outcome
}

func (f *fakeRecorder) CallbackHandled(action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, action)
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []workflow.AuditEvent
}

func (f *fakeAuditor) Audit(_ context.Context, ev workflow.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// harness drives an Engine synchronously.
type harness struct {
	t      *testing.T
	engine *workflow.Engine
	tr     *fakeTransport
	store  *pending.Memory
}

func newHarness(t *testing.T, deps workflow.Deps) *harness {
	t.Helper()
	h := &harness{t: t, tr: newTransport(), store: pending.NewMemory(0)}
	deps.Transport = h.tr
	deps.Store = h.store
	if deps.Library == nil {
		deps.Library = &fakeLibrary{}
	}
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = workflow.New(deps)
	return h
}

func (h *harness) intent(intent nlp.Intent, ent nlp.Entities, ref string) {
	h.t.Helper()
	h.engine.RouteIntent(context.Background(), conv, &nlp.Classification{Intent: intent, Entities: ent, Reference: ref}, "")
	h.engine.Wait()
}

func (h *harness) press(data string, msg chat.MessageID) {
	h.t.Helper()
	h.engine.HandleCallback(context.Background(), chat.Inbound{
		Conversation: conv,
		CallbackID:   "cb",
		CallbackData: data,
		MessageID:    msg,
	})
	h.engine.Wait()
}

func (h *harness) mode() pending.Mode {
	st, ok := h.store.Get(conv)
	if !ok {
		return ""
	}
	return st.Mode()
}

func gib(n float64) int64 { return int64(n * (1 << 30)) }
