// Package workflow runs the chat workflows behind each classified intent.
//
// Every workflow has the same shape: look something up, park a pending.State
// next to a confirmation prompt, and finish when the user presses one of its
// buttons. The Engine serialises work per conversation and never returns
// errors to its caller; failures are logged and end up in the chat.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bdobrica/Rinko/common/trace"
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
)

// Sonarr is the part of the Sonarr client the workflows use.
type Sonarr interface {
	Configured() bool
	ListSeries(ctx context.Context) ([]sonarr.Series, error)
	GetSeries(ctx context.Context, id int) (*sonarr.Series, error)
	LookupSeries(ctx context.Context, term string) ([]sonarr.Series, error)
	UpdateSeries(ctx context.Context, id int, mutate func(doc map[string]any)) error
	AddSeries(ctx context.Context, s sonarr.Series, d arr.Defaults) (*sonarr.Series, error)
	Episodes(ctx context.Context, seriesID int) ([]sonarr.Episode, error)
	DeleteEpisodeFile(ctx context.Context, id int) error
	EpisodeSearch(ctx context.Context, episodeIDs ...int) (*arr.Command, error)
	SeriesSearch(ctx context.Context, seriesIDs ...int) (*arr.Command, error)
	RootFolders(ctx context.Context) ([]arr.RootFolder, error)
	QualityProfiles(ctx context.Context) ([]arr.QualityProfile, error)
}

// Radarr is the part of the Radarr client the workflows use.
type Radarr interface {
	Configured() bool
	ListMovies(ctx context.Context) ([]radarr.Movie, error)
	LookupMovie(ctx context.Context, term string) ([]radarr.Movie, error)
	AddMovie(ctx context.Context, m radarr.Movie, d arr.Defaults) (*radarr.Movie, error)
	SetQualityProfile(ctx context.Context, movieIDs []int, profileID int) error
	MoviesSearch(ctx context.Context, movieIDs ...int) (*arr.Command, error)
	RootFolders(ctx context.Context) ([]arr.RootFolder, error)
	QualityProfiles(ctx context.Context) ([]arr.QualityProfile, error)
}

// Plex reads watch state.
type Plex interface {
	Configured() bool
	Shows(ctx context.Context) ([]plex.Show, error)
	Seasons(ctx context.Context, ratingKey string) ([]plex.Season, error)
	ContinueWatching(ctx context.Context) ([]plex.Item, error)
}

// Torrents finds and deletes dead torrents.
type Torrents interface {
	Configured() bool
	FindUnregistered(ctx context.Context, category string) ([]qbittorrent.Torrent, error)
	Delete(ctx context.Context, hashes []string, deleteFiles bool) (int, error)
}

// Collections searches movie collections.
type Collections interface {
	Configured() bool
	SearchCollections(ctx context.Context, query string) ([]tmdb.Collection, error)
	Collection(ctx context.Context, id int) (*tmdb.CollectionDetails, error)
}

// Library is the series cache.
type Library interface {
	Entries() []cache.Entry
	Find(query string) []cache.Entry
}

// Monitors starts redownload monitors.
type Monitors interface {
	Start(ctx context.Context, req monitor.Request) *monitor.Handle
}

// Overrides are runtime settings changed through /config.
type Overrides interface {
	Lookup(ctx context.Context, key string) (string, bool)
}

// Override keys consulted by the workflows.
const (
	KeyOptimizeMinSizeGB   = "optimize.min-size-gb"
	KeyOptimizeTVMinSizeGB = "optimize.tv-min-size-gb"
	KeyOptimizeMovieTarget = "optimize.movie-profile"
	KeyOptimizeTVTarget    = "optimize.tv-profile"
)

// Workflow outcomes reported to the Recorder.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeUnknown = "unknown"
	OutcomePanic   = "panic"
)

// Recorder counts finished workflows and handled callbacks.
type Recorder interface {
	WorkflowFinished(intent, outcome string)
	CallbackHandled(action string)
}

// AuditEvent describes one executed, state-changing action.
type AuditEvent struct {
	Conversation string
	Action       string
	Target       string
	Result       string
	Err          error
}

// Auditor persists executed actions.
type Auditor interface {
	Audit(ctx context.Context, ev AuditEvent)
}

// Settings are the static defaults from the environment.
type Settings struct {
	SonarrRoot    string
	SonarrProfile string
	RadarrRoot    string
	RadarrProfile string

	ShareRoots    []string
	TVCategory    string
	MovieCategory string

	OptimizeMinSizeGB    float64
	OptimizeTVMinSizeGB  float64
	OptimizeMovieProfile string
	OptimizeTVProfile    string
}

// Deps wires an Engine. Transport and Store are required; any service may
// be nil, in which case the workflows that need it say so in the chat.
type Deps struct {
	Transport   chat.Transport
	Store       pending.Store
	Library     Library
	Sonarr      Sonarr
	Radarr      Radarr
	Plex        Plex
	Torrents    Torrents
	Collections Collections
	NAS         nas.Backend
	Resolver    resolver.Delegate
	Monitors    Monitors
	Overrides   Overrides
	Recorder    Recorder
	Auditor     Auditor
	Catalogue   nlp.Catalogue
	Settings    Settings
	Logger      *slog.Logger
}

// Chat texts shared by several workflows.
const (
	msgUnknownIntent = "Sorry, I didn't understand that."
	msgGenericError  = "❌ Something went wrong. Please try again."
	msgNoActive      = "No active request."
	msgUnknownAction = "Unknown action."
	msgExpired       = "This request has expired."
	msgCancelled     = "❌ Cancelled."
	msgSelectShow    = "Select the correct show:"
	msgInvalidSeries = "Invalid series."
	msgNotConfigured = "%s is not configured."
	labelYes         = "✅ Yes"
	labelNo          = "❌ No"
	labelCancel      = "❌ Cancel"
	maxSelectionRows = 10
	defaultMinSizeGB = 40
	bytesPerGibibyte = 1 << 30
)

// userError carries the text shown in the chat alongside the cause.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *userError) Unwrap() error { return e.err }

// fail wraps err with the chat text the user should see.
func fail(msg string, err error) error { return &userError{msg: msg, err: err} }

// userText is the chat text for err, or fallback for unexpected errors.
func userText(err error, fallback string) string {
	var ue *userError
	if errors.As(err, &ue) {
		return ue.msg
	}
	return fallback
}

// request is one routed intent.
type request struct {
	conv   string
	intent nlp.Intent
	ent    nlp.Entities
	ref    string
	status chat.MessageID
}

// reference is the free-text phrase, or the title when the classifier gave
// none.
func (r *request) reference() string {
	return strings.TrimSpace(firstNonBlank(r.ref, r.ent.Title))
}

// press is one button press on a live prompt.
type press struct {
	conv  string
	cb    chat.Callback
	msg   chat.MessageID
	state pending.State
	// answer is shown as a toast on transports that support it.
	answer string
}

// intParam parses the callback parameter as an integer.
func (p *press) intParam() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(p.cb.Param))
	return n, err == nil
}

type intentFunc func(ctx context.Context, r *request) error

type callbackFunc func(ctx context.Context, p *press) error

type route struct {
	modes []pending.Mode
	fn    callbackFunc
	// stateless routes run without a pending state.
	stateless bool
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

// Engine dispatches intents and button presses to workflows.
type Engine struct {
	deps      Deps
	log       *slog.Logger
	intents   map[nlp.Intent]intentFunc
	callbacks map[string]route

	mu    sync.Mutex
	locks map[string]*convLock
	wg    sync.WaitGroup
}

// New returns an Engine.
func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Catalogue == nil {
		deps.Catalogue = nlp.DefaultCatalogue()
	}
	e := &Engine{
		deps:  deps,
		log:   deps.Logger,
		locks: make(map[string]*convLock),
	}
	e.intents = e.intentTable()
	e.callbacks = e.callbackTable()
	return e
}

func (e *Engine) intentTable() map[nlp.Intent]intentFunc {
	return map[nlp.Intent]intentFunc{
		nlp.IntentRedownloadTV:         e.redownload,
		nlp.IntentTidyTV:               e.tidy,
		nlp.IntentListFullyWatchedTV:   e.fullyWatched,
		nlp.IntentAddTV:                e.addMedia,
		nlp.IntentAddMovie:             e.addMedia,
		nlp.IntentAddMedia:             e.addMedia,
		nlp.IntentDownloadMovieSeries:  e.movieSeries,
		nlp.IntentNASEmptyRecycleBin:   e.nasEmpty,
		nlp.IntentNASCheckFreeSpace:    e.nasFreeSpace,
		nlp.IntentQBUnregistered:       e.qbUnregistered,
		nlp.IntentQBUnregisteredTV:     e.qbUnregistered,
		nlp.IntentQBUnregisteredMovies: e.qbUnregistered,
		nlp.IntentShowLargestTV:        e.showTop,
		nlp.IntentShowLargestMovies:    e.showTop,
		nlp.IntentShowTopRatedTV:       e.showTop,
		nlp.IntentShowTopRatedMovies:   e.showTop,
		nlp.IntentOptimizeMovies:       e.optimizeMovies,
		nlp.IntentOptimizeTV:           e.optimizeTV,
		nlp.IntentHaveMedia:            e.haveMedia,
		nlp.IntentListTVProfiles:       e.listProfiles,
		nlp.IntentListMovieProfiles:    e.listProfiles,
		nlp.IntentHelp:                 e.help,
	}
}

func (e *Engine) callbackTable() map[string]route {
	redl := []pending.Mode{pending.ModeRedownload, pending.ModeRedownloadResolved}
	tidy := []pending.Mode{pending.ModeTidy}
	add := []pending.Mode{pending.ModeAddMedia}
	addAny := []pending.Mode{pending.ModeAddMedia, pending.ModeAddMediaChoose}
	optm := []pending.Mode{pending.ModeOptimizeMovies, pending.ModeOptimizeTV}
	nasModes := []pending.Mode{pending.ModeNASEmpty}
	qb := []pending.Mode{pending.ModeQBUnregistered}
	msAny := []pending.Mode{pending.ModeMovieSeriesPick, pending.ModeMovieSeriesConfirm}

	return map[string]route{
		actRedownloadYes:    {modes: redl, fn: e.redownloadYes},
		actRedownloadNo:     {modes: redl, fn: e.cancel},
		actRedownloadPick:   {modes: redl, fn: e.redownloadPick},
		actRedownloadSelect: {modes: redl, fn: e.redownloadSelect},

		actTidyYes:    {modes: tidy, fn: e.tidyYes},
		actTidyNo:     {modes: tidy, fn: e.cancel},
		actTidyPick:   {modes: tidy, fn: e.tidyPick},
		actTidySelect: {modes: tidy, fn: e.tidySelect},

		actAddAdd:    {modes: add, fn: e.addAdd},
		actAddSkip:   {modes: add, fn: e.addSkip},
		actAddPrev:   {modes: add, fn: e.addStep(-1)},
		actAddNext:   {modes: add, fn: e.addStep(1)},
		actAddKind:   {modes: addAny, fn: e.addKind},
		actAddCancel: {modes: addAny, fn: e.addCancel},
		actHaveAdd:   {stateless: true, fn: e.haveAdd},

		actOptimizeAll:        {modes: optm, fn: e.optimizeAll},
		actOptimizePick:       {modes: optm, fn: e.optimizePick},
		actOptimizeSelect:     {modes: optm, fn: e.optimizeSelect},
		actOptimizeConfirm:    {modes: optm, fn: e.optimizeConfirm},
		actOptimizePickCancel: {modes: optm, fn: e.optimizePickCancel},
		actOptimizeCancel:     {modes: optm, fn: e.optimizeCancel},

		actNASAll:    {modes: nasModes, fn: e.nasAll},
		actNASBin:    {modes: nasModes, fn: e.nasBin},
		actNASCancel: {modes: nasModes, fn: e.cancel},

		actQBYes: {modes: qb, fn: e.qbYes},
		actQBNo:  {modes: qb, fn: e.cancel},

		actMovieSeriesPick:    {modes: []pending.Mode{pending.ModeMovieSeriesPick}, fn: e.movieSeriesPick},
		actMovieSeriesConfirm: {modes: []pending.Mode{pending.ModeMovieSeriesConfirm}, fn: e.movieSeriesConfirm},
		actMovieSeriesCancel:  {modes: msAny, fn: e.cancel},
	}
}

// RouteIntent runs the workflow for c in the background. status is the
// "working on it" message the caller sent, if any; it is deleted once the
// workflow has replied.
func (e *Engine) RouteIntent(ctx context.Context, conv string, c *nlp.Classification, status chat.MessageID) {
	if c == nil {
		c = &nlp.Classification{Intent: nlp.IntentUnknown}
	}
	r := &request{conv: conv, intent: c.Intent, ent: c.Entities, ref: c.Reference, status: status}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		unlock := e.lock(conv)
		defer unlock()
		e.route(ctx, r)
	}()
}

// HandleCallback runs the handler for a button press in the background.
func (e *Engine) HandleCallback(ctx context.Context, in chat.Inbound) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		unlock := e.lock(in.Conversation)
		defer unlock()
		e.callback(ctx, in)
	}()
}

// Wait blocks until every routed intent and callback has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// Cancel drops the conversation's pending state, replacing its prompt with
// a cancellation notice. It waits for any running work in conv and reports
// whether there was something to cancel.
func (e *Engine) Cancel(ctx context.Context, conv string) bool {
	unlock := e.lock(conv)
	defer unlock()
	st, ok := e.deps.Store.Get(conv)
	if !ok {
		return false
	}
	e.finish(ctx, conv, st, chat.Text(msgCancelled))
	return true
}

// lock serialises work for one conversation. Entries are dropped once no
// goroutine holds or waits for them.
func (e *Engine) lock(conv string) func() {
	e.mu.Lock()
	l, ok := e.locks[conv]
	if !ok {
		l = &convLock{}
		e.locks[conv] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, conv)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) route(ctx context.Context, r *request) {
	log := trace.Logger(ctx, e.log).With("conv", r.conv, "intent", r.intent)
	outcome := OutcomeOK
	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomePanic
			log.Error("workflow: panic", "panic", rec, "stack", string(debug.Stack()))
			e.say(ctx, r.conv, msgGenericError)
		}
		e.clearStatus(ctx, r)
		e.record(string(r.intent), outcome)
	}()

	fn, ok := e.intents[r.intent]
	if !ok {
		outcome = OutcomeUnknown
		e.say(ctx, r.conv, msgUnknownIntent)
		return
	}
	log.Debug("workflow: start", "title", r.ent.Title, "reference", r.ref)
	if err := fn(ctx, r); err != nil {
		outcome = OutcomeFailed
		log.Error("workflow: failed", "err", err)
		e.say(ctx, r.conv, userText(err, msgGenericError))
	}
}

func (e *Engine) callback(ctx context.Context, in chat.Inbound) {
	log := trace.Logger(ctx, e.log).With("conv", in.Conversation, "data", in.CallbackData)
	answer := ""
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("workflow: callback panic", "panic", rec, "stack", string(debug.Stack()))
			e.deps.Store.Delete(in.Conversation)
			e.say(ctx, in.Conversation, msgGenericError)
		}
		e.answer(ctx, in.CallbackID, answer)
	}()

	cb, err := chat.ParseCallback(in.CallbackData)
	if err != nil {
		answer = msgUnknownAction
		return
	}
	rt, known := e.callbacks[cb.Action]
	st, live := e.deps.Store.Get(in.Conversation)
	switch {
	case !known:
		answer = msgUnknownAction
		return
	case rt.stateless:
		st = nil
	case !live:
		answer = msgNoActive
		return
	case !slices.Contains(rt.modes, st.Mode()) || !e.ownsMessage(st, in.MessageID):
		answer = msgExpired
		return
	}

	e.recordCallback(cb.Action)
	p := &press{conv: in.Conversation, cb: cb, msg: in.MessageID, state: st}
	if err := rt.fn(ctx, p); err != nil {
		log.Error("workflow: callback failed", "action", cb.Action, "err", err)
		text := userText(err, msgGenericError)
		if st != nil {
			e.finish(ctx, in.Conversation, st, chat.Text(text))
		} else {
			e.say(ctx, in.Conversation, text)
		}
	}
	answer = p.answer
}

// ownsMessage reports whether id is one of st's prompts. An empty id is
// accepted for transports that cannot tell which message was pressed.
func (e *Engine) ownsMessage(st pending.State, id chat.MessageID) bool {
	return id == "" || slices.Contains(st.Messages(), id)
}

// present sends a prompt for st and installs st as the conversation's
// pending state. Prompts of the state it replaces are deleted.
func (e *Engine) present(ctx context.Context, conv string, st pending.State, msg chat.Message) error {
	id, err := e.deps.Transport.Send(ctx, conv, msg)
	if err != nil {
		return fmt.Errorf("workflow: send prompt: %w", err)
	}
	st.SetMessageID(id)
	e.install(ctx, conv, st)
	return nil
}

// update edits st's prompt in place and stores st, which may be a new
// variant taking over the same message.
func (e *Engine) update(ctx context.Context, conv string, st pending.State, msg chat.Message) error {
	if err := e.edit(ctx, conv, st.PromptID(), msg); err != nil {
		return err
	}
	e.install(ctx, conv, st)
	return nil
}

func (e *Engine) install(ctx context.Context, conv string, st pending.State) {
	prev := e.deps.Store.Set(conv, st)
	if prev == nil || prev == st {
		return
	}
	keep := st.Messages()
	for _, id := range prev.Messages() {
		if !slices.Contains(keep, id) {
			e.delete(ctx, conv, id)
		}
	}
}

// finish replaces st's prompt with a final message without buttons, drops
// any secondary prompts, and clears the pending state.
func (e *Engine) finish(ctx context.Context, conv string, st pending.State, msg chat.Message) {
	msg.Buttons = nil
	main := st.PromptID()
	if err := e.edit(ctx, conv, main, msg); err != nil {
		if _, serr := e.deps.Transport.Send(ctx, conv, msg); serr != nil {
			e.log.Warn("workflow: could not report result", "conv", conv, "err", serr)
		}
	}
	for _, id := range st.Messages() {
		if id != main {
			e.delete(ctx, conv, id)
		}
	}
	if cur, ok := e.deps.Store.Get(conv); ok && cur == st {
		e.deps.Store.Delete(conv)
	}
}

// cancel is the shared "No" handler.
func (e *Engine) cancel(ctx context.Context, p *press) error {
	e.finish(ctx, p.conv, p.state, chat.Text(msgCancelled))
	return nil
}

func (e *Engine) edit(ctx context.Context, conv string, id chat.MessageID, msg chat.Message) error {
	if id == "" {
		return fmt.Errorf("workflow: edit: %w", chat.ErrMessageGone)
	}
	if err := e.deps.Transport.Edit(ctx, conv, id, msg); err != nil {
		return fmt.Errorf("workflow: edit: %w", err)
	}
	return nil
}

func (e *Engine) delete(ctx context.Context, conv string, id chat.MessageID) {
	if id == "" {
		return
	}
	if err := e.deps.Transport.Delete(ctx, conv, id); err != nil && !errors.Is(err, chat.ErrMessageGone) {
		e.log.Debug("workflow: delete message", "conv", conv, "id", id, "err", err)
	}
}

// say sends a plain message, logging failures.
func (e *Engine) say(ctx context.Context, conv, text string) {
	e.send(ctx, conv, chat.Text(text))
}

func (e *Engine) send(ctx context.Context, conv string, msg chat.Message) {
	if _, err := e.deps.Transport.Send(ctx, conv, msg); err != nil {
		e.log.Warn("workflow: send", "conv", conv, "err", err)
	}
}

// progress updates the status message, if there is one.
func (e *Engine) progress(ctx context.Context, r *request, text string) {
	if r.status == "" {
		return
	}
	if err := e.deps.Transport.Edit(ctx, r.conv, r.status, chat.Text(text)); err != nil {
		r.status = ""
	}
}

func (e *Engine) clearStatus(ctx context.Context, r *request) {
	e.delete(ctx, r.conv, r.status)
	r.status = ""
}

func (e *Engine) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	a, ok := e.deps.Transport.(chat.CallbackAnswerer)
	if !ok {
		return
	}
	if err := a.AnswerCallback(ctx, callbackID, text); err != nil {
		e.log.Debug("workflow: answer callback", "err", err)
	}
}

func (e *Engine) record(intent, outcome string) {
	if e.deps.Recorder != nil {
		e.deps.Recorder.WorkflowFinished(intent, outcome)
	}
}

func (e *Engine) recordCallback(action string) {
	if e.deps.Recorder != nil {
		e.deps.Recorder.CallbackHandled(action)
	}
}

func (e *Engine) audit(ctx context.Context, ev AuditEvent) {
	if e.deps.Auditor != nil {
		e.deps.Auditor.Audit(ctx, ev)
	}
}

// setting returns the runtime override for key, else fallback.
func (e *Engine) setting(ctx context.Context, key, fallback string) string {
	if e.deps.Overrides == nil {
		return fallback
	}
	if v, ok := e.deps.Overrides.Lookup(ctx, key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

// settingFloat is setting for numeric values; unparsable overrides are
// ignored.
func (e *Engine) settingFloat(ctx context.Context, key string, fallback float64) float64 {
	v := e.setting(ctx, key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		e.log.Warn("workflow: ignoring invalid override", "key", key, "value", v)
		return fallback
	}
	return f
}

// configured reports whether a service is wired and has credentials.
func configured(s interface{ Configured() bool }) bool {
	return s != nil && s.Configured()
}

// requireService tells the user when a service is missing and reports
// whether the workflow may continue.
func (e *Engine) requireService(ctx context.Context, conv, name string, s interface{ Configured() bool }) bool {
	if configured(s) {
		return true
	}
	e.say(ctx, conv, fmt.Sprintf(msgNotConfigured, name))
	return false
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (e *Engine) help(ctx context.Context, r *request) error {
	e.say(ctx, r.conv, e.deps.Catalogue.HelpText())
	return nil
}
