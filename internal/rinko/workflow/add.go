package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/arr"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/radarr"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
)

const (
	actAddAdd    = "add_add"
	actAddSkip   = "add_skip"
	actAddPrev   = "add_prev"
	actAddNext   = "add_next"
	actAddKind   = "add_kind"
	actAddCancel = "add_cancel"
)

const (
	// maxAddCandidates caps each lookup.
	maxAddCandidates = 8
	maxOverview      = 700

	msgAddNoTitle   = "Please tell me what to add."
	msgAddNone      = "I couldn't find a matching show or movie."
	msgAddLookup    = "I couldn't search Sonarr or Radarr right now."
	msgAddCancelled = "❌ Add cancelled."
	msgAddSkipped   = "Already added."
	msgAddFailed    = "❌ Could not add. Check profiles/roots and API keys."
	msgAddExpired   = "Search expired, try again."
)

func (e *Engine) addMedia(ctx context.Context, r *request) error {
	title := strings.TrimSpace(firstNonBlank(r.ent.Title, r.ref))
	if title == "" {
		e.say(ctx, r.conv, msgAddNoTitle)
		return nil
	}
	kind := r.ent.Type
	switch r.intent {
	case nlp.IntentAddTV:
		kind = nlp.TypeTV
	case nlp.IntentAddMovie:
		kind = nlp.TypeMovie
	}
	return e.startAdd(ctx, r.conv, title, kind)
}

// startAdd looks title up in Sonarr and Radarr in parallel and opens the
// result browser. kind narrows the lookup to one service.
func (e *Engine) startAdd(ctx context.Context, conv, title, kind string) error {
	wantTV := kind != nlp.TypeMovie && configured(e.deps.Sonarr)
	wantMovie := kind != nlp.TypeTV && configured(e.deps.Radarr)
	if !wantTV && !wantMovie {
		name := "Sonarr and Radarr"
		switch kind {
		case nlp.TypeTV:
			name = "Sonarr"
		case nlp.TypeMovie:
			name = "Radarr"
		}
		e.say(ctx, conv, fmt.Sprintf(msgNotConfigured, name))
		return nil
	}

	log := trace.Logger(ctx, e.log).With("conv", conv, "title", title)
	var (
		shows           []sonarr.Series
		movies          []radarr.Movie
		tvErr, movieErr error
	)
	var g errgroup.Group
	if wantTV {
		g.Go(func() error {
			shows, tvErr = e.deps.Sonarr.LookupSeries(ctx, title)
			return nil
		})
	}
	if wantMovie {
		g.Go(func() error {
			movies, movieErr = e.deps.Radarr.LookupMovie(ctx, title)
			return nil
		})
	}
	_ = g.Wait()
	if tvErr != nil {
		log.Warn("workflow: sonarr lookup", "err", tvErr)
	}
	if movieErr != nil {
		log.Warn("workflow: radarr lookup", "err", movieErr)
	}

	shows = shows[:min(len(shows), maxAddCandidates)]
	movies = movies[:min(len(movies), maxAddCandidates)]

	switch {
	case len(shows) == 0 && len(movies) == 0:
		if err := errors.Join(tvErr, movieErr); err != nil {
			return fail(msgAddLookup, err)
		}
		e.say(ctx, conv, msgAddNone)
		return nil

	case len(shows) > 0 && len(movies) > 0 && kind != nlp.TypeTV && kind != nlp.TypeMovie:
		st := &pending.AddMediaChoose{Query: title, Shows: shows, Movies: movies}
		text := fmt.Sprintf("I found both TV and movie matches for “%s”. Which do you want to browse first?", title)
		return e.present(ctx, conv, st, chat.Message{Text: text, Buttons: [][]chat.Button{
			{chat.ActionButton(fmt.Sprintf("📺 TV (%s)", shows[0].Title), actAddKind, pending.KindTV)},
			{chat.ActionButton(fmt.Sprintf("🎬 Movie (%s)", movies[0].Title), actAddKind, pending.KindMovie)},
			{chat.ActionButton("✖️ Cancel", actAddCancel)},
		}})
	}

	st := &pending.AddMedia{Kind: pending.KindTV, Query: title, Shows: shows, Movies: movies}
	if len(shows) == 0 {
		st.Kind = pending.KindMovie
	}
	return e.present(ctx, conv, st, addCard(st))
}

// addCard renders the current result with its navigation buttons.
func addCard(st *pending.AddMedia) chat.Message {
	var (
		caption string
		exists  bool
		links   []chat.Button
	)
	if st.Kind == pending.KindMovie {
		m := st.Movies[st.Index]
		caption = cardCaption(m.Title, m.Year, "", m.Studio, m.Status, m.Overview)
		exists = m.ID != 0
		if m.ImdbID != "" {
			links = append(links, chat.LinkButton("IMDb", "https://www.imdb.com/title/"+m.ImdbID))
		}
		if m.TmdbID != 0 {
			links = append(links, chat.LinkButton("TMDB", "https://www.themoviedb.org/movie/"+strconv.Itoa(m.TmdbID)))
		}
	} else {
		s := st.Shows[st.Index]
		seasons := ""
		if n := regularSeasons(s); n > 0 {
			seasons = fmt.Sprintf("%d %s", n, format.Plural(n, "Season"))
		}
		caption = cardCaption(s.Title, s.Year, seasons, s.Network, s.Status, s.Overview)
		exists = s.ID != 0
		if s.TvdbID != 0 {
			links = append(links, chat.LinkButton("TVDB", "https://www.thetvdb.com/dereferrer/series/"+strconv.Itoa(s.TvdbID)))
		}
		if s.ImdbID != "" {
			links = append(links, chat.LinkButton("IMDb", "https://www.imdb.com/title/"+s.ImdbID))
		}
	}

	first := chat.ActionButton("➕ Add", actAddAdd)
	if exists {
		first = chat.ActionButton("✅ Already added", actAddSkip)
	}
	rows := [][]chat.Button{{first, chat.ActionButton("✖️ Cancel", actAddCancel)}}
	if st.Len() > 1 {
		rows = append(rows, []chat.Button{
			chat.ActionButton("◀️ Prev", actAddPrev),
			chat.ActionButton("Next ▶️", actAddNext),
		})
	}
	switch {
	case st.Kind == pending.KindTV && len(st.Movies) > 0:
		rows = append(rows, []chat.Button{chat.ActionButton("🎬 See movies", actAddKind, pending.KindMovie)})
	case st.Kind == pending.KindMovie && len(st.Shows) > 0:
		rows = append(rows, []chat.Button{chat.ActionButton("📺 See shows", actAddKind, pending.KindTV)})
	}
	if len(links) > 0 {
		rows = append(rows, links)
	}
	return chat.Message{Text: caption, Markdown: true, Buttons: rows}
}

func cardCaption(title string, year int, seasons, network, status, overview string) string {
	parts := []string{title}
	if year > 0 {
		parts = append(parts, fmt.Sprintf("(%d)", year))
	}
	for _, p := range []string{seasons, network, status} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	caption := "*" + strings.Join(parts, " — ") + "*"
	if overview = strings.TrimSpace(overview); overview != "" {
		caption += "\n\n" + format.Truncate(overview, maxOverview+1)
	}
	return caption
}

func regularSeasons(s sonarr.Series) int {
	n := 0
	for _, season := range s.Seasons {
		if season.SeasonNumber > 0 {
			n++
		}
	}
	return n
}

func (e *Engine) addStep(delta int) callbackFunc {
	return func(ctx context.Context, p *press) error {
		st, ok := p.state.(*pending.AddMedia)
		if !ok {
			return nil
		}
		n := st.Len()
		if n == 0 {
			e.finish(ctx, p.conv, st, chat.Text(msgAddExpired))
			return nil
		}
		st.Index = ((st.Index+delta)%n + n) % n
		return e.update(ctx, p.conv, st, addCard(st))
	}
}

func (e *Engine) addKind(ctx context.Context, p *press) error {
	kind := pending.Kind(p.cb.Param)
	if kind != pending.KindTV && kind != pending.KindMovie {
		p.answer = msgUnknownAction
		return nil
	}
	var st *pending.AddMedia
	switch cur := p.state.(type) {
	case *pending.AddMedia:
		st = cur
	case *pending.AddMediaChoose:
		st = &pending.AddMedia{Prompt: cur.Prompt, Query: cur.Query, Shows: cur.Shows, Movies: cur.Movies}
	default:
		return nil
	}
	prevKind := st.Kind
	st.Kind = kind
	if st.Len() == 0 {
		st.Kind = prevKind
		label := "movie"
		if kind == pending.KindTV {
			label = "TV"
		}
		p.answer = fmt.Sprintf("No %s results to show.", label)
		return nil
	}
	st.Index = 0
	return e.update(ctx, p.conv, st, addCard(st))
}

func (e *Engine) addCancel(ctx context.Context, p *press) error {
	e.finish(ctx, p.conv, p.state, chat.Text(msgAddCancelled))
	return nil
}

func (e *Engine) addSkip(ctx context.Context, p *press) error {
	e.finish(ctx, p.conv, p.state, chat.Text(msgAddSkipped))
	return nil
}

func (e *Engine) addAdd(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.AddMedia)
	if !ok {
		return nil
	}
	if st.Index < 0 || st.Index >= st.Len() {
		e.finish(ctx, p.conv, st, chat.Text(msgAddExpired))
		return nil
	}

	var (
		title string
		err   error
	)
	if st.Kind == pending.KindMovie {
		m := st.Movies[st.Index]
		title = m.Title
		err = e.addMovie(ctx, m)
	} else {
		s := st.Shows[st.Index]
		title = s.Title
		err = e.addSeries(ctx, s)
	}
	e.audit(ctx, AuditEvent{Conversation: p.conv, Action: "add_" + string(st.Kind), Target: title, Result: resultOf(err), Err: err})
	if err != nil {
		return fail(msgAddFailed, err)
	}
	e.finish(ctx, p.conv, st, chat.Text(fmt.Sprintf("✅ Added %s.", title)))
	return nil
}

func (e *Engine) addSeries(ctx context.Context, s sonarr.Series) error {
	if !configured(e.deps.Sonarr) {
		return fmt.Errorf("workflow: add series: %w", arr.ErrNotConfigured)
	}
	d, err := e.defaults(ctx, e.deps.Sonarr.RootFolders, e.deps.Sonarr.QualityProfiles, e.deps.Settings.SonarrRoot, e.deps.Settings.SonarrProfile)
	if err != nil {
		return err
	}
	_, err = e.deps.Sonarr.AddSeries(ctx, s, d)
	return err
}

func (e *Engine) addMovie(ctx context.Context, m radarr.Movie) error {
	if !configured(e.deps.Radarr) {
		return fmt.Errorf("workflow: add movie: %w", arr.ErrNotConfigured)
	}
	d, err := e.radarrDefaults(ctx)
	if err != nil {
		return err
	}
	_, err = e.deps.Radarr.AddMovie(ctx, m, d)
	return err
}

func (e *Engine) radarrDefaults(ctx context.Context) (arr.Defaults, error) {
	return e.defaults(ctx, e.deps.Radarr.RootFolders, e.deps.Radarr.QualityProfiles, e.deps.Settings.RadarrRoot, e.deps.Settings.RadarrProfile)
}

// defaults fetches root folders and profiles in parallel and picks the
// configured ones.
func (e *Engine) defaults(
	ctx context.Context,
	roots func(context.Context) ([]arr.RootFolder, error),
	profiles func(context.Context) ([]arr.QualityProfile, error),
	wantRoot, wantProfile string,
) (arr.Defaults, error) {
	var (
		rs []arr.RootFolder
		ps []arr.QualityProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rs, err = roots(gctx)
		return err
	})
	g.Go(func() (err error) {
		ps, err = profiles(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return arr.Defaults{}, fmt.Errorf("workflow: defaults: %w", err)
	}
	return arr.PickDefaults(rs, ps, wantRoot, wantProfile)
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
