package workflow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/radarr"
	"github.com/bdobrica/Rinko/internal/rinko/resolver"
	"github.com/bdobrica/Rinko/internal/rinko/tmdb"
)

const (
	actMovieSeriesPick    = "ms_pick"
	actMovieSeriesConfirm = "ms_confirm"
	actMovieSeriesCancel  = "ms_cancel"
)

const (
	msgSeriesNotConfigured = "TMDB_API_KEY is not configured, so I can't search movie collections yet."
	msgSeriesNoName        = "Tell me the movie series name."
	msgSeriesSearchError   = "Error searching TMDb collections."
	msgSeriesLoadError     = "I couldn't load that collection."
	msgSeriesAddError      = "❌ Could not add that movie series."
	msgSeriesMultiple      = "I found multiple collections. Which one do you want?"

	maxCollectionChoices = 5
	maxCollectionLines   = 10
)

func (e *Engine) movieSeries(ctx context.Context, r *request) error {
	if !configured(e.deps.Collections) {
		e.say(ctx, r.conv, msgSeriesNotConfigured)
		return nil
	}
	ref := strings.TrimSpace(firstNonBlank(r.ref, r.ent.Title))
	if ref == "" {
		e.say(ctx, r.conv, msgSeriesNoName)
		return nil
	}

	queries := []string{ref}
	if cleaned := tmdb.CleanQuery(ref); cleaned != "" && !strings.EqualFold(cleaned, ref) {
		queries = append(queries, cleaned)
	}
	var results []tmdb.Collection
	for _, q := range queries {
		var err error
		results, err = e.deps.Collections.SearchCollections(ctx, q)
		if err != nil {
			return fail(msgSeriesSearchError, err)
		}
		if len(results) > 0 {
			break
		}
	}
	if len(results) == 0 {
		e.say(ctx, r.conv, fmt.Sprintf("I couldn't find a movie series for %q.", ref))
		return nil
	}

	want := resolver.Normalize(ref)
	if i := slices.IndexFunc(results, func(c tmdb.Collection) bool { return resolver.Normalize(c.Name) == want }); i >= 0 {
		return e.confirmCollection(ctx, r.conv, results[i].ID, nil)
	}
	choices := results[:min(len(results), maxCollectionChoices)]
	if len(choices) == 1 {
		return e.confirmCollection(ctx, r.conv, choices[0].ID, nil)
	}

	buttons := make([][]chat.Button, 0, len(choices)+1)
	for _, c := range choices {
		buttons = append(buttons, []chat.Button{chat.ActionButton(c.Name, actMovieSeriesPick, c.ID)})
	}
	buttons = append(buttons, []chat.Button{chat.ActionButton("Cancel", actMovieSeriesCancel)})
	st := &pending.MovieSeriesPick{Choices: slices.Clone(choices)}
	return e.present(ctx, r.conv, st, chat.Message{Text: msgSeriesMultiple, Buttons: buttons})
}

// confirmCollection loads a collection, splits it against the Radarr
// library and asks for confirmation. With prev set the pick prompt is
// edited in place.
func (e *Engine) confirmCollection(ctx context.Context, conv string, id int, prev pending.State) error {
	details, err := e.deps.Collections.Collection(ctx, id)
	if err != nil {
		return fail(msgSeriesLoadError, err)
	}
	if details == nil || len(details.Parts) == 0 {
		e.say(ctx, conv, msgSeriesLoadError)
		return nil
	}

	owned := e.radarrTmdbIDs(ctx)
	st := &pending.MovieSeriesConfirm{CollectionID: details.ID, CollectionName: details.Name}
	for _, part := range details.Parts {
		if owned[part.ID] {
			st.Owned = append(st.Owned, part)
		} else {
			st.Missing = append(st.Missing, part)
		}
	}

	sections := []string{fmt.Sprintf("🎬 *%s*", details.Name)}
	if len(st.Owned) > 0 {
		sections = append(sections, "You already have:\n"+partList(st.Owned))
	}
	if len(st.Missing) > 0 {
		sections = append(sections, "This will add:\n"+partList(st.Missing), "Add the missing movies in this series?")
	} else {
		sections = append(sections, "All movies are already in Radarr.", "Want me to re-add them anyway?")
	}
	msg := chat.Message{
		Text:     strings.Join(sections, "\n\n"),
		Markdown: true,
		Buttons: [][]chat.Button{{
			chat.ActionButton("✅ Add All", actMovieSeriesConfirm),
			chat.ActionButton("Cancel", actMovieSeriesCancel),
		}},
	}
	if prev != nil {
		st.SetMessageID(prev.PromptID())
		return e.update(ctx, conv, st, msg)
	}
	return e.present(ctx, conv, st, msg)
}

// radarrTmdbIDs is the set of TMDB ids already in Radarr. A failed listing
// is logged and treated as an empty library.
func (e *Engine) radarrTmdbIDs(ctx context.Context) map[int]bool {
	ids := make(map[int]bool)
	if !configured(e.deps.Radarr) {
		return ids
	}
	movies, err := e.deps.Radarr.ListMovies(ctx)
	if err != nil {
		trace.Logger(ctx, e.log).Warn("workflow: list radarr movies", "err", err)
		return ids
	}
	for _, m := range movies {
		if m.TmdbID != 0 {
			ids[m.TmdbID] = true
		}
	}
	return ids
}

// partList renders dated parts in collection order, then undated ones by
// title.
func partList(parts []tmdb.Part) string {
	var dated, undated []tmdb.Part
	for _, p := range parts {
		if p.ReleaseDate != "" {
			dated = append(dated, p)
		} else {
			undated = append(undated, p)
		}
	}
	slices.SortStableFunc(undated, func(a, b tmdb.Part) int { return cmp.Compare(a.DisplayTitle(), b.DisplayTitle()) })
	all := append(dated, undated...)

	var lines []string
	for i, p := range all[:min(len(all), maxCollectionLines)] {
		year := "TBC"
		if y := p.Year(); y > 0 {
			year = fmt.Sprint(y)
		}
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, p.DisplayTitle(), year))
	}
	if extra := len(all) - maxCollectionLines; extra > 0 {
		lines = append(lines, fmt.Sprintf("…and %d more.", extra))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) movieSeriesPick(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.MovieSeriesPick)
	if !ok {
		return nil
	}
	id, ok := p.intParam()
	if !ok || !slices.ContainsFunc(st.Choices, func(c tmdb.Collection) bool { return c.ID == id }) {
		p.answer = "Couldn't load that collection."
		return nil
	}
	return e.confirmCollection(ctx, p.conv, id, st)
}

func (e *Engine) movieSeriesConfirm(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.MovieSeriesConfirm)
	if !ok {
		return nil
	}
	if !e.requireService(ctx, p.conv, "Radarr", e.deps.Radarr) {
		return nil
	}
	_ = e.edit(ctx, p.conv, st.PromptID(), chat.Text("Adding movies…"))

	defaults, err := e.radarrDefaults(ctx)
	if err != nil {
		return fail(msgSeriesAddError, err)
	}
	targets := st.Missing
	if len(targets) == 0 {
		targets = st.Owned
	}
	// Re-read the library: movies may have been added since the prompt.
	existing := e.radarrTmdbIDs(ctx)

	log := trace.Logger(ctx, e.log).With("conv", p.conv, "collection", st.CollectionName)
	added, skipped := 0, 0
	for _, part := range targets {
		if part.ID == 0 || existing[part.ID] {
			skipped++
			continue
		}
		m := radarr.Movie{
			Title:               part.DisplayTitle(),
			TmdbID:              part.ID,
			ImdbID:              part.ImdbID,
			Year:                part.Year(),
			TitleSlug:           fmt.Sprintf("%s-%d", part.DisplayTitle(), part.ID),
			MinimumAvailability: "announced",
		}
		if _, err := e.deps.Radarr.AddMovie(ctx, m, defaults); err != nil {
			log.Warn("workflow: add collection movie", "tmdb_id", part.ID, "err", err)
			skipped++
			continue
		}
		existing[part.ID] = true
		added++
	}

	text := fmt.Sprintf("🎞 *%s*\nAdded %d movies.", st.CollectionName, added)
	if skipped > 0 {
		text += fmt.Sprintf("\n%d already existed or failed.", skipped)
	}
	e.finish(ctx, p.conv, st, chat.Markdown(text))
	e.audit(ctx, AuditEvent{
		Conversation: p.conv,
		Action:       "add_movie_series",
		Target:       st.CollectionName,
		Result:       fmt.Sprintf("added=%d skipped=%d", added, skipped),
	})
	return nil
}
