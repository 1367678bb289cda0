package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/resolver"
)

const (
	actTidyYes    = "tidy_yes"
	actTidyNo     = "tidy_no"
	actTidyPick   = "tidy_pick"
	actTidySelect = "tidy_select"
)

const (
	msgTidyNoTitle  = "I need a show title to tidy."
	msgTidyNoSeason = "You didn't specify a season number."
	msgTidyError    = "Error preparing tidy-up."
	msgTidyFailed   = "❌ Could not tidy that season. Check Sonarr connectivity."
)

func (e *Engine) tidy(ctx context.Context, r *request) error {
	title := strings.TrimSpace(r.ent.Title)
	season := r.ent.Season
	if title != "" && season > 0 {
		return e.tidyExplicit(ctx, r.conv, title, season)
	}
	ref := r.reference()
	if ref == "" {
		e.say(ctx, r.conv, msgTidyNoTitle)
		return nil
	}
	if configured(e.deps.Plex) {
		e.progress(ctx, r, "🔎 Checking what you've been watching…")
		if best, ok := e.resolveWatchedSeason(ctx, ref); ok {
			return e.tidyExplicit(ctx, r.conv, best.Title, best.Season)
		}
	}
	if season <= 0 {
		e.say(ctx, r.conv, msgTidyNoSeason)
		return nil
	}
	return e.tidyExplicit(ctx, r.conv, firstNonBlank(title, ref), season)
}

// resolveWatchedSeason matches ref against the seasons in the
// continue-watching hub.
func (e *Engine) resolveWatchedSeason(ctx context.Context, ref string) (resolver.Candidate, bool) {
	log := trace.Logger(ctx, e.log)
	items, err := e.deps.Plex.ContinueWatching(ctx)
	if err != nil {
		log.Warn("workflow: continue watching", "err", err)
		return resolver.Candidate{}, false
	}
	var pool []resolver.Candidate
	seen := make(map[resolver.Candidate]bool)
	for _, it := range items {
		c := resolver.Candidate{Title: it.Title, Season: it.Season}
		if c.Season <= 0 || seen[c] {
			continue
		}
		seen[c] = true
		pool = append(pool, c)
	}
	res, err := resolver.Resolve(ctx, pool, ref, func(c resolver.Candidate) resolver.Candidate { return c }, e.deps.Resolver)
	if err != nil {
		log.Warn("workflow: delegated resolve failed", "reference", ref, "err", err)
		return resolver.Candidate{}, false
	}
	return res.Best, res.Found
}

func (e *Engine) tidyExplicit(ctx context.Context, conv, title string, season int) error {
	if !e.requireService(ctx, conv, "Sonarr", e.deps.Sonarr) {
		return nil
	}
	matches := e.deps.Library.Find(title)
	if len(matches) == 0 {
		e.say(ctx, conv, "No results for "+title)
		return nil
	}
	st := &pending.Tidy{Series: matches, Selected: matches[0], Season: season}
	msg, err := e.tidyPrompt(ctx, st)
	if err != nil {
		return fail(msgTidyError, err)
	}
	return e.present(ctx, conv, st, msg)
}

// tidyPrompt loads the selected season's files and watch counts into st and
// renders the confirmation.
func (e *Engine) tidyPrompt(ctx context.Context, st *pending.Tidy) (chat.Message, error) {
	episodes, err := e.deps.Sonarr.Episodes(ctx, st.Selected.ID)
	if err != nil {
		return chat.Message{}, err
	}
	series, err := e.deps.Sonarr.GetSeries(ctx, st.Selected.ID)
	if err != nil {
		return chat.Message{}, err
	}

	st.FileIDs = st.FileIDs[:0]
	count := 0
	for _, ep := range episodes {
		if ep.SeasonNumber != st.Season {
			continue
		}
		count++
		if ep.EpisodeFileID != 0 {
			st.FileIDs = append(st.FileIDs, ep.EpisodeFileID)
		}
	}
	st.SizeOnDisk = 0
	if s := series.Season(st.Season); s != nil && s.Statistics != nil {
		st.SizeOnDisk = s.Statistics.SizeOnDisk
	}

	watched, unwatched := 0, count
	if w, total, ok := e.plexSeasonCounts(ctx, st.Selected.Title, st.Season); ok {
		watched, unwatched = w, total-w
	}

	var sb strings.Builder
	sb.WriteString("🧹 *Confirm Tidy-Up*\n\n")
	fmt.Fprintf(&sb, "Show: *%s*\n", st.Selected.Title)
	fmt.Fprintf(&sb, "Season: *%d*\n", st.Season)
	fmt.Fprintf(&sb, "Episodes: %d\n", count)
	fmt.Fprintf(&sb, "Watched: %d\n", watched)
	fmt.Fprintf(&sb, "Unwatched: %d\n", unwatched)
	fmt.Fprintf(&sb, "Size on disk: *%s*\n\n", gb(st.SizeOnDisk))
	if unwatched > 0 {
		sb.WriteString("⚠️ Some episodes are *not watched*.\n\n")
	}
	sb.WriteString("Delete *all* downloaded files for this season?")

	return chat.Message{Text: sb.String(), Markdown: true, Buttons: [][]chat.Button{
		{chat.ActionButton(labelYes, actTidyYes)},
		{chat.ActionButton(labelNo, actTidyNo)},
		{chat.ActionButton("🔄 Pick Another Series", actTidyPick)},
	}}, nil
}

// plexSeasonCounts returns watched and total episodes of a season as Plex
// sees them. Lookup failures are logged and reported as not found.
func (e *Engine) plexSeasonCounts(ctx context.Context, title string, season int) (int, int, bool) {
	if !configured(e.deps.Plex) {
		return 0, 0, false
	}
	log := trace.Logger(ctx, e.log).With("title", title)
	shows, err := e.deps.Plex.Shows(ctx)
	if err != nil {
		log.Warn("workflow: plex shows", "err", err)
		return 0, 0, false
	}
	show, ok := plex.FindShow(shows, title)
	if !ok {
		return 0, 0, false
	}
	seasons, err := e.deps.Plex.Seasons(ctx, show.RatingKey)
	if err != nil {
		log.Warn("workflow: plex seasons", "err", err)
		return 0, 0, false
	}
	for _, s := range seasons {
		if s.Index == season {
			return s.ViewedLeafCount, s.LeafCount, true
		}
	}
	return 0, 0, false
}

func (e *Engine) tidyYes(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.Tidy)
	if !ok {
		return nil
	}
	log := trace.Logger(ctx, e.log).With("conv", p.conv, "series_id", st.Selected.ID, "season", st.Season)

	deleted, failed := 0, 0
	for _, id := range st.FileIDs {
		if err := e.deps.Sonarr.DeleteEpisodeFile(ctx, id); err != nil {
			log.Warn("workflow: delete episode file", "file_id", id, "err", err)
			failed++
			continue
		}
		deleted++
	}
	if failed > 0 && deleted == 0 {
		return fail(msgTidyFailed, fmt.Errorf("workflow: tidy: %d deletions failed", failed))
	}

	unmonitorErr := e.deps.Sonarr.UpdateSeries(ctx, st.Selected.ID, func(doc map[string]any) {
		unmonitorSeason(doc, st.Season)
	})
	if unmonitorErr != nil {
		log.Warn("workflow: unmonitor season", "err", unmonitorErr)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧹 Tidied %s season %d: deleted %d file(s), freed ~%s.", st.Selected.Title, st.Season, deleted, gb(st.SizeOnDisk))
	if failed > 0 {
		fmt.Fprintf(&sb, "\n⚠️ %d file(s) could not be deleted.", failed)
	}
	if unmonitorErr != nil {
		sb.WriteString("\n⚠️ Could not unmonitor the season in Sonarr.")
	}
	e.finish(ctx, p.conv, st, chat.Text(sb.String()))
	e.audit(ctx, AuditEvent{
		Conversation: p.conv,
		Action:       "tidy",
		Target:       fmt.Sprintf("%s season %d", st.Selected.Title, st.Season),
		Result:       fmt.Sprintf("deleted=%d failed=%d", deleted, failed),
		Err:          unmonitorErr,
	})
	return nil
}

// unmonitorSeason flips the monitored flag of one season in a raw series
// document.
func unmonitorSeason(doc map[string]any, season int) {
	seasons, _ := doc["seasons"].([]any)
	for _, raw := range seasons {
		s, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := s["seasonNumber"].(float64); ok && int(n) == season {
			s["monitored"] = false
		}
	}
}

func (e *Engine) tidyPick(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.Tidy)
	if !ok {
		return nil
	}
	buttons := seriesButtons(st.Series, actTidySelect)
	buttons = append(buttons, []chat.Button{chat.ActionButton(labelCancel, actTidyNo)})
	return e.edit(ctx, p.conv, st.PromptID(), chat.Message{Text: msgSelectShow, Buttons: buttons})
}

func (e *Engine) tidySelect(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.Tidy)
	if !ok {
		return nil
	}
	id, ok := p.intParam()
	if !ok {
		p.answer = msgInvalidSeries
		return nil
	}
	selected, ok := findEntry(st.Series, id)
	if !ok {
		p.answer = msgInvalidSeries
		return nil
	}
	st.Selected = selected
	msg, err := e.tidyPrompt(ctx, st)
	if err != nil {
		return fail(msgTidyError, err)
	}
	return e.update(ctx, p.conv, st, msg)
}

// gb renders bytes as whole or one-decimal gibibytes, e.g. "12Gb".
func gb(n int64) string {
	v := math.Round(float64(n)/bytesPerGibibyte*10) / 10
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0fGb", v)
	}
	return fmt.Sprintf("%.1fGb", v)
}
