package workflow

import (
	"cmp"
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/radarr"
	"github.com/bdobrica/Rinko/internal/rinko/resolver"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
)

const actHaveAdd = "haveadd"

const (
	msgHaveNoTitle     = "I need a show or movie title to check."
	msgHaveSonarrError = "I had trouble checking Sonarr. Try again in a moment."
	msgHaveRadarrError = "I couldn't reach Radarr just now. Try again later."

	defaultShownSeasons = 5
	// haveMatchScore is the literal score a Radarr title needs to count as
	// the movie asked about.
	haveMatchScore = 0.35
	// maxEncodedTitle keeps "haveadd|movie|<title>" within Telegram's
	// 64-byte callback limit.
	maxEncodedTitle = 36
)

func (e *Engine) haveMedia(ctx context.Context, r *request) error {
	title := strings.TrimSpace(firstNonBlank(r.ent.Title, r.ref))
	if title == "" {
		e.say(ctx, r.conv, msgHaveNoTitle)
		return nil
	}
	if r.ent.Type == nlp.TypeMovie {
		return e.haveMovie(ctx, r.conv, title)
	}
	return e.haveShow(ctx, r.conv, title, r.ent.Season)
}

// addButton offers to add a title the library does not have.
func addButton(kind, title string) [][]chat.Button {
	service := "Sonarr"
	if kind == nlp.TypeMovie {
		service = "Radarr"
	}
	return [][]chat.Button{{chat.ActionButton("➕ Add to "+service, actHaveAdd, kind, encodeTitle(title))}}
}

// encodeTitle base64url-encodes title, cut on a rune boundary so the
// callback data stays short.
func encodeTitle(title string) string {
	for len(title) > maxEncodedTitle {
		_, size := utf8.DecodeLastRuneInString(title)
		title = title[:len(title)-size]
	}
	return base64.RawURLEncoding.EncodeToString([]byte(title))
}

func decodeTitle(s string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || !utf8.Valid(b) {
		return "", false
	}
	return strings.TrimSpace(string(b)), len(b) > 0
}

func (e *Engine) haveShow(ctx context.Context, conv, title string, season int) error {
	if !e.requireService(ctx, conv, "Sonarr", e.deps.Sonarr) {
		return nil
	}
	matches := e.deps.Library.Find(title)
	if len(matches) == 0 {
		e.send(ctx, conv, chat.Message{
			Text:     fmt.Sprintf("I couldn't find *%s* in Sonarr yet.", title),
			Markdown: true,
			Buttons:  addButton(nlp.TypeTV, title),
		})
		return nil
	}
	entry := matches[0]

	var (
		series  *sonarr.Series
		watched map[int]plex.Season
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		series, err = e.deps.Sonarr.GetSeries(gctx, entry.ID)
		return err
	})
	g.Go(func() error {
		watched = e.plexStats(gctx, entry.Title)
		return nil
	})
	if err := g.Wait(); err != nil {
		return fail(msgHaveSonarrError, err)
	}

	if cleanedUp(series) {
		e.send(ctx, conv, chat.Markdown(fmt.Sprintf(
			"It looks like we finished watching *%s* and cleaned it up. "+
				"It's still in Sonarr but everything is unmonitored and there are no files left. "+
				"Just ask me to add it again if you want it back.", series.Title)))
		return nil
	}
	e.send(ctx, conv, chat.Markdown(showSummary(series, watched, season)))
	return nil
}

// plexStats indexes the show's Plex seasons by number. Failures are logged
// and yield no stats.
func (e *Engine) plexStats(ctx context.Context, title string) map[int]plex.Season {
	if !configured(e.deps.Plex) {
		return nil
	}
	log := trace.Logger(ctx, e.log).With("title", title)
	shows, err := e.deps.Plex.Shows(ctx)
	if err != nil {
		log.Warn("workflow: plex shows", "err", err)
		return nil
	}
	show, ok := plex.FindShow(shows, title)
	if !ok {
		return nil
	}
	seasons, err := e.deps.Plex.Seasons(ctx, show.RatingKey)
	if err != nil {
		log.Warn("workflow: plex seasons", "err", err)
		return nil
	}
	out := make(map[int]plex.Season, len(seasons))
	for _, s := range seasons {
		out[s.Index] = s
	}
	return out
}

// cleanedUp reports a finished show whose files were all removed and whose
// seasons were all unmonitored.
func cleanedUp(s *sonarr.Series) bool {
	if s.Statistics != nil && s.Statistics.EpisodeFileCount > 0 {
		return false
	}
	seasons := regularSeasonList(s)
	if len(seasons) == 0 {
		return false
	}
	for _, season := range seasons {
		if season.Monitored {
			return false
		}
	}
	return s.Ended || strings.EqualFold(s.Status, "ended")
}

func regularSeasonList(s *sonarr.Series) []sonarr.Season {
	var out []sonarr.Season
	for _, season := range s.Seasons {
		if season.SeasonNumber > 0 {
			out = append(out, season)
		}
	}
	slices.SortFunc(out, func(a, b sonarr.Season) int { return cmp.Compare(a.SeasonNumber, b.SeasonNumber) })
	return out
}

func showSummary(s *sonarr.Series, watched map[int]plex.Season, requested int) string {
	lines := []string{fmt.Sprintf("📺 *%s* is already in Sonarr.", s.Title)}
	if size := s.SizeOnDisk(); size > 0 {
		lines = append(lines, fmt.Sprintf("On disk: ~%s.", format.Bytes(size)))
	}
	seasons := regularSeasonList(s)
	if len(seasons) == 0 {
		lines = append(lines, "No aired seasons yet.")
		return strings.Join(lines, "\n")
	}

	visible := seasons[:min(len(seasons), defaultShownSeasons)]
	found := false
	if requested > 0 {
		if i := slices.IndexFunc(seasons, func(x sonarr.Season) bool { return x.SeasonNumber == requested }); i >= 0 {
			visible, found = seasons[i:i+1], true
		}
	}

	lines = append(lines, "", "Season status:")
	for _, season := range visible {
		lines = append(lines, seasonLine(season, watched))
	}
	switch {
	case requested > 0 && !found:
		lines = append(lines, fmt.Sprintf("(Could not find data for season %d yet.)", requested))
	case requested <= 0 && len(seasons) > len(visible):
		lines = append(lines, fmt.Sprintf("…plus %d more seasons ready in Sonarr.", len(seasons)-len(visible)))
	}
	return strings.Join(lines, "\n")
}

func seasonLine(s sonarr.Season, watched map[int]plex.Season) string {
	aired, downloaded := 0, 0
	if st := s.Statistics; st != nil {
		aired = cmp.Or(st.EpisodeCount, st.TotalEpisodeCount)
		downloaded = st.EpisodeFileCount
	}

	var status string
	switch {
	case aired > 0 && downloaded >= aired:
		status = "✅ Fully downloaded"
	case downloaded > 0:
		status = fmt.Sprintf("⚠️ %d/%d episodes downloaded", downloaded, aired)
	case aired == 0:
		status = "🕓 Waiting for episodes to air"
	default:
		status = "❌ No episodes downloaded"
	}
	if !s.Monitored {
		status += " (not monitored)"
	}
	if p, ok := watched[s.SeasonNumber]; ok {
		switch {
		case p.LeafCount > 0 && p.ViewedLeafCount == p.LeafCount:
			status += " — fully watched"
		case p.ViewedLeafCount > 0:
			status += fmt.Sprintf(" — watched %d/%d", p.ViewedLeafCount, p.LeafCount)
		}
	}
	return fmt.Sprintf("• S%d: %s", s.SeasonNumber, status)
}

func (e *Engine) haveMovie(ctx context.Context, conv, title string) error {
	if !e.requireService(ctx, conv, "Radarr", e.deps.Radarr) {
		return nil
	}
	movies, err := e.deps.Radarr.ListMovies(ctx)
	if err != nil {
		return fail(msgHaveRadarrError, err)
	}
	matches := resolver.Rank(movies, title, func(m radarr.Movie) string { return m.Title })
	if len(matches) == 0 || matches[0].Score <= haveMatchScore {
		e.send(ctx, conv, chat.Message{
			Text:     fmt.Sprintf("Doesn't look like *%s* is in Radarr yet.", title),
			Markdown: true,
			Buttons:  addButton(nlp.TypeMovie, title),
		})
		return nil
	}
	e.send(ctx, conv, chat.Markdown(movieSummary(matches[0].Item)))
	return nil
}

func movieSummary(m radarr.Movie) string {
	name := m.Title
	if m.Year > 0 {
		name = fmt.Sprintf("%s (%d)", m.Title, m.Year)
	}
	lines := []string{fmt.Sprintf("🎬 *%s* — yep, that's in Radarr.", name)}
	switch {
	case m.Downloaded():
		lines = append(lines, fmt.Sprintf("✅ Downloaded (%s)", cmp.Or(m.QualityName(), "unknown quality")))
		if size := m.FileSize(); size > 0 {
			lines = append(lines, "Size: "+format.Bytes(size))
		}
	case m.Monitored:
		lines = append(lines, "📡 It's monitored and waiting for a download to show up.")
	default:
		lines = append(lines, "⚠️ It's in Radarr but not actively monitored.")
	}
	if m.IsAvailable != nil && !*m.IsAvailable {
		lines = append(lines, "Release not available yet.")
	}
	return strings.Join(lines, "\n")
}

// haveAdd starts the add flow from a have_media miss. It needs no pending
// state: the title travels in the button.
func (e *Engine) haveAdd(ctx context.Context, p *press) error {
	kind, encoded, ok := strings.Cut(p.cb.Param, chat.CallbackSeparator)
	if !ok || (kind != nlp.TypeTV && kind != nlp.TypeMovie) {
		p.answer = msgUnknownAction
		return nil
	}
	title, ok := decodeTitle(encoded)
	if !ok {
		p.answer = msgUnknownAction
		return nil
	}
	if p.msg != "" {
		_ = e.deps.Transport.Edit(ctx, p.conv, p.msg, chat.Text(fmt.Sprintf("🔎 Looking up “%s”…", title)))
	}
	return e.startAdd(ctx, p.conv, title, kind)
}
