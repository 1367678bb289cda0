package workflow

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/arr"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/radarr"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
)

const (
	actOptimizeAll        = "optm_all"
	actOptimizePick       = "optm_pick"
	actOptimizeSelect     = "optm_select"
	actOptimizeConfirm    = "optm_confirm"
	actOptimizePickCancel = "optm_pick_cancel"
	actOptimizeCancel     = "optm_cancel"
)

const (
	defaultOptimizeLimit = 20
	maxOptimizeLimit     = 50
	// savingsRatio is the share of a file expected to be reclaimed by a
	// smaller release.
	savingsRatio = 0.65

	msgOptimizeCancelled   = "❌ Optimization cancelled."
	msgOptimizeNothingPick = "Select at least one title."
)

var (
	limitPattern   = regexp.MustCompile(`(\d{1,2})`)
	profilePattern = regexp.MustCompile(`(?i)\b(?:profile|to)\s+([a-z0-9][a-z0-9 \-+]{1,})$`)
)

// parseLimit reads a 1-2 digit count from text, clamped to 1..ceiling.
func parseLimit(text string, explicit, def, ceiling int) int {
	n := explicit
	if n <= 0 {
		if m := limitPattern.FindStringSubmatch(text); m != nil {
			n, _ = strconv.Atoi(m[1])
		}
	}
	if n <= 0 {
		return def
	}
	return min(ceiling, n)
}

// requestedProfile extracts "to <profile>" or "profile <name>" from the end
// of text.
func requestedProfile(text string) string {
	if m := profilePattern.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func estimateSavings(n int64) int64 {
	return int64(float64(n) * savingsRatio)
}

// optimizeKind holds the per-service texts.
type optimizeKind struct {
	service string
	noun    string
	envVar  string
	tv      bool
}

var (
	optimizeMovieKind = optimizeKind{service: "Radarr", noun: "movies", envVar: "OPTIMIZE_MOVIE_TARGET_PROFILE"}
	optimizeTVKind    = optimizeKind{service: "Sonarr", noun: "series", envVar: "OPTIMIZE_TV_TARGET_PROFILE", tv: true}
)

func (k optimizeKind) unavailable() string {
	if k.tv {
		return "Unable to prepare TV optimization right now."
	}
	return "Unable to prepare optimization right now."
}

func (k optimizeKind) noProfiles() string {
	return fmt.Sprintf("No %s quality profiles found. Set %s or ensure %s is reachable.", k.service, k.envVar, k.service)
}

func (k optimizeKind) noResults() string {
	if k.tv {
		return "No TV results available for that query."
	}
	return "No movie results available for that query."
}

func (k optimizeKind) startFailed() string {
	return fmt.Sprintf("❌ Could not start optimization. Check %s connectivity and quality profile.", k.service)
}

func (e *Engine) optimizeMovies(ctx context.Context, r *request) error {
	if !e.requireService(ctx, r.conv, "Radarr", e.deps.Radarr) {
		return nil
	}
	k := optimizeMovieKind
	text := r.reference()
	limit := parseLimit(text, r.ent.Limit, defaultOptimizeLimit, maxOptimizeLimit)
	requested := firstNonBlank(r.ent.Profile, requestedProfile(text))

	var (
		profiles []arr.QualityProfile
		movies   []radarr.Movie
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		profiles, err = e.deps.Radarr.QualityProfiles(gctx)
		return err
	})
	g.Go(func() (err error) {
		movies, err = e.deps.Radarr.ListMovies(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fail(k.unavailable(), err)
	}

	fallback := e.setting(ctx, KeyOptimizeMovieTarget, e.deps.Settings.OptimizeMovieProfile)
	target := arr.PickTargetProfile(profiles, requested, fallback)
	if target == nil {
		e.say(ctx, r.conv, k.noProfiles())
		return nil
	}
	minBytes := int64(e.minSizeGB(ctx, KeyOptimizeMinSizeGB, e.deps.Settings.OptimizeMinSizeGB) * bytesPerGibibyte)

	movies = slices.DeleteFunc(movies, func(m radarr.Movie) bool {
		return !m.Downloaded() || m.FileSize() < minBytes || m.QualityProfileID == target.ID
	})
	slices.SortStableFunc(movies, func(a, b radarr.Movie) int { return cmp.Compare(b.FileSize(), a.FileSize()) })
	movies = movies[:min(len(movies), limit)]
	if len(movies) == 0 {
		e.say(ctx, r.conv, k.noResults())
		return nil
	}

	st := &pending.OptimizeMovies{}
	st.TargetProfileID = target.ID
	var lines []string
	var total int64
	for i, m := range movies {
		st.Candidates = append(st.Candidates, pending.OptimizeCandidate{ID: m.ID, Title: m.Title})
		size := m.FileSize()
		total += size
		title := m.Title
		if m.Year > 0 {
			title = fmt.Sprintf("%s (%d)", m.Title, m.Year)
		}
		lines = append(lines, fmt.Sprintf("%d. %s — %s — %s — est save %s",
			i+1, title, format.Bytes(size), firstNonBlank(m.QualityName(), "unknown"), format.Bytes(estimateSavings(size))))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧠 *Optimization candidates* — target profile: *%s*\n", target.DisplayName())
	fmt.Fprintf(&sb, "Showing %d largest movies (size ≥ %s, sorted by size).\n", len(movies), format.Bytes(minBytes))
	fmt.Fprintf(&sb, "Potential reclaim: ~%s\n\n", format.Bytes(estimateSavings(total)))
	sb.WriteString(strings.Join(lines, "\n"))
	return e.present(ctx, r.conv, st, chat.Message{Text: sb.String(), Markdown: true, Buttons: optimizeButtons()})
}

// tvCandidate is a series with the quality of its best episode file.
type tvCandidate struct {
	series  sonarr.Series
	files   int
	quality string
}

func (e *Engine) optimizeTV(ctx context.Context, r *request) error {
	if !e.requireService(ctx, r.conv, "Sonarr", e.deps.Sonarr) {
		return nil
	}
	k := optimizeTVKind
	text := r.reference()
	limit := parseLimit(text, r.ent.Limit, defaultOptimizeLimit, maxOptimizeLimit)
	requested := firstNonBlank(r.ent.Profile, requestedProfile(text))

	var (
		profiles []arr.QualityProfile
		series   []sonarr.Series
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		profiles, err = e.deps.Sonarr.QualityProfiles(gctx)
		return err
	})
	g.Go(func() (err error) {
		series, err = e.deps.Sonarr.ListSeries(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fail(k.unavailable(), err)
	}

	fallback := e.setting(ctx, KeyOptimizeTVTarget, e.deps.Settings.OptimizeTVProfile)
	target := arr.PickTargetProfile(profiles, requested, fallback)
	if target == nil {
		e.say(ctx, r.conv, k.noProfiles())
		return nil
	}
	movieMin := e.minSizeGB(ctx, KeyOptimizeMinSizeGB, e.deps.Settings.OptimizeMinSizeGB)
	minBytes := int64(e.minSizeGB(ctx, KeyOptimizeTVMinSizeGB, firstPositive(e.deps.Settings.OptimizeTVMinSizeGB, movieMin)) * bytesPerGibibyte)

	series = slices.DeleteFunc(series, func(s sonarr.Series) bool {
		return s.SizeOnDisk() < minBytes || s.QualityProfileID == target.ID
	})
	slices.SortStableFunc(series, func(a, b sonarr.Series) int { return cmp.Compare(b.SizeOnDisk(), a.SizeOnDisk()) })

	e.progress(ctx, r, "🔎 Checking episode quality…")
	candidates := e.annotateSeries(ctx, series, target.TargetResolution(), limit)
	if len(candidates) == 0 {
		e.say(ctx, r.conv, k.noResults())
		return nil
	}

	st := &pending.OptimizeTV{}
	st.TargetProfileID = target.ID
	var lines []string
	var total int64
	for i, c := range candidates {
		st.Candidates = append(st.Candidates, pending.OptimizeCandidate{ID: c.series.ID, Title: c.series.Title})
		size := c.series.SizeOnDisk()
		total += size
		lines = append(lines, fmt.Sprintf("%d. %s — %s — %d files — current quality %s — est save %s",
			i+1, c.series.Title, format.Bytes(size), c.files, firstNonBlank(c.quality, "unknown"), format.Bytes(estimateSavings(size))))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🧠 *TV optimization candidates* — target profile: *%s*\n", target.DisplayName())
	fmt.Fprintf(&sb, "Showing %d largest series (size ≥ %s, sorted by size).\n", len(candidates), format.Bytes(minBytes))
	fmt.Fprintf(&sb, "Potential reclaim: ~%s\n\n", format.Bytes(estimateSavings(total)))
	sb.WriteString(strings.Join(lines, "\n"))
	return e.present(ctx, r.conv, st, chat.Message{Text: sb.String(), Markdown: true, Buttons: optimizeButtons()})
}

// annotateSeries walks series in order and keeps, up to limit, those whose
// best episode file is above the target resolution. Series whose episodes
// cannot be read are skipped.
func (e *Engine) annotateSeries(ctx context.Context, series []sonarr.Series, targetRes, limit int) []tvCandidate {
	log := trace.Logger(ctx, e.log)
	var out []tvCandidate
	for _, s := range series {
		if len(out) == limit || ctx.Err() != nil {
			break
		}
		episodes, err := e.deps.Sonarr.Episodes(ctx, s.ID)
		if err != nil {
			log.Warn("workflow: episodes for optimization", "series_id", s.ID, "err", err)
			continue
		}
		best, quality, files := 0, "", 0
		for _, ep := range episodes {
			if ep.EpisodeFile == nil {
				continue
			}
			files++
			q := ep.EpisodeFile.Quality.Quality
			res := q.Resolution
			if res == 0 {
				res = arr.ResolutionFromName(q.Name)
			}
			if res > best {
				best, quality = res, q.Name
			}
		}
		if best > targetRes {
			out = append(out, tvCandidate{series: s, files: files, quality: quality})
		}
	}
	return out
}

func (e *Engine) minSizeGB(ctx context.Context, key string, fallback float64) float64 {
	return e.settingFloat(ctx, key, firstPositive(fallback, defaultMinSizeGB))
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func optimizeButtons() [][]chat.Button {
	return [][]chat.Button{
		{chat.ActionButton("✅ Optimize all", actOptimizeAll)},
		{chat.ActionButton("🗂 Pick titles", actOptimizePick)},
		{chat.ActionButton(labelCancel, actOptimizeCancel)},
	}
}

// optimizeState returns the shared body and kind of either optimize mode.
func optimizeState(st pending.State) (*pending.Optimize, optimizeKind, bool) {
	switch s := st.(type) {
	case *pending.OptimizeMovies:
		return &s.Optimize, optimizeMovieKind, true
	case *pending.OptimizeTV:
		return &s.Optimize, optimizeTVKind, true
	}
	return nil, optimizeKind{}, false
}

func pickerMessage(o *pending.Optimize, k optimizeKind) chat.Message {
	var rows [][]chat.Button
	for i, c := range o.Candidates {
		mark := "⬜️"
		if o.IsSelected(c.ID) {
			mark = "✅"
		}
		rows = append(rows, []chat.Button{chat.ActionButton(fmt.Sprintf("%s %d. %s", mark, i+1, c.Title), actOptimizeSelect, i)})
	}
	rows = append(rows,
		[]chat.Button{
			chat.ActionButton("▶️ Optimize selected", actOptimizeConfirm),
			chat.ActionButton("⬅️ Back", actOptimizePickCancel),
		},
		[]chat.Button{chat.ActionButton("🏁 Optimize all", actOptimizeAll)},
	)
	return chat.Message{Text: fmt.Sprintf("Select %s to optimize:", k.noun), Buttons: rows}
}

func (e *Engine) optimizePick(ctx context.Context, p *press) error {
	o, k, ok := optimizeState(p.state)
	if !ok {
		return nil
	}
	msg := pickerMessage(o, k)
	if o.SelectionMessageID != "" {
		if err := e.edit(ctx, p.conv, o.SelectionMessageID, msg); err == nil {
			return nil
		}
	}
	id, err := e.deps.Transport.Send(ctx, p.conv, msg)
	if err != nil {
		return fmt.Errorf("workflow: send picker: %w", err)
	}
	o.SelectionMessageID = id
	e.deps.Store.Set(p.conv, p.state)
	return nil
}

func (e *Engine) optimizeSelect(ctx context.Context, p *press) error {
	o, k, ok := optimizeState(p.state)
	if !ok {
		return nil
	}
	idx, ok := p.intParam()
	if !ok || idx < 0 || idx >= len(o.Candidates) {
		p.answer = msgUnknownAction
		return nil
	}
	n := o.Toggle(o.Candidates[idx].ID)
	p.answer = fmt.Sprintf("%d selected", n)
	if o.SelectionMessageID == "" {
		return nil
	}
	e.deps.Store.Set(p.conv, p.state)
	return e.edit(ctx, p.conv, o.SelectionMessageID, pickerMessage(o, k))
}

func (e *Engine) optimizePickCancel(ctx context.Context, p *press) error {
	o, _, ok := optimizeState(p.state)
	if !ok {
		return nil
	}
	e.delete(ctx, p.conv, o.SelectionMessageID)
	o.SelectionMessageID = ""
	e.deps.Store.Set(p.conv, p.state)
	return nil
}

func (e *Engine) optimizeCancel(ctx context.Context, p *press) error {
	e.finish(ctx, p.conv, p.state, chat.Text(msgOptimizeCancelled))
	return nil
}

func (e *Engine) optimizeAll(ctx context.Context, p *press) error {
	return e.runOptimize(ctx, p, true)
}

func (e *Engine) optimizeConfirm(ctx context.Context, p *press) error {
	o, _, ok := optimizeState(p.state)
	if !ok {
		return nil
	}
	if len(o.Selected) == 0 {
		p.answer = msgOptimizeNothingPick
		return nil
	}
	return e.runOptimize(ctx, p, false)
}

func (e *Engine) runOptimize(ctx context.Context, p *press, all bool) error {
	o, k, ok := optimizeState(p.state)
	if !ok {
		return nil
	}
	ids := o.Targets(all)
	log := trace.Logger(ctx, e.log).With("conv", p.conv, "profile_id", o.TargetProfileID, "count", len(ids))

	var text string
	if k.tv {
		var updated []int
		for _, id := range ids {
			err := e.deps.Sonarr.UpdateSeries(ctx, id, func(doc map[string]any) {
				doc["qualityProfileId"] = o.TargetProfileID
			})
			if err != nil {
				log.Warn("workflow: set series profile", "series_id", id, "err", err)
				continue
			}
			updated = append(updated, id)
		}
		if len(updated) == 0 {
			return fail(k.startFailed(), fmt.Errorf("workflow: optimize: no series updated"))
		}
		if _, err := e.deps.Sonarr.SeriesSearch(ctx, updated...); err != nil {
			return fail(k.startFailed(), err)
		}
		text = fmt.Sprintf("✅ Optimization started for %d series. Sonarr will grab smaller releases if available.", len(updated))
		if failed := len(ids) - len(updated); failed > 0 {
			text += fmt.Sprintf("\n⚠️ %d series could not be updated.", failed)
		}
	} else {
		if err := e.deps.Radarr.SetQualityProfile(ctx, ids, o.TargetProfileID); err != nil {
			return fail(k.startFailed(), err)
		}
		if _, err := e.deps.Radarr.MoviesSearch(ctx, ids...); err != nil {
			return fail(k.startFailed(), err)
		}
		text = fmt.Sprintf("✅ Optimization started for %d movie(s). Radarr will grab smaller releases if available.", len(ids))
	}

	e.finish(ctx, p.conv, p.state, chat.Text(text))
	e.audit(ctx, AuditEvent{
		Conversation: p.conv,
		Action:       "optimize_" + k.noun,
		Target:       fmt.Sprintf("profile %d", o.TargetProfileID),
		Result:       fmt.Sprintf("%d titles", len(ids)),
	})
	return nil
}
