package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/arr"
	"github.com/bdobrica/Rinko/internal/rinko/cache"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/monitor"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/resolver"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
)

const (
	actRedownloadYes    = "redl_yes"
	actRedownloadNo     = "redl_no"
	actRedownloadPick   = "redl_pick"
	actRedownloadSelect = "redl_select"
)

const (
	msgRedownloadWhat       = "I couldn’t understand what you want to redownload."
	msgRedownloadNeedTarget = "Which season and episode of %s should I redownload? Try \"redownload %s season 1 episode 2\"."
	msgRedownloadError      = "Error during redownload."
	msgRedownloadStarted    = "🔁 Episode deleted and redownload started!"
	msgRedownloadUnsure     = "⚠️ Episode deleted but redownload may not have started."
	msgRedownloadDeleteFail = "❌ Episode could not be deleted. File may not exist."
	msgRedownloadReload     = "❌ Could not load episodes for the selected series."
)

func (e *Engine) redownload(ctx context.Context, r *request) error {
	title := strings.TrimSpace(r.ent.Title)
	if title != "" && r.ent.Season > 0 && r.ent.Episode > 0 {
		return e.redownloadExplicit(ctx, r.conv, title, r.ent.Season, r.ent.Episode)
	}
	ref := r.reference()
	if ref == "" {
		e.say(ctx, r.conv, msgRedownloadWhat)
		return nil
	}

	if configured(e.deps.Plex) {
		e.progress(ctx, r, "🔎 Checking what you've been watching…")
		item, alternates, found := e.resolveWatching(ctx, ref)
		if found {
			return e.confirmResolved(ctx, r.conv, item, alternates, nil)
		}
	}
	// Nothing in progress matched. A classifier title is a cleaner cache
	// query than the raw phrase, so the phrase is only the last resort.
	return e.redownloadExplicit(ctx, r.conv, firstNonBlank(title, ref), r.ent.Season, r.ent.Episode)
}

// resolveWatching matches ref against the continue-watching hub.
func (e *Engine) resolveWatching(ctx context.Context, ref string) (plex.Item, []plex.Item, bool) {
	log := trace.Logger(ctx, e.log)
	items, err := e.deps.Plex.ContinueWatching(ctx)
	if err != nil {
		log.Warn("workflow: continue watching", "err", err)
		return plex.Item{}, nil, false
	}
	res, err := resolver.Resolve(ctx, items, ref, itemCandidate, e.deps.Resolver)
	if err != nil {
		log.Warn("workflow: delegated resolve failed", "reference", ref, "err", err)
		return plex.Item{}, nil, false
	}
	if !res.Found {
		log.Debug("workflow: nothing in progress matches", "reference", ref)
		return plex.Item{}, nil, false
	}
	return res.Best, res.Alternates, true
}

func itemCandidate(i plex.Item) resolver.Candidate {
	return resolver.Candidate{Title: i.Title, Season: i.Season, Episode: i.Episode}
}

func (e *Engine) redownloadExplicit(ctx context.Context, conv, title string, season, episode int) error {
	if !e.requireService(ctx, conv, "Sonarr", e.deps.Sonarr) {
		return nil
	}
	if season <= 0 || episode <= 0 {
		e.say(ctx, conv, fmt.Sprintf(msgRedownloadNeedTarget, title, title))
		return nil
	}
	matches := e.deps.Library.Find(title)
	if len(matches) == 0 {
		e.say(ctx, conv, "No results for "+title)
		return nil
	}
	st := &pending.Redownload{Series: matches, Selected: matches[0], Season: season, Episode: episode}

	episodes, err := e.deps.Sonarr.Episodes(ctx, st.Selected.ID)
	if err != nil {
		return fail(msgRedownloadError, err)
	}
	if len(episodes) == 0 {
		e.say(ctx, conv, "No episodes found for "+st.Selected.Title)
		return nil
	}
	found := sonarr.FindEpisode(episodes, season, episode)
	if len(found) == 0 {
		text := fmt.Sprintf("Warning: Could not find episode S%dE%d for %s.", season, episode, st.Selected.Title)
		if len(matches) < 2 {
			e.say(ctx, conv, text)
			return nil
		}
		msg := chat.Message{Text: text, Buttons: [][]chat.Button{
			{chat.ActionButton("🔍 Pick different show", actRedownloadPick)},
			{chat.ActionButton(labelCancel, actRedownloadNo)},
		}}
		return e.present(ctx, conv, st, msg)
	}
	st.EpisodeID = found[0].ID
	st.EpisodeFileID = found[0].EpisodeFileID
	return e.present(ctx, conv, st, redownloadPrompt(st))
}

func redownloadPrompt(st *pending.Redownload) chat.Message {
	text := fmt.Sprintf("Found *%s* — Season %d, Episode %d.\nRedownload this episode?", st.Selected.Title, st.Season, st.Episode)
	buttons := [][]chat.Button{
		{chat.ActionButton(labelYes, actRedownloadYes)},
		{chat.ActionButton(labelNo, actRedownloadNo)},
	}
	if len(st.Series) > 1 {
		buttons = append(buttons, []chat.Button{chat.ActionButton("🔍 Pick different show", actRedownloadPick)})
	}
	return chat.Message{Text: text, Markdown: true, Buttons: buttons}
}

// confirmResolved asks about an in-progress Plex episode. With prev set the
// existing prompt is edited in place.
func (e *Engine) confirmResolved(ctx context.Context, conv string, item plex.Item, alternates []plex.Item, prev *pending.RedownloadResolved) error {
	st := &pending.RedownloadResolved{Item: item, Alternates: alternates, SeriesTitle: item.Title}
	if prev != nil {
		st.Prompt = prev.Prompt
	}

	if configured(e.deps.Sonarr) && e.deps.Library != nil {
		if matches := e.deps.Library.Find(item.Title); len(matches) > 0 {
			st.SeriesID = matches[0].ID
			st.SeriesTitle = matches[0].Title
			episodes, err := e.deps.Sonarr.Episodes(ctx, st.SeriesID)
			if err != nil {
				return fail(msgRedownloadError, err)
			}
			if found := sonarr.FindEpisode(episodes, item.Season, item.Episode); len(found) > 0 {
				st.EpisodeID = found[0].ID
				st.EpisodeFileID = found[0].EpisodeFileID
			}
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found *%s* — %s\n", item.Title, format.EpisodeLabel(item.Season, item.Episode))
	if item.EpisodeTitle != "" {
		fmt.Fprintf(&sb, "“%s”\n", item.EpisodeTitle)
	}
	sb.WriteString("\nRedownload this episode?")

	buttons := [][]chat.Button{{
		chat.ActionButton(labelYes, actRedownloadYes),
		chat.ActionButton(labelNo, actRedownloadNo),
	}}
	if len(alternates) > 0 {
		buttons = append(buttons, []chat.Button{chat.ActionButton("🔍 Pick another", actRedownloadPick)})
	}
	msg := chat.Message{Text: sb.String(), Markdown: true, Buttons: buttons}
	if prev != nil {
		return e.update(ctx, conv, st, msg)
	}
	return e.present(ctx, conv, st, msg)
}

func (e *Engine) redownloadYes(ctx context.Context, p *press) error {
	switch st := p.state.(type) {
	case *pending.Redownload:
		if st.EpisodeID == 0 {
			e.finish(ctx, p.conv, st, chat.Text(fmt.Sprintf("⚠️ Episode %s not found for %s.", format.EpisodeLabel(st.Season, st.Episode), st.Selected.Title)))
			return nil
		}
		return e.startRedownload(ctx, p, st.Selected.Title, st.Season, st.Episode, st.EpisodeID, st.EpisodeFileID)
	case *pending.RedownloadResolved:
		label := format.EpisodeLabel(st.Item.Season, st.Item.Episode)
		switch {
		case st.SeriesID == 0:
			e.finish(ctx, p.conv, st, chat.Text(fmt.Sprintf("⚠️ Couldn't find %s in Sonarr.", st.Item.Title)))
			return nil
		case st.EpisodeID == 0:
			e.finish(ctx, p.conv, st, chat.Text(fmt.Sprintf("⚠️ Episode %s not found for %s.", label, st.SeriesTitle)))
			return nil
		}
		return e.startRedownload(ctx, p, st.SeriesTitle, st.Item.Season, st.Item.Episode, st.EpisodeID, st.EpisodeFileID)
	}
	return nil
}

// startRedownload deletes the current file, starts an episode search and
// hands the command to a monitor that reports on the same message.
func (e *Engine) startRedownload(ctx context.Context, p *press, title string, season, episode, episodeID, fileID int) error {
	log := trace.Logger(ctx, e.log).With("conv", p.conv, "episode_id", episodeID)
	target := fmt.Sprintf("%s %s", title, format.EpisodeLabel(season, episode))

	if fileID != 0 {
		if err := e.deps.Sonarr.DeleteEpisodeFile(ctx, fileID); err != nil {
			if !arr.IsNotFound(err) {
				e.audit(ctx, AuditEvent{Conversation: p.conv, Action: "redownload", Target: target, Result: "error", Err: err})
				return fail(msgRedownloadDeleteFail, err)
			}
			log.Warn("workflow: episode file already gone", "file_id", fileID)
		}
	}

	cmd, err := e.deps.Sonarr.EpisodeSearch(ctx, episodeID)
	if err != nil || cmd == nil || cmd.ID == 0 {
		log.Warn("workflow: episode search did not start", "err", err)
		e.audit(ctx, AuditEvent{Conversation: p.conv, Action: "redownload", Target: target, Result: "search_unconfirmed", Err: err})
		e.finish(ctx, p.conv, p.state, chat.Text(msgRedownloadUnsure))
		return nil
	}

	e.finish(ctx, p.conv, p.state, chat.Text(msgRedownloadStarted))
	e.audit(ctx, AuditEvent{Conversation: p.conv, Action: "redownload", Target: target, Result: "started"})
	if e.deps.Monitors != nil {
		h := e.deps.Monitors.Start(ctx, monitor.Request{
			Conversation:       p.conv,
			MessageID:          p.state.PromptID(),
			TargetID:           episodeID,
			CommandID:          cmd.ID,
			PreviousArtifactID: fileID,
			SeriesTitle:        title,
			EpisodeLabel:       format.EpisodeLabel(season, episode),
		})
		log.Info("workflow: monitoring redownload", "monitor", h.ID, "command_id", cmd.ID)
	}
	return nil
}

func (e *Engine) redownloadPick(ctx context.Context, p *press) error {
	var buttons [][]chat.Button
	switch st := p.state.(type) {
	case *pending.Redownload:
		buttons = seriesButtons(st.Series, actRedownloadSelect)
	case *pending.RedownloadResolved:
		for i, item := range append([]plex.Item{st.Item}, st.Alternates...) {
			if i == maxSelectionRows {
				break
			}
			label := fmt.Sprintf("%s — %s", item.Title, format.EpisodeLabel(item.Season, item.Episode))
			buttons = append(buttons, []chat.Button{chat.ActionButton(label, actRedownloadSelect, i)})
		}
	}
	buttons = append(buttons, []chat.Button{chat.ActionButton(labelCancel, actRedownloadNo)})
	return e.edit(ctx, p.conv, p.state.PromptID(), chat.Message{Text: msgSelectShow, Buttons: buttons})
}

// seriesButtons is one button per cache entry.
func seriesButtons(series []cache.Entry, action string) [][]chat.Button {
	var rows [][]chat.Button
	for i, s := range series {
		if i == maxSelectionRows {
			break
		}
		rows = append(rows, []chat.Button{chat.ActionButton(s.Title, action, s.ID)})
	}
	return rows
}

func findEntry(series []cache.Entry, id int) (cache.Entry, bool) {
	for _, s := range series {
		if s.ID == id {
			return s, true
		}
	}
	return cache.Entry{}, false
}

func (e *Engine) redownloadSelect(ctx context.Context, p *press) error {
	n, ok := p.intParam()
	if !ok {
		p.answer = msgInvalidSeries
		return nil
	}
	switch st := p.state.(type) {
	case *pending.Redownload:
		selected, ok := findEntry(st.Series, n)
		if !ok {
			p.answer = msgInvalidSeries
			return nil
		}
		episodes, err := e.deps.Sonarr.Episodes(ctx, selected.ID)
		if err != nil {
			return fail(msgRedownloadReload, err)
		}
		st.Selected = selected
		found := sonarr.FindEpisode(episodes, st.Season, st.Episode)
		if len(found) == 0 {
			e.finish(ctx, p.conv, st, chat.Text(fmt.Sprintf("⚠️ Episode %s not found for %s.", format.EpisodeLabel(st.Season, st.Episode), selected.Title)))
			return nil
		}
		st.EpisodeID = found[0].ID
		st.EpisodeFileID = found[0].EpisodeFileID
		return e.update(ctx, p.conv, st, redownloadPrompt(st))

	case *pending.RedownloadResolved:
		pool := append([]plex.Item{st.Item}, st.Alternates...)
		if n < 0 || n >= len(pool) {
			p.answer = msgInvalidSeries
			return nil
		}
		rest := make([]plex.Item, 0, len(pool)-1)
		rest = append(rest, pool[:n]...)
		rest = append(rest, pool[n+1:]...)
		return e.confirmResolved(ctx, p.conv, pool[n], rest, st)
	}
	return nil
}
