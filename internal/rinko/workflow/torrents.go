package workflow

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
	"github.com/bdobrica/Rinko/internal/rinko/qbittorrent"
)

const (
	actQBYes = "qb_yes"
	actQBNo  = "qb_no"
)

const (
	msgQBNone        = "No unregistered torrents found."
	msgQBQueryError  = "Unable to query qBittorrent. Check configuration and connectivity."
	msgQBDeleteError = "Could not delete unregistered torrents. Check qBittorrent connectivity."

	maxTorrentLines = 20
)

// torrentScope maps the intent to a category and its label.
func (e *Engine) torrentScope(intent nlp.Intent) (string, string) {
	switch intent {
	case nlp.IntentQBUnregisteredTV:
		return cmp.Or(e.deps.Settings.TVCategory, qbittorrent.CategoryTV), "TV"
	case nlp.IntentQBUnregisteredMovies:
		return cmp.Or(e.deps.Settings.MovieCategory, qbittorrent.CategoryMovies), "Movies"
	default:
		return qbittorrent.CategoryAll, "All"
	}
}

func (e *Engine) qbUnregistered(ctx context.Context, r *request) error {
	if !e.requireService(ctx, r.conv, "qBittorrent", e.deps.Torrents) {
		return nil
	}
	category, label := e.torrentScope(r.intent)
	torrents, err := e.deps.Torrents.FindUnregistered(ctx, category)
	if err != nil {
		return fail(msgQBQueryError, err)
	}
	if len(torrents) == 0 {
		e.say(ctx, r.conv, msgQBNone)
		return nil
	}

	lines := []string{fmt.Sprintf("⚠️ *Unregistered torrents detected (%s)*\n", label)}
	for i, t := range torrents[:min(len(torrents), maxTorrentLines)] {
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, t.Name, format.BytesDecimal(t.Size)))
	}
	if extra := len(torrents) - maxTorrentLines; extra > 0 {
		lines = append(lines, fmt.Sprintf("\n…and %d more", extra))
	}
	lines = append(lines,
		"\nDelete these torrents (and their files)?",
		"Total size: "+format.BytesDecimal(torrentBytes(torrents)),
	)

	st := &pending.QBUnregistered{Category: category, Torrents: torrents}
	return e.present(ctx, r.conv, st, chat.Message{
		Text:     strings.Join(lines, "\n"),
		Markdown: true,
		Buttons: [][]chat.Button{{
			chat.ActionButton("✅ Delete", actQBYes),
			chat.ActionButton(labelCancel, actQBNo),
		}},
	})
}

func (e *Engine) qbYes(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.QBUnregistered)
	if !ok {
		return nil
	}
	hashes := make([]string, len(st.Torrents))
	for i, t := range st.Torrents {
		hashes[i] = t.Hash
	}
	deleted, err := e.deps.Torrents.Delete(ctx, hashes, true)
	e.audit(ctx, AuditEvent{
		Conversation: p.conv,
		Action:       "qb_delete_unregistered",
		Target:       cmp.Or(st.Category, "all"),
		Result:       fmt.Sprintf("deleted=%d", deleted),
		Err:          err,
	})
	if err != nil {
		return fail(msgQBDeleteError, err)
	}
	e.finish(ctx, p.conv, st, chat.Text(fmt.Sprintf("✅ Deleted %d unregistered torrent(s).\nApprox freed: %s",
		deleted, format.BytesDecimal(torrentBytes(st.Torrents)))))
	return nil
}

func torrentBytes(ts []qbittorrent.Torrent) int64 {
	var n int64
	for _, t := range ts {
		n += t.Size
	}
	return n
}
