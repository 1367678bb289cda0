package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/Rinko/common/trace"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/format"
	"github.com/bdobrica/Rinko/internal/rinko/nas"
	"github.com/bdobrica/Rinko/internal/rinko/pending"
)

const (
	actNASAll    = "nas_all"
	actNASBin    = "nas_bin"
	actNASCancel = "nas_cancel"
)

const (
	msgNASBinsNotConfigured  = "NAS recycle-bin paths are not configured. Set NAS_SHARE_ROOTS (comma-separated) in your environment."
	msgNASNoBins             = "No recycle-bin directories were found under the configured NAS share roots."
	msgNASAllEmpty           = "All recycle bins are already empty."
	msgNASReadError          = "Unable to read recycle-bin contents. Check NAS connectivity and permissions."
	msgNASEmptyError         = "❌ Could not empty the recycle bins. Check NAS connectivity and permissions."
	msgNASSpaceNotConfigured = "NAS paths are not configured. Set NAS_SHARE_ROOTS (comma-separated)."
	msgNASSpaceEmpty         = "Could not read NAS storage info."
	msgNASSpaceError         = "Unable to check NAS free space. Verify SSH configuration and permissions."

	// nasExamples is how many preview entries each bin lists.
	nasExamples = 3
	barWidth    = 10
)

func (e *Engine) nasReady(ctx context.Context, conv, notConfigured string) bool {
	if e.deps.NAS == nil || len(e.deps.Settings.ShareRoots) == 0 {
		e.say(ctx, conv, notConfigured)
		return false
	}
	return true
}

func (e *Engine) nasEmpty(ctx context.Context, r *request) error {
	if !e.nasReady(ctx, r.conv, msgNASBinsNotConfigured) {
		return nil
	}
	bins, err := e.deps.NAS.DiscoverBins(ctx, e.deps.Settings.ShareRoots)
	if err != nil {
		return fail(msgNASReadError, err)
	}
	if len(bins) == 0 {
		e.say(ctx, r.conv, msgNASNoBins)
		return nil
	}

	var reports []nas.Report
	for i, bin := range bins {
		e.progress(ctx, r, fmt.Sprintf("Inspecting NAS recycle bins… (%d/%d)\n%s", i+1, len(bins), bin.Share))
		sum, err := e.deps.NAS.Summarize(ctx, bin.Path, nas.DefaultPreviewLimit)
		if err != nil {
			return fail(msgNASReadError, fmt.Errorf("workflow: summarize %s: %w", bin.Path, err))
		}
		if sum.Entries > 0 {
			reports = append(reports, nas.Report{Bin: bin, Summary: sum})
		}
	}
	if len(reports) == 0 {
		e.say(ctx, r.conv, msgNASAllEmpty)
		return nil
	}
	st := &pending.NASEmpty{Bins: reports}
	return e.present(ctx, r.conv, st, nasSummary(reports, ""))
}

// nasSummary renders the bins with one button per bin. lead, when set, is
// the result of a previous action shown above the summary.
func nasSummary(reports []nas.Report, lead string) chat.Message {
	var files int
	var total int64
	for _, rep := range reports {
		files += rep.Summary.TotalFiles
		total += rep.Summary.TotalBytes
	}

	var lines []string
	if lead != "" {
		lines = append(lines, lead, "")
	}
	lines = append(lines,
		"🗑 *NAS Recycle Bins*",
		fmt.Sprintf("Detected bins: %d", len(reports)),
		fmt.Sprintf("Total files: %d", files),
		fmt.Sprintf("Approximate size: *%s*", format.Bytes(total)),
		"",
	)
	buttons := [][]chat.Button{{chat.ActionButton("🧹 Empty all", actNASAll)}}
	for i, rep := range reports {
		lines = append(lines,
			fmt.Sprintf("%d. *%s*", i+1, rep.Share),
			fmt.Sprintf("   Path: `%s`", rep.Path),
			fmt.Sprintf("   Entries: %d (%d files)", rep.Summary.Entries, rep.Summary.TotalFiles),
			fmt.Sprintf("   Size: *%s*", format.Bytes(rep.Summary.TotalBytes)),
		)
		if ex := binExamples(rep.Summary.Preview); ex != "" {
			lines = append(lines, ex)
		}
		lines = append(lines, "")
		buttons = append(buttons, []chat.Button{chat.ActionButton("🗑 "+rep.Share, actNASBin, i)})
	}
	lines = append(lines, "Clear everything, pick a specific bin, or cancel. Deletions cannot be undone.")
	buttons = append(buttons, []chat.Button{chat.ActionButton(labelCancel, actNASCancel)})
	return chat.Message{Text: strings.Join(lines, "\n"), Markdown: true, Buttons: buttons}
}

func binExamples(preview []nas.Entry) string {
	if len(preview) == 0 {
		return ""
	}
	parts := make([]string, 0, nasExamples)
	for _, p := range preview[:min(len(preview), nasExamples)] {
		parts = append(parts, fmt.Sprintf("%s (%s)", p.Name, format.Bytes(p.Bytes)))
	}
	return "   Examples: " + strings.Join(parts, ", ")
}

// emptyBins empties each report and returns the entries removed, the bytes
// freed and the shares that failed.
func (e *Engine) emptyBins(ctx context.Context, conv string, reports []nas.Report) (int, int64, []string) {
	log := trace.Logger(ctx, e.log).With("conv", conv)
	var removed int
	var freed int64
	var failed []string
	for _, rep := range reports {
		n, err := e.deps.NAS.Empty(ctx, rep.Path)
		if err != nil {
			log.Warn("workflow: empty recycle bin", "path", rep.Path, "err", err)
			failed = append(failed, rep.Share)
			continue
		}
		removed += n
		freed += rep.Summary.TotalBytes
		e.audit(ctx, AuditEvent{Conversation: conv, Action: "nas_empty", Target: rep.Path, Result: fmt.Sprintf("removed=%d", n)})
	}
	return removed, freed, failed
}

func emptiedText(bins, removed int, freed int64, failed []string) string {
	text := fmt.Sprintf("🧹 Emptied %d recycle %s: removed %d %s (~%s).",
		bins, format.Plural(bins, "bin"), removed, format.Plural(removed, "item"), format.Bytes(freed))
	if len(failed) > 0 {
		text += "\n⚠️ Failed: " + strings.Join(failed, ", ")
	}
	return text
}

func (e *Engine) nasAll(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.NASEmpty)
	if !ok {
		return nil
	}
	removed, freed, failed := e.emptyBins(ctx, p.conv, st.Bins)
	if len(failed) == len(st.Bins) {
		return fail(msgNASEmptyError, errors.New("workflow: every recycle bin failed"))
	}
	e.finish(ctx, p.conv, st, chat.Text(emptiedText(len(st.Bins)-len(failed), removed, freed, failed)))
	return nil
}

// nasBin empties one bin. The summary stays up for the others.
func (e *Engine) nasBin(ctx context.Context, p *press) error {
	st, ok := p.state.(*pending.NASEmpty)
	if !ok {
		return nil
	}
	idx, ok := p.intParam()
	if !ok || idx < 0 || idx >= len(st.Bins) {
		p.answer = "Invalid recycle bin."
		return nil
	}
	rep := st.Bins[idx]
	removed, freed, failed := e.emptyBins(ctx, p.conv, []nas.Report{rep})
	if len(failed) > 0 {
		return fail(msgNASEmptyError, fmt.Errorf("workflow: empty %s failed", rep.Path))
	}
	result := fmt.Sprintf("🧹 Emptied *%s*: removed %d %s (~%s).", rep.Share, removed, format.Plural(removed, "item"), format.Bytes(freed))

	st.Bins = append(st.Bins[:idx:idx], st.Bins[idx+1:]...)
	if len(st.Bins) == 0 {
		e.finish(ctx, p.conv, st, chat.Markdown(result))
		return nil
	}
	return e.update(ctx, p.conv, st, nasSummary(st.Bins, result))
}

func (e *Engine) nasFreeSpace(ctx context.Context, r *request) error {
	if !e.nasReady(ctx, r.conv, msgNASSpaceNotConfigured) {
		return nil
	}
	usage, err := e.deps.NAS.Storage(ctx, e.deps.Settings.ShareRoots)
	if err != nil {
		return fail(msgNASSpaceError, err)
	}
	if len(usage) == 0 {
		e.say(ctx, r.conv, msgNASSpaceEmpty)
		return nil
	}
	lines := []string{"💽 *NAS Storage*"}
	for _, u := range usage {
		lines = append(lines,
			fmt.Sprintf("• `%s`", u.Path),
			fmt.Sprintf("  %s used — %s / %s (free: %s)",
				format.Bar(float64(u.Percent()), barWidth),
				format.BytesDecimal(int64(u.UsedBytes)),
				format.BytesDecimal(int64(u.TotalBytes)),
				format.BytesDecimal(int64(u.Free()))),
		)
	}
	e.send(ctx, r.conv, chat.Markdown(strings.Join(lines, "\n")))
	return nil
}
