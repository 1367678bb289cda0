package nas

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"
)

// Local operates on share roots mounted into the local filesystem.
type Local struct{}

var _ Backend = Local{}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

// DiscoverBins accepts a root that is itself a bin, a share containing a
// bin, or a volume whose immediate subdirectories are shares.
func (Local) DiscoverBins(ctx context.Context, roots []string) ([]Bin, error) {
	seen := map[string]bool{}
	var bins []Bin
	add := func(share, p string) {
		if seen[p] {
			return
		}
		seen[p] = true
		bins = append(bins, Bin{Share: share, Path: p})
	}

	for _, raw := range roots {
		if raw == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		root, err := filepath.Abs(raw)
		if err != nil || !isDir(root) {
			continue
		}
		if filepath.Base(root) == RecycleDirName {
			add(shareName(root), root)
			continue
		}
		if direct := filepath.Join(root, RecycleDirName); isDir(direct) {
			add(filepath.Base(root), direct)
			continue
		}
		children, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("nas: read %s: %w", root, err)
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			if bin := filepath.Join(root, child.Name(), RecycleDirName); isDir(bin) {
				add(child.Name(), bin)
			}
		}
	}
	return bins, nil
}

func walkSize(ctx context.Context, p string) (int64, int, error) {
	var bytes int64
	var files int
	err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		files++
		return nil
	})
	return bytes, files, err
}

// Summarize walks every entry of the bin.
func (Local) Summarize(ctx context.Context, binPath string, previewLimit int) (Summary, error) {
	dirents, err := os.ReadDir(binPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Summary{}, ErrBinMissing
	}
	if err != nil {
		return Summary{}, fmt.Errorf("nas: read %s: %w", binPath, err)
	}

	var s Summary
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		bytes, files, err := walkSize(ctx, filepath.Join(binPath, d.Name()))
		if err != nil {
			return Summary{}, fmt.Errorf("nas: walk %s: %w", d.Name(), err)
		}
		s.TotalBytes += bytes
		s.TotalFiles += files
		entries = append(entries, Entry{Name: d.Name(), Bytes: bytes, Files: files})
	}
	slices.SortStableFunc(entries, func(a, b Entry) int { return cmp.Compare(b.Bytes, a.Bytes) })
	s.Entries = len(entries)
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	s.Preview = entries[:min(previewLimit, len(entries))]
	return s, nil
}

// Empty removes every entry in the bin, keeping the bin itself.
func (Local) Empty(ctx context.Context, binPath string) (int, error) {
	dirents, err := os.ReadDir(binPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("nas: read %s: %w", binPath, err)
	}
	removed := 0
	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.RemoveAll(filepath.Join(binPath, d.Name())); err != nil {
			return removed, fmt.Errorf("nas: remove %s: %w", d.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Storage reports filesystem usage for each root via statfs. Roots that
// cannot be inspected are logged and skipped.
func (Local) Storage(ctx context.Context, roots []string) ([]Usage, error) {
	var out []Usage
	for _, root := range roots {
		if root == "" {
			continue
		}
		var st unix.Statfs_t
		if err := unix.Statfs(root, &st); err != nil {
			slog.Warn("nas: statfs failed", "path", root, "err", err)
			continue
		}
		bsize := uint64(st.Bsize)
		total := st.Blocks * bsize
		free := st.Bfree * bsize
		out = append(out, Usage{
			Path:       root,
			TotalBytes: total,
			UsedBytes:  total - free,
			AvailBytes: st.Bavail * bsize,
		})
	}
	return out, nil
}
