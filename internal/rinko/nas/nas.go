// Package nas inspects QNAP-style network storage: it finds the per-share
// @Recycle directories, summarises and empties them, and reports disk usage
// for the configured share roots. It works either on locally mounted paths
// or over SSH against the NAS itself.
package nas

import (
	"bufio"
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
)

// RecycleDirName is the recycle-bin directory QTS creates in every share.
const RecycleDirName = "@Recycle"

// DefaultPreviewLimit is how many of the largest entries Summarize reports.
const DefaultPreviewLimit = 5

// ErrBinMissing is returned when a recycle bin vanished between discovery
// and use.
var ErrBinMissing = errors.New("nas: recycle bin path does not exist")

// Bin is a discovered recycle bin.
type Bin struct {
	// Share is the name of the share owning the bin.
	Share string
	Path  string
}

// Entry is a top-level item inside a bin.
type Entry struct {
	Name  string
	Bytes int64
	Files int
}

// Summary describes a bin's contents. Preview holds at most the requested
// number of entries, largest first where the backend can sort.
type Summary struct {
	TotalBytes int64
	TotalFiles int
	Entries    int
	Preview    []Entry
}

// Report pairs a bin with its summary.
type Report struct {
	Bin
	Summary Summary
}

// Usage is the capacity of the filesystem holding a path.
type Usage struct {
	Path       string
	TotalBytes uint64
	UsedBytes  uint64
	AvailBytes uint64
	// UsedPercent is reported by df when TotalBytes is unknown.
	UsedPercent int
}

// Free is total minus used, or the available bytes when the total is zero.
func (u Usage) Free() uint64 {
	if u.TotalBytes == 0 {
		return u.AvailBytes
	}
	if u.UsedBytes > u.TotalBytes {
		return 0
	}
	return u.TotalBytes - u.UsedBytes
}

// Percent is the used share of the filesystem, clamped to 0..100.
func (u Usage) Percent() int {
	pct := u.UsedPercent
	if u.TotalBytes > 0 {
		pct = int((u.UsedBytes*100 + u.TotalBytes/2) / u.TotalBytes)
	}
	return min(100, max(0, pct))
}

// Backend is implemented by the local and SSH NAS drivers.
type Backend interface {
	DiscoverBins(ctx context.Context, roots []string) ([]Bin, error)
	Summarize(ctx context.Context, binPath string, previewLimit int) (Summary, error)
	// Empty removes every entry in the bin and returns how many it removed.
	Empty(ctx context.Context, binPath string) (int, error)
	Storage(ctx context.Context, roots []string) ([]Usage, error)
}

// Config selects and configures a backend.
type Config struct {
	SSHHost       string
	SSHPort       int
	SSHUser       string
	SSHPassword   string
	SSHPrivateKey string
	// SSHKnownHosts is a known_hosts file. When empty the host key is not
	// verified.
	SSHKnownHosts string
}

// UseSSH reports whether the config describes a remote NAS.
func (c Config) UseSSH() bool { return c.SSHHost != "" && c.SSHUser != "" }

// New returns the SSH backend when SSH is configured, the local one
// otherwise.
func New(cfg Config) Backend {
	if cfg.UseSSH() {
		return NewSSH(cfg)
	}
	return Local{}
}

// shareName names the share that owns recyclePath.
func shareName(recyclePath string) string {
	return path.Base(path.Dir(path.Clean(recyclePath)))
}

// shellQuote wraps s in single quotes for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// parseDF reads `df -P -B1` output. Rows with fewer than six columns are
// skipped.
func parseDF(out string) []Usage {
	var usages []Usage
	sc := bufio.NewScanner(strings.NewReader(out))
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		total, _ := strconv.ParseUint(fields[1], 10, 64)
		used, _ := strconv.ParseUint(fields[2], 10, 64)
		avail, _ := strconv.ParseUint(fields[3], 10, 64)
		pct, _ := strconv.Atoi(strings.TrimSuffix(fields[4], "%"))
		usages = append(usages, Usage{
			Path:        strings.Join(fields[5:], " "),
			TotalBytes:  total,
			UsedBytes:   used,
			AvailBytes:  avail,
			UsedPercent: pct,
		})
	}
	return usages
}

// parseSummary reads the marker lines printed by the remote summary script.
func parseSummary(out string) (Summary, error) {
	var s Summary
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "__MISSING__":
			return Summary{}, ErrBinMissing
		case strings.HasPrefix(line, "__SUMMARY__:"):
			parts := strings.Split(strings.TrimPrefix(line, "__SUMMARY__:"), ":")
			if len(parts) >= 3 {
				s.TotalBytes, _ = strconv.ParseInt(parts[0], 10, 64)
				s.TotalFiles, _ = strconv.Atoi(parts[1])
				s.Entries, _ = strconv.Atoi(parts[2])
			}
		case strings.HasPrefix(line, "__ENTRY__:"):
			rest := strings.TrimPrefix(line, "__ENTRY__:")
			idx := strings.LastIndex(rest, ":")
			if idx < 0 {
				continue
			}
			size, _ := strconv.ParseInt(rest[idx+1:], 10, 64)
			s.Preview = append(s.Preview, Entry{Name: rest[:idx], Bytes: size})
		}
	}
	return s, sc.Err()
}

// parseRemoved reads the "__REMOVED__:n" marker.
func parseRemoved(out string) int {
	for _, line := range strings.Split(out, "\n") {
		if n, ok := strings.CutPrefix(strings.TrimSpace(line), "__REMOVED__:"); ok {
			v, _ := strconv.Atoi(n)
			return v
		}
	}
	return 0
}
