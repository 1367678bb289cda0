package nas_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/Rinko/internal/rinko/nas"
)

func writeFile(t *testing.T, p string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocal_DiscoverBins(t *testing.T) {
	vol := t.TempDir()
	writeFile(t, filepath.Join(vol, "Movies", nas.RecycleDirName, "a.mkv"), 1)
	writeFile(t, filepath.Join(vol, "TV", nas.RecycleDirName, "b.mkv"), 1)
	writeFile(t, filepath.Join(vol, "Photos", "c.jpg"), 1)

	direct := t.TempDir()
	writeFile(t, filepath.Join(direct, nas.RecycleDirName, "x"), 1)

	ctx := context.Background()
	bins, err := nas.Local{}.DiscoverBins(ctx, []string{vol, direct, filepath.Join(vol, "TV", nas.RecycleDirName), "/does/not/exist", ""})
	if err != nil {
		t.Fatalf("DiscoverBins: %v", err)
	}
	want := []nas.Bin{
		{Share: "Movies", Path: filepath.Join(vol, "Movies", nas.RecycleDirName)},
		{Share: "TV", Path: filepath.Join(vol, "TV", nas.RecycleDirName)},
		{Share: filepath.Base(direct), Path: filepath.Join(direct, nas.RecycleDirName)},
	}
	if diff := cmp.Diff(want, bins); diff != "" {
		t.Errorf("bins (-want +got):\n%s", diff)
	}
}

func TestLocal_SummarizeAndEmpty(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "Share", nas.RecycleDirName)
	writeFile(t, filepath.Join(bin, "small.txt"), 10)
	writeFile(t, filepath.Join(bin, "dir", "one.bin"), 300)
	writeFile(t, filepath.Join(bin, "dir", "sub", "two.bin"), 200)
	writeFile(t, filepath.Join(bin, "mid.bin"), 100)

	ctx := context.Background()
	s, err := nas.Local{}.Summarize(ctx, bin, 2)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.TotalBytes != 610 || s.TotalFiles != 4 || s.Entries != 3 {
		t.Errorf("summary = %+v", s)
	}
	want := []nas.Entry{{Name: "dir", Bytes: 500, Files: 2}, {Name: "mid.bin", Bytes: 100, Files: 1}}
	if diff := cmp.Diff(want, s.Preview); diff != "" {
		t.Errorf("preview (-want +got):\n%s", diff)
	}

	n, err := nas.Local{}.Empty(ctx, bin)
	if err != nil {
		t.Fatalf("Empty: %v", err)
	}
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
	left, _ := os.ReadDir(bin)
	if len(left) != 0 {
		t.Errorf("bin not empty: %v", left)
	}
	if _, err := os.Stat(bin); err != nil {
		t.Errorf("bin itself was removed: %v", err)
	}
}

func TestLocal_SummarizeMissing(t *testing.T) {
	_, err := nas.Local{}.Summarize(context.Background(), filepath.Join(t.TempDir(), "gone"), 5)
	if !errors.Is(err, nas.ErrBinMissing) {
		t.Fatalf("expected ErrBinMissing, got %v", err)
	}
}

func TestLocal_Storage(t *testing.T) {
	dir := t.TempDir()
	usages, err := nas.Local{}.Storage(context.Background(), []string{dir, filepath.Join(dir, "missing")})
	if err != nil {
		t.Fatalf("Storage: %v", err)
	}
	if len(usages) != 1 || usages[0].Path != dir || usages[0].TotalBytes == 0 {
		t.Fatalf("usages = %+v", usages)
	}
}

type scriptedRunner struct {
	commands []string
	replies  []string
}

func (r *scriptedRunner) Run(_ context.Context, cmd string) (string, error) {
	r.commands = append(r.commands, cmd)
	if len(r.replies) == 0 {
		return "", nil
	}
	out := r.replies[0]
	r.replies = r.replies[1:]
	return out, nil
}

func TestSSH_DiscoverBins(t *testing.T) {
	r := &scriptedRunner{replies: []string{"/share/CACHEDEV1_DATA/Movies/@Recycle\n/share/CACHEDEV1_DATA/TV/@Recycle\n/share/CACHEDEV1_DATA/Movies/@Recycle"}}
	bins, err := nas.NewSSHWithRunner(r).DiscoverBins(context.Background(), []string{"/share/CACHEDEV1_DATA"})
	if err != nil {
		t.Fatal(err)
	}
	want := []nas.Bin{
		{Share: "Movies", Path: "/share/CACHEDEV1_DATA/Movies/@Recycle"},
		{Share: "TV", Path: "/share/CACHEDEV1_DATA/TV/@Recycle"},
	}
	if diff := cmp.Diff(want, bins); diff != "" {
		t.Errorf("bins (-want +got):\n%s", diff)
	}
	if !strings.Contains(r.commands[0], "-maxdepth 2") {
		t.Errorf("command = %q", r.commands[0])
	}
}

func TestSSH_Summarize(t *testing.T) {
	r := &scriptedRunner{replies: []string{"__SUMMARY__:5000:12:2\n__ENTRY__:Old Show S01:4000\n__ENTRY__:notes: draft.txt:1000"}}
	s, err := nas.NewSSHWithRunner(r).Summarize(context.Background(), "/share/TV/@Recycle", 5)
	if err != nil {
		t.Fatal(err)
	}
	want := nas.Summary{
		TotalBytes: 5000, TotalFiles: 12, Entries: 2,
		Preview: []nas.Entry{{Name: "Old Show S01", Bytes: 4000}, {Name: "notes: draft.txt", Bytes: 1000}},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("summary (-want +got):\n%s", diff)
	}

	r = &scriptedRunner{replies: []string{"__MISSING__"}}
	if _, err := nas.NewSSHWithRunner(r).Summarize(context.Background(), "/x", 5); !errors.Is(err, nas.ErrBinMissing) {
		t.Errorf("expected ErrBinMissing, got %v", err)
	}
}

func TestSSH_Empty(t *testing.T) {
	r := &scriptedRunner{replies: []string{"__REMOVED__:7"}}
	n, err := nas.NewSSHWithRunner(r).Empty(context.Background(), "/share/it's/@Recycle")
	if err != nil || n != 7 {
		t.Fatalf("Empty = %d, %v", n, err)
	}
	body := shellBody(t, r.commands[0])
	for _, want := range []string{
		`path='/share/it'\''s/@Recycle'`,
		`rm -rf "$path"/* "$path"/.[!.]* "$path"/..?*`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("script body missing %q:\n%s", want, body)
		}
	}
}

// shellBody undoes the outer /bin/sh -c quoting and returns the script.
func shellBody(t *testing.T, cmd string) string {
	t.Helper()
	const prefix = "/bin/sh -c '"
	if !strings.HasPrefix(cmd, prefix) || !strings.HasSuffix(cmd, "'") {
		t.Fatalf("not a quoted sh -c command: %q", cmd)
	}
	quoted := strings.TrimSuffix(strings.TrimPrefix(cmd, prefix), "'")
	return strings.ReplaceAll(quoted, `'\''`, "'")
}

func TestSSH_StorageFallback(t *testing.T) {
	df := "Filesystem 1B-blocks Used Available Capacity Mounted on\n" +
		"/dev/md0 1000 600 400 60% /share/CACHEDEV1_DATA\n" +
		"tmpfs 10 1 9 10% /tmp\n"
	r := &scriptedRunner{replies: []string{"", df}}
	usages, err := nas.NewSSHWithRunner(r).Storage(context.Background(), []string{"/share/CACHEDEV1_DATA"})
	if err != nil {
		t.Fatal(err)
	}
	if len(usages) != 1 || usages[0].Path != "/share/CACHEDEV1_DATA" || usages[0].Percent() != 60 || usages[0].Free() != 400 {
		t.Fatalf("usages = %+v", usages)
	}
	if len(r.commands) != 2 {
		t.Errorf("expected fallback df, commands = %v", r.commands)
	}
}

func TestUsage_PercentClamps(t *testing.T) {
	if got := (nas.Usage{UsedPercent: 140}).Percent(); got != 100 {
		t.Errorf("Percent = %d", got)
	}
	if got := (nas.Usage{TotalBytes: 3, UsedBytes: 1}).Percent(); got != 33 {
		t.Errorf("Percent = %d", got)
	}
}
