package nas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoCredentials is returned when neither a password nor a key is set.
var ErrNoCredentials = errors.New("nas: SSH password or private key is required")

// Runner executes a shell command on the NAS and returns its stdout.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// SSH drives the NAS through shell commands.
type SSH struct {
	runner Runner
}

var _ Backend = (*SSH)(nil)

// NewSSH returns an SSH backend that dials cfg's host for every command.
func NewSSH(cfg Config) *SSH {
	return &SSH{runner: &sshRunner{cfg: cfg}}
}

// NewSSHWithRunner returns an SSH backend using r, for tests and for
// callers that already hold a connection.
func NewSSHWithRunner(r Runner) *SSH {
	return &SSH{runner: r}
}

func script(body string) string {
	return "/bin/sh -c " + shellQuote(strings.TrimSpace(body))
}

// DiscoverBins runs find under every root, two levels deep.
func (s *SSH) DiscoverBins(ctx context.Context, roots []string) ([]Bin, error) {
	seen := map[string]bool{}
	var bins []Bin
	for _, root := range roots {
		if root == "" {
			continue
		}
		out, err := s.runner.Run(ctx, script(fmt.Sprintf(`
root=%s
if [ -d "$root" ]; then
  find "$root" -mindepth 1 -maxdepth 2 -type d -name '%s' -print
fi`, shellQuote(root), RecycleDirName)))
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(out, "\n") {
			p := strings.TrimSpace(line)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			bins = append(bins, Bin{Share: shareName(p), Path: p})
		}
	}
	return bins, nil
}

// Summarize reports totals via du and find. The preview lists the first
// entries as ls orders them.
func (s *SSH) Summarize(ctx context.Context, binPath string, previewLimit int) (Summary, error) {
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	out, err := s.runner.Run(ctx, script(fmt.Sprintf(`
path=%s
if [ ! -d "$path" ]; then
  echo "__MISSING__"
  exit 0
fi
total_bytes=$(du -sb "$path" | cut -f1)
total_files=$(find "$path" -type f | wc -l | tr -d '[:space:]')
entry_count=$(ls -A "$path" 2>/dev/null | wc -l | tr -d '[:space:]')
echo "__SUMMARY__:$total_bytes:$total_files:$entry_count"
ls -A "$path" 2>/dev/null | head -n %d | while IFS= read -r entry; do
  size=$(du -sb "$path/$entry" | cut -f1)
  printf "__ENTRY__:%%s:%%s\n" "$entry" "$size"
done`, shellQuote(binPath), previewLimit)))
	if err != nil {
		return Summary{}, err
	}
	return parseSummary(out)
}

// Empty removes the bin's contents, dotfiles included.
func (s *SSH) Empty(ctx context.Context, binPath string) (int, error) {
	out, err := s.runner.Run(ctx, script(fmt.Sprintf(`
path=%s
if [ ! -d "$path" ]; then
  echo "__REMOVED__:0"
  exit 0
fi
count=$(ls -A "$path" 2>/dev/null | wc -l | tr -d '[:space:]')
rm -rf "$path"/* "$path"/.[!.]* "$path"/..?* 2>/dev/null
echo "__REMOVED__:$count"`, shellQuote(binPath))))
	if err != nil {
		return 0, err
	}
	return parseRemoved(out), nil
}

// Storage runs df over the roots. When df reports nothing for them it falls
// back to every mount that lies under one of the roots.
func (s *SSH) Storage(ctx context.Context, roots []string) ([]Usage, error) {
	quoted := make([]string, 0, len(roots))
	for _, r := range roots {
		quoted = append(quoted, shellQuote(r))
	}
	out, err := s.runner.Run(ctx, "/bin/df -P -B1 "+strings.Join(quoted, " "))
	if err != nil {
		return nil, err
	}
	if usages := parseDF(out); len(usages) > 0 {
		return usages, nil
	}

	slog.Warn("nas: df returned nothing for roots, scanning all mounts", "roots", roots)
	out, err = s.runner.Run(ctx, "/bin/df -P -B1")
	if err != nil {
		return nil, err
	}
	var filtered []Usage
	for _, u := range parseDF(out) {
		for _, r := range roots {
			if strings.HasPrefix(u.Path, r) {
				filtered = append(filtered, u)
				break
			}
		}
	}
	return filtered, nil
}

type sshRunner struct {
	cfg Config
}

func (r *sshRunner) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch {
	case r.cfg.SSHPrivateKey != "":
		key := strings.ReplaceAll(r.cfg.SSHPrivateKey, `\n`, "\n")
		signer, err := ssh.ParsePrivateKey([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("nas: parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	case r.cfg.SSHPassword != "":
		auth = append(auth, ssh.Password(r.cfg.SSHPassword))
	default:
		return nil, ErrNoCredentials
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if r.cfg.SSHKnownHosts != "" {
		cb, err := knownhosts.New(r.cfg.SSHKnownHosts)
		if err != nil {
			return nil, fmt.Errorf("nas: load known_hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            r.cfg.SSHUser,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         15 * time.Second,
	}, nil
}

// Run dials, runs command in a fresh session and hangs up. A non-zero exit
// status is reported with the command's stderr.
func (r *sshRunner) Run(ctx context.Context, command string) (string, error) {
	cfg, err := r.clientConfig()
	if err != nil {
		return "", err
	}
	port := r.cfg.SSHPort
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(r.cfg.SSHHost, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("nas: dial %s: %w", addr, err)
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("nas: ssh handshake: %w", err)
	}
	client := ssh.NewClient(sc, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("nas: ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		client.Close()
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return "", fmt.Errorf("nas: remote command failed: %s", msg)
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}
