package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("RINKO_CONFIG", "")
	t.Chdir(t.TempDir())
	t.Setenv("TG_BOT_TOKEN", "123:abc")
	t.Setenv("TG_ALLOWED_CHAT_IDS", "42, 7,42")
	t.Setenv("ADMIN_CHAT_ID", "42")
	t.Setenv("SONARR_URL", "http://sonarr:8989")
	t.Setenv("NAS_SHARE_ROOTS", "/share/TV, /share/Movies,")
	t.Setenv("OPTIMIZE_MIN_SIZE_GB", "30")
	t.Setenv("OPTIMIZE_TARGET_PROFILE", "HD-1080p")
	t.Setenv("OPTIMIZE_TV_TARGET_PROFILE", "HD-720p")
	t.Setenv("PENDING_TTL", "15m")

	v, err := newViper()
	if err != nil {
		t.Fatalf("newViper: %v", err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if diff := cmp.Diff([]int64{7, 42}, cfg.Telegram.AllowedChatIDs); diff != "" {
		t.Errorf("allowed chats (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/share/TV", "/share/Movies"}, cfg.Workflow.ShareRoots); diff != "" {
		t.Errorf("share roots (-want +got):\n%s", diff)
	}
	if cfg.Sonarr.URL != "http://sonarr:8989" || cfg.AdminChatID != "42" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Workflow.OptimizeMinSizeGB != 30 || cfg.Workflow.OptimizeTVMinSizeGB != 30 {
		t.Errorf("min sizes = %v / %v", cfg.Workflow.OptimizeMinSizeGB, cfg.Workflow.OptimizeTVMinSizeGB)
	}
	if cfg.Workflow.OptimizeMovieProfile != "HD-1080p" || cfg.Workflow.OptimizeTVProfile != "HD-720p" {
		t.Errorf("profiles = %q / %q", cfg.Workflow.OptimizeMovieProfile, cfg.Workflow.OptimizeTVProfile)
	}
	if cfg.HTTPAddr != ":8080" || cfg.NAS.SSHPort != 22 || cfg.PendingTTL != 15*time.Minute {
		t.Errorf("defaults: addr %q, ssh port %d, ttl %v", cfg.HTTPAddr, cfg.NAS.SSHPort, cfg.PendingTTL)
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rinko.yaml")
	body := strings.Join([]string{
		"matrix_homeserver: https://matrix.example.org",
		"matrix_user_id: \"@rinko:example.org\"",
		"matrix_access_token: syt_token",
		"matrix_rooms: \"!a:example.org,!b:example.org\"",
		"matrix_admin_room: \"!a:example.org\"",
		"plex_url: http://plex:32400",
		"optimize_tv_min_size_gb: 25",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RINKO_CONFIG", path)
	t.Setenv("TG_BOT_TOKEN", "")
	// The environment wins over the file.
	t.Setenv("PLEX_URL", "http://plex.lan:32400")

	v, err := newViper()
	if err != nil {
		t.Fatalf("newViper: %v", err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if diff := cmp.Diff([]string{"!a:example.org", "!b:example.org"}, cfg.Matrix.Rooms); diff != "" {
		t.Errorf("rooms (-want +got):\n%s", diff)
	}
	if cfg.MatrixAdminRoom != "!a:example.org" || cfg.Matrix.UserID != "@rinko:example.org" {
		t.Errorf("matrix = %+v, admin room %q", cfg.Matrix, cfg.MatrixAdminRoom)
	}
	if cfg.Plex.BaseURL != "http://plex.lan:32400" {
		t.Errorf("plex url = %q", cfg.Plex.BaseURL)
	}
	if cfg.Workflow.OptimizeMinSizeGB != 40 || cfg.Workflow.OptimizeTVMinSizeGB != 25 {
		t.Errorf("min sizes = %v / %v", cfg.Workflow.OptimizeMinSizeGB, cfg.Workflow.OptimizeTVMinSizeGB)
	}
}

func TestLoadConfig_RequiresTransport(t *testing.T) {
	t.Setenv("RINKO_CONFIG", "")
	t.Chdir(t.TempDir())
	t.Setenv("TG_BOT_TOKEN", "")
	t.Setenv("MATRIX_HOMESERVER", "")

	v, err := newViper()
	if err != nil {
		t.Fatalf("newViper: %v", err)
	}
	if _, err := loadConfig(v); err == nil {
		t.Fatal("expected an error without a chat transport")
	}

	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	if _, err := loadConfig(v); err == nil || !strings.Contains(err.Error(), "MATRIX_USER_ID") {
		t.Errorf("err = %v, want a missing MATRIX_USER_ID error", err)
	}
}
