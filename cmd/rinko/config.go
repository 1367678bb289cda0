package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bdobrica/Rinko/common/environment"
	"github.com/bdobrica/Rinko/internal/rinko/app"
	"github.com/bdobrica/Rinko/internal/rinko/matrix"
	"github.com/bdobrica/Rinko/internal/rinko/nas"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/qbittorrent"
	"github.com/bdobrica/Rinko/internal/rinko/telegram"
	"github.com/bdobrica/Rinko/internal/rinko/workflow"
)

// defaultConfigFile is read when RINKO_CONFIG is unset and the file exists.
const defaultConfigFile = "rinko.yaml"

// newViper returns a viper instance reading the environment, layered over
// the YAML file named by RINKO_CONFIG (or ./rinko.yaml when present). File
// keys are the lower-case variable names, e.g. sonarr_url.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DATABASE_PATH", "./rinko.db")
	v.SetDefault("CACHE_PATH", "./rinko-cache.db")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("NAS_SSH_PORT", 22)
	v.SetDefault("OPTIMIZE_MIN_SIZE_GB", 40)
	v.SetDefault("NLP_RATE_LIMIT", nlp.DefaultRateLimit)
	v.SetDefault("PENDING_TTL", time.Hour)

	if path := environment.StringOr("RINKO_CONFIG", ""); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName(strings.TrimSuffix(defaultConfigFile, filepath.Ext(defaultConfigFile)))
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; the environment is enough.
	}
	return v, nil
}

// loadConfig maps the settings onto app.Config.
func loadConfig(v *viper.Viper) (app.Config, error) {
	dbPath := v.GetString("DATABASE_PATH")

	chatIDs, err := telegram.ParseChatIDs(v.GetString("TG_ALLOWED_CHAT_IDS"))
	if err != nil {
		return app.Config{}, fmt.Errorf("TG_ALLOWED_CHAT_IDS: %w", err)
	}

	shareRoots := splitList(v.GetString("NAS_SHARE_ROOTS"))
	if len(shareRoots) == 0 {
		if recycle := v.GetString("NAS_RECYCLE_PATH"); recycle != "" {
			shareRoots = []string{recycle}
		}
	}

	minSize := v.GetFloat64("OPTIMIZE_MIN_SIZE_GB")
	tvMinSize := v.GetFloat64("OPTIMIZE_TV_MIN_SIZE_GB")
	if tvMinSize <= 0 {
		tvMinSize = minSize
	}

	cfg := app.Config{
		DatabasePath: dbPath,
		CachePath:    v.GetString("CACHE_PATH"),
		HTTPAddr:     v.GetString("HTTP_ADDR"),

		Telegram: telegram.Config{
			Token:          v.GetString("TG_BOT_TOKEN"),
			AllowedChatIDs: chatIDs,
			OffsetFile:     filepath.Join(filepath.Dir(dbPath), "telegram.offset"),
		},
		AdminChatID: v.GetString("ADMIN_CHAT_ID"),
		Matrix: matrix.Config{
			Homeserver:  v.GetString("MATRIX_HOMESERVER"),
			UserID:      v.GetString("MATRIX_USER_ID"),
			AccessToken: v.GetString("MATRIX_ACCESS_TOKEN"),
			Rooms:       splitList(v.GetString("MATRIX_ROOMS")),
		},
		MatrixAdminRoom: v.GetString("MATRIX_ADMIN_ROOM"),

		NLP: nlp.Config{
			APIKey:  v.GetString("OPENAI_API_KEY"),
			BaseURL: v.GetString("OPENAI_BASE_URL"),
			Model:   v.GetString("OPENAI_MODEL"),
		},
		NLPRateLimit: v.GetInt("NLP_RATE_LIMIT"),

		Sonarr:     app.Service{URL: v.GetString("SONARR_URL"), APIKey: v.GetString("SONARR_API_KEY")},
		Radarr:     app.Service{URL: v.GetString("RADARR_URL"), APIKey: v.GetString("RADARR_API_KEY")},
		TMDBAPIKey: v.GetString("TMDB_API_KEY"),
		Plex: plex.Config{
			BaseURL:   v.GetString("PLEX_URL"),
			Token:     v.GetString("PLEX_TOKEN"),
			TVSection: v.GetString("PLEX_TV_SECTION"),
		},
		QBittorrent: qbittorrent.Config{
			BaseURL:  v.GetString("QBITTORRENT_URL"),
			Username: v.GetString("QBITTORRENT_USERNAME"),
			Password: v.GetString("QBITTORRENT_PASSWORD"),
		},
		NAS: nas.Config{
			SSHHost:       v.GetString("NAS_SSH_HOST"),
			SSHPort:       v.GetInt("NAS_SSH_PORT"),
			SSHUser:       v.GetString("NAS_SSH_USERNAME"),
			SSHPassword:   v.GetString("NAS_SSH_PASSWORD"),
			SSHPrivateKey: v.GetString("NAS_SSH_PRIVATE_KEY"),
			SSHKnownHosts: v.GetString("NAS_SSH_KNOWN_HOSTS"),
		},

		Workflow: workflow.Settings{
			SonarrRoot:    v.GetString("SONARR_DEFAULT_ROOT"),
			SonarrProfile: v.GetString("SONARR_DEFAULT_PROFILE"),
			RadarrRoot:    v.GetString("RADARR_DEFAULT_ROOT"),
			RadarrProfile: v.GetString("RADARR_DEFAULT_PROFILE"),

			ShareRoots:    shareRoots,
			TVCategory:    v.GetString("QBITTORRENT_TV_CATEGORY"),
			MovieCategory: v.GetString("QBITTORRENT_MOVIE_CATEGORY"),

			OptimizeMinSizeGB:    minSize,
			OptimizeTVMinSizeGB:  tvMinSize,
			OptimizeMovieProfile: firstSet(v, "OPTIMIZE_MOVIE_TARGET_PROFILE", "OPTIMIZE_TARGET_PROFILE"),
			OptimizeTVProfile:    firstSet(v, "OPTIMIZE_TV_TARGET_PROFILE", "OPTIMIZE_TARGET_PROFILE"),
		},
		PendingTTL: v.GetDuration("PENDING_TTL"),
	}

	if cfg.Telegram.Token == "" && cfg.Matrix.Homeserver == "" {
		return app.Config{}, errors.New("TG_BOT_TOKEN or MATRIX_HOMESERVER is required")
	}
	if cfg.Telegram.Token == "" {
		if cfg.Matrix.UserID == "" || cfg.Matrix.AccessToken == "" {
			return app.Config{}, errors.New("MATRIX_USER_ID and MATRIX_ACCESS_TOKEN are required with MATRIX_HOMESERVER")
		}
		if len(cfg.Matrix.Rooms) == 0 {
			return app.Config{}, errors.New("MATRIX_ROOMS is required with MATRIX_HOMESERVER")
		}
	}
	return cfg, nil
}

// firstSet returns the value of the first key that is set.
func firstSet(v *viper.Viper, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.GetString(k)); s != "" {
			return s
		}
	}
	return ""
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
