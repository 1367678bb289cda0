// Package config is the runtime key/value override table changed through
// /config. Values set here take precedence over the environment defaults
// for the few knobs listed in Keys.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/internal/rinko/store"
)

// ErrNotFound is returned by Get when the requested key does not exist.
var ErrNotFound = errors.New("config: key not found")

// ErrUnknownKey is returned for keys outside the allowlist.
var ErrUnknownKey = errors.New("config: unknown key")

// Key describes one tunable.
type Key struct {
	Name string
	Help string
	// Numeric keys must hold a positive number.
	Numeric bool
}

// Keys is the allowlist, in display order.
var Keys = []Key{
	{Name: "optimize.min-size-gb", Help: "minimum movie size for optimize, in GB", Numeric: true},
	{Name: "optimize.tv-min-size-gb", Help: "minimum show size for optimize, in GB", Numeric: true},
	{Name: "optimize.movie-profile", Help: "Radarr profile movies are switched to"},
	{Name: "optimize.tv-profile", Help: "Sonarr profile shows are switched to"},
	{Name: "nlp.model", Help: "classifier model name"},
}

// LookupKey returns the allowlisted key called name.
func LookupKey(name string) (Key, bool) {
	for _, k := range Keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

// KeyNames lists the allowlist for error messages.
func KeyNames() string {
	names := make([]string, len(Keys))
	for i, k := range Keys {
		names[i] = "`" + k.Name + "`"
	}
	return strings.Join(names, ", ")
}

// Validate checks that key is allowlisted and value fits it.
func Validate(key, value string) error {
	k, ok := LookupKey(key)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("config: %s needs a value", key)
	}
	if k.Numeric {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("config: %s must be a positive number, got %q", key, value)
		}
	}
	return nil
}

// Store is the read/write interface for the runtime configuration table.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set creates or overwrites key after Validate accepts it.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every stored pair; never nil.
	List(ctx context.Context) (map[string]string, error)
	// Lookup is Get for callers that fall back to a default: any error,
	// including a missing key, reports false.
	Lookup(ctx context.Context, key string) (string, bool)
}

type sqliteStore struct {
	db *store.Store
}

// New returns a Store over the config table created by the store
// migrations.
func New(db *store.Store) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config: get %q: %w", key, err)
	}
	return value, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	if err := Validate(key, value); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.DB().ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("config: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("config: list: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: list scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: list rows: %w", err)
	}
	return result, nil
}

func (s *sqliteStore) Lookup(ctx context.Context, key string) (string, bool) {
	v, err := s.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("config: lookup failed, using default", "key", key, "err", err)
		}
		return "", false
	}
	return v, true
}
