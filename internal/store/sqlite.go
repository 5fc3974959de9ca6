// Package store is the SQLite-backed persistence collaborator of the realtime
// core: id-keyed lookups plus the few rows the core writes (presence status,
// active voice connections, direct-message contacts).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/vidtalk/internal/core"
	"github.com/dkeye/vidtalk/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// maxBatch bounds the number of placeholders in one IN (...) lookup.
const maxBatch = 500

type DB struct {
	conn *sql.DB
}

var _ core.Store = (*DB)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info().Str("module", "store").Str("path", path).Msg("database ready")
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

// Conn exposes the pool for the HTTP glue that owns the CRUD routes.
func (db *DB) Conn() *sql.DB { return db.conn }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		avatar TEXT,
		status TEXT DEFAULT 'offline',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		icon TEXT,
		owner_id TEXT NOT NULL,
		invite_code TEXT UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS server_members (
		server_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT DEFAULT 'member',
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (server_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT CHECK (type IN ('text', 'voice')) NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS voice_connections (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		muted BOOLEAN DEFAULT 0,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_voice_connections_user ON voice_connections (user_id)`,
	`CREATE TABLE IF NOT EXISTS direct_message_contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		last_interaction TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, contact_id)
	)`,
}

func (db *DB) migrate() error {
	for _, stmt := range schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// ResetEphemeral clears rows that mirror in-memory state, which is empty
// after a restart.
func (db *DB) ResetEphemeral(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM voice_connections`); err != nil {
		return fmt.Errorf("failed to reset voice connections: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, `UPDATE users SET status = ? WHERE status <> ?`, domain.StatusOffline, domain.StatusOffline); err != nil {
		return fmt.Errorf("failed to reset user status: %w", err)
	}
	return nil
}

func (db *DB) GetChannelByID(ctx context.Context, id domain.ChannelID) (domain.Channel, error) {
	var ch domain.Channel
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, server_id, name, type FROM channels WHERE id = ?`, id,
	).Scan(&ch.ID, &ch.ServerID, &ch.Name, &ch.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, fmt.Errorf("channel %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Channel{}, fmt.Errorf("failed to get channel %s: %w", id, err)
	}
	return ch, nil
}

func (db *DB) IsServerMember(ctx context.Context, server domain.ServerID, user domain.UserID) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?`, server, user,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

// UsersByIDs fetches users in batches; unknown ids are skipped.
func (db *DB) UsersByIDs(ctx context.Context, ids []domain.UserID) ([]domain.User, error) {
	out := make([]domain.User, 0, len(ids))
	for start := 0; start < len(ids); start += maxBatch {
		end := min(start+maxBatch, len(ids))
		batch := ids[start:end]

		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		rows, err := db.conn.QueryContext(ctx,
			`SELECT id, username, COALESCE(avatar, '') FROM users WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch users: %w", err)
		}
		for rows.Next() {
			var u domain.User
			if err := rows.Scan(&u.ID, &u.Username, &u.Avatar); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan user: %w", err)
			}
			out = append(out, u)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch users: %w", err)
		}
	}
	return out, nil
}

func (db *DB) SetUserStatus(ctx context.Context, user domain.UserID, status domain.Status) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, status, user); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return nil
}

func voiceRowID(channel domain.ChannelID, user domain.UserID) string {
	return string(user) + "-" + string(channel)
}

func (db *DB) UpsertVoiceConnection(ctx context.Context, channel domain.ChannelID, user domain.UserID, muted bool) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO voice_connections (id, channel_id, user_id, muted) VALUES (?, ?, ?, ?)`,
		voiceRowID(channel, user), channel, user, muted)
	if err != nil {
		return fmt.Errorf("failed to store voice connection: %w", err)
	}
	return nil
}

func (db *DB) SetVoiceMuted(ctx context.Context, channel domain.ChannelID, user domain.UserID, muted bool) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE voice_connections SET muted = ? WHERE channel_id = ? AND user_id = ?`, muted, channel, user)
	if err != nil {
		return fmt.Errorf("failed to update voice mute: %w", err)
	}
	return nil
}

func (db *DB) DeleteVoiceConnection(ctx context.Context, channel domain.ChannelID, user domain.UserID) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM voice_connections WHERE channel_id = ? AND user_id = ?`, channel, user)
	if err != nil {
		return fmt.Errorf("failed to delete voice connection: %w", err)
	}
	return nil
}

func (db *DB) DeleteVoiceConnectionsForUser(ctx context.Context, user domain.UserID) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM voice_connections WHERE user_id = ?`, user); err != nil {
		return fmt.Errorf("failed to delete voice connections: %w", err)
	}
	return nil
}

func (db *DB) TouchDirectContact(ctx context.Context, user, contact domain.UserID) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO direct_message_contacts (user_id, contact_id, last_interaction) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, contact_id) DO UPDATE SET last_interaction = excluded.last_interaction`,
		user, contact, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to touch contact: %w", err)
	}
	return nil
}
