package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// SnapshotStore keeps one opaque blob per room. Writes are best effort:
// rooms log failures and keep playing from memory.
type SnapshotStore interface {
	Put(ctx context.Context, roomID string, blob []byte) error
	Get(ctx context.Context, roomID string) ([]byte, error)
	Delete(ctx context.Context, roomID string) error
	Close() error
}

var ErrSnapshotNotFound = errors.New("snapshot not found")

// openStore picks the backend from the DSN: postgres URLs go to pgx,
// anything else is treated as a sqlite DSN.
func openStore(ctx context.Context, dsn string) (SnapshotStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return openPostgresStore(ctx, dsn)
	}
	return openSQLiteStore(dsn)
}

type sqliteStore struct {
	db *sqlx.DB
}

func openSQLiteStore(dsn string) (*sqliteStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	s := &sqliteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS room_snapshot (
		room_id TEXT PRIMARY KEY,
		state BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	log.Debug().Msg("sqlite snapshot store initialized")
	return nil
}

func (s *sqliteStore) Put(ctx context.Context, roomID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_snapshot (room_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		roomID, blob)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, `SELECT state FROM room_snapshot WHERE room_id = ?`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	return blob, err
}

func (s *sqliteStore) Delete(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM room_snapshot WHERE room_id = ?`, roomID)
	return err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
