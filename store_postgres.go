package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

func openPostgresStore(ctx context.Context, dsn string) (*postgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS room_snapshot (
			room_id TEXT PRIMARY KEY,
			state BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Put(ctx context.Context, roomID string, blob []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_snapshot (room_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (room_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		roomID, blob)
	return err
}

func (s *postgresStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM room_snapshot WHERE room_id = $1`, roomID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	return blob, err
}

func (s *postgresStore) Delete(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM room_snapshot WHERE room_id = $1`, roomID)
	return err
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
