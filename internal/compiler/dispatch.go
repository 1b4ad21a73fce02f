/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package compiler is the tile compiler (spec §4.4): lists raw slides,
// dispatches each exactly once through a durable queue, and decomposes
// each into a mip-pyramid of tiles with checkpointed resume.
package compiler

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

const (
	// CheckpointMinTiles disables checkpointing for levels with fewer
	// tiles than this (spec §4.4).
	CheckpointMinTiles = 128
	// CheckpointInterval is how often completed_up_to advances mid-level.
	CheckpointInterval = 1024
)

// Store wraps the Postgres dispatch and checkpoint tables (spec §6 SQL
// schema) behind the exactly-once dispatch contract.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS compiler_dispatch (
			key TEXT PRIMARY KEY,
			discovered_at BIGINT NOT NULL,
			dispatched_at BIGINT
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS compiler_tile_progress (
			slide_id UUID NOT NULL,
			level INTEGER NOT NULL,
			completed_up_to INTEGER NOT NULL,
			total_tiles INTEGER NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (slide_id, level)
		)`)
	return err
}

// DispatchOutcome mirrors spec §8 property 5's three cases.
type DispatchOutcome int

const (
	Dispatched DispatchOutcome = iota
	AlreadyDispatched
	PublishFailed
)

// TryDispatchWithPublish implements the exactly-once dispatch transaction
// (spec §8 property 5, S6): upsert the row, lock it, call publish while
// holding the lock, and only then mark dispatched_at. A crash between
// publish and commit leaves the row unmarked so a future attempt
// republishes exactly once.
func (s *Store) TryDispatchWithPublish(ctx context.Context, key string, nowMs int64, publish func() error) (DispatchOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PublishFailed, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO compiler_dispatch (key, discovered_at, dispatched_at)
		VALUES ($1, $2, NULL)
		ON CONFLICT (key) DO NOTHING`, key, nowMs); err != nil {
		return PublishFailed, err
	}

	var dispatchedAt sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT dispatched_at FROM compiler_dispatch WHERE key = $1 FOR UPDATE`, key).Scan(&dispatchedAt); err != nil {
		return PublishFailed, err
	}
	if dispatchedAt.Valid {
		return AlreadyDispatched, nil
	}

	if err := publish(); err != nil {
		return PublishFailed, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE compiler_dispatch SET dispatched_at = $1 WHERE key = $2`, nowMs, key); err != nil {
		return PublishFailed, err
	}
	if err := tx.Commit(); err != nil {
		return PublishFailed, err
	}
	return Dispatched, nil
}

// ListDispatched returns every key that has been published, for the
// process worker to poll in lieu of a dedicated broker (spec §4.4's
// durable queue folds into this table: a dispatched row not yet fully
// decomposed is redelivered on every poll until its checkpoints reach
// completion).
func (s *Store) ListDispatched(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM compiler_dispatch WHERE dispatched_at IS NOT NULL ORDER BY dispatched_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) GetCheckpoint(ctx context.Context, slideID string, level uint32) (int, error) {
	var completed int
	err := s.db.QueryRowContext(ctx, `
		SELECT completed_up_to FROM compiler_tile_progress WHERE slide_id = $1 AND level = $2`, slideID, level).Scan(&completed)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return completed, err
}

func (s *Store) UpdateCheckpoint(ctx context.Context, slideID string, level uint32, completedUpTo, totalTiles int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compiler_tile_progress (slide_id, level, completed_up_to, total_tiles, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slide_id, level) DO UPDATE
		SET completed_up_to = EXCLUDED.completed_up_to,
		    total_tiles = EXCLUDED.total_tiles,
		    updated_at = EXCLUDED.updated_at`,
		slideID, level, completedUpTo, totalTiles, time.Now().UnixMilli())
	return err
}

// MarkLevelComplete keeps the row rather than deleting it, so a restart
// can tell "done" from "never started" (spec §4.4 step 3).
func (s *Store) MarkLevelComplete(ctx context.Context, slideID string, level uint32, totalTiles int) error {
	return s.UpdateCheckpoint(ctx, slideID, level, totalTiles, totalTiles)
}

// IsPyramidComplete reports whether the coarsest level (grid 1x1, the
// level at which a mip pyramid always terminates per spec §3) has a
// completed checkpoint row, used as a cheap full-pyramid-done signal
// without needing the slide's dimensions again.
func (s *Store) IsPyramidComplete(ctx context.Context, slideID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM compiler_tile_progress
		WHERE slide_id = $1 AND total_tiles = 1 AND completed_up_to = 1`, slideID).Scan(&count)
	return count > 0, err
}

// IsLevelComplete reports whether a prior run already finished this level.
func (s *Store) IsLevelComplete(ctx context.Context, slideID string, level uint32) (bool, error) {
	var completed, total int
	err := s.db.QueryRowContext(ctx, `
		SELECT completed_up_to, total_tiles FROM compiler_tile_progress WHERE slide_id = $1 AND level = $2`, slideID, level).Scan(&completed, &total)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return completed >= total, nil
}
