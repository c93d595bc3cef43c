// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlitestore persists decisions in SQLite using the pure-Go
// modernc.org/sqlite driver. Filtering, sorting and pagination are pushed
// down to SQL.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	_ "modernc.org/sqlite"

	"github.com/sergii-nosachenko/retrospecta/pkg/decision"
	"github.com/sergii-nosachenko/retrospecta/services/journal/store"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id                TEXT NOT NULL,
	user_id           TEXT NOT NULL,
	situation         TEXT NOT NULL,
	decision          TEXT NOT NULL,
	reasoning         TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	decision_type     TEXT,
	biases            TEXT NOT NULL DEFAULT '[]',
	analysis_attempts INTEGER NOT NULL DEFAULT 0,
	last_analyzed_at  INTEGER,
	error_message     TEXT,
	is_new            INTEGER NOT NULL DEFAULT 1,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_decisions_owner_created ON decisions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_status_created ON decisions(status, created_at);
`

const columns = `id, user_id, situation, decision, reasoning, status, decision_type, biases,
	analysis_attempts, last_analyzed_at, error_message, is_new, created_at, updated_at`

// sortColumns maps filter sort fields to SQL expressions.
// NULL decision types sort as the empty string, matching decision.FilterSpec.Compare.
var sortColumns = map[decision.SortField]string{
	decision.SortByCreatedAt:        "created_at",
	decision.SortByUpdatedAt:        "updated_at",
	decision.SortByStatus:           "status",
	decision.SortByDecisionType:     "COALESCE(decision_type, '')",
	decision.SortByAnalysisAttempts: "analysis_attempts",
}

// Store implements store.Store on SQLite.
//
// Mutations are serialized by mu; reads go straight to the pool.
type Store struct {
	db    *sql.DB
	clock clock.Clock
	mu    sync.Mutex
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
//
// # Inputs
//
//   - path: File path, or MemoryPath for a private in-memory database.
//   - clk: Stamps CreatedAt/UpdatedAt. Nil uses the wall clock.
func Open(path string, clk clock.Clock) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != MemoryPath {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{db: db, clock: clk}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec *decision.Record) error {
	c, err := store.PrepareCreate(rec, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	args, err := insertArgs(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO decisions (`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("create decision %s: %w", c.ID, store.ErrExists)
		}
		return wrapClosed(fmt.Errorf("create decision %s: %w", c.ID, err))
	}
	*rec = *c
	return nil
}

func (s *Store) Get(ctx context.Context, owner, id string) (*decision.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM decisions WHERE user_id = ? AND id = ?`, owner, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("get decision %s: %w", id, err))
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, owner, id string, fn store.UpdateFunc) (*decision.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("begin update: %w", err))
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+columns+` FROM decisions WHERE user_id = ? AND id = ?`, owner, id)
	current, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load decision %s: %w", id, err)
	}

	next, err := store.ApplyUpdate(current, fn, s.clock.Now())
	if err != nil {
		return nil, err
	}
	biases, err := json.Marshal(next.Biases)
	if err != nil {
		return nil, fmt.Errorf("encode biases: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE decisions SET
	situation = ?, decision = ?, reasoning = ?, status = ?, decision_type = ?, biases = ?,
	analysis_attempts = ?, last_analyzed_at = ?, error_message = ?, is_new = ?, updated_at = ?
WHERE user_id = ? AND id = ?`,
		next.Situation, next.Decision, next.Reasoning, string(next.Status), nullString(next.DecisionType),
		string(biases), next.AnalysisAttempts, nullTime(next.LastAnalyzedAt), nullString(next.ErrorMessage),
		next.IsNew, nanos(next.UpdatedAt), owner, id)
	if err != nil {
		return nil, fmt.Errorf("update decision %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE user_id = ? AND id = ?`, owner, id)
	if err != nil {
		return wrapClosed(fmt.Errorf("delete decision %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete decision %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListDecisions runs a COUNT and a page query with the same WHERE clause.
func (s *Store) ListDecisions(ctx context.Context, owner string, filter decision.FilterSpec) (decision.Page, error) {
	where, args := whereClause(owner, filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions WHERE `+where, args...).Scan(&total); err != nil {
		return decision.Page{}, wrapClosed(fmt.Errorf("count decisions: %w", err))
	}

	dir := "DESC"
	if filter.SortOrder == decision.SortAsc {
		dir = "ASC"
	}
	col, ok := sortColumns[filter.SortBy]
	if !ok {
		col = sortColumns[decision.DefaultSortField]
	}
	query := fmt.Sprintf(`SELECT %s FROM decisions WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		columns, where, col, dir, dir)
	pageArgs := append(args, filter.PageSize, filter.Offset())

	records, err := s.queryRecords(ctx, query, pageArgs...)
	if err != nil {
		return decision.Page{}, fmt.Errorf("list decisions: %w", err)
	}
	return decision.Page{Decisions: records, TotalCount: total}, nil
}

func (s *Store) PendingSummary(ctx context.Context, owner string) ([]decision.PendingRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, updated_at FROM decisions
WHERE user_id = ? AND status IN (?, ?)
ORDER BY created_at DESC, id DESC`, owner, string(decision.StatusPending), string(decision.StatusProcessing))
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("pending summary: %w", err))
	}
	defer rows.Close()

	refs := []decision.PendingRef{}
	for rows.Next() {
		var (
			ref     decision.PendingRef
			status  string
			updated int64
		)
		if err := rows.Scan(&ref.ID, &status, &updated); err != nil {
			return nil, fmt.Errorf("scan pending ref: %w", err)
		}
		ref.Status = decision.Status(status)
		ref.UpdatedAt = fromNanos(updated)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) ListByStatus(ctx context.Context, status decision.Status, limit int) ([]*decision.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	records, err := s.queryRecords(ctx, `SELECT `+columns+` FROM decisions
WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return records, nil
}

// =============================================================================
// SQL helpers
// =============================================================================

func whereClause(owner string, filter decision.FilterSpec) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{owner}

	if len(filter.DecisionTypes) > 0 {
		clauses = append(clauses, "decision_type IN ("+placeholders(len(filter.DecisionTypes))+")")
		for _, t := range filter.DecisionTypes {
			args = append(args, t)
		}
	}
	if len(filter.Biases) > 0 {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(decisions.biases) WHERE json_each.value IN ("+
			placeholders(len(filter.Biases))+"))")
		for _, b := range filter.Biases {
			args = append(args, b)
		}
	}
	if filter.DateFrom != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, nanos(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, nanos(*filter.DateTo))
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*decision.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	out := []*decision.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*decision.Record, error) {
	var (
		rec          decision.Record
		status       string
		decisionType sql.NullString
		biases       string
		lastAnalyzed sql.NullInt64
		errorMessage sql.NullString
		created      int64
		updated      int64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Situation, &rec.Decision, &rec.Reasoning, &status,
		&decisionType, &biases, &rec.AnalysisAttempts, &lastAnalyzed, &errorMessage, &rec.IsNew,
		&created, &updated)
	if err != nil {
		return nil, err
	}

	rec.Status = decision.Status(status)
	if decisionType.Valid {
		rec.DecisionType = decision.StringPtr(decisionType.String)
	}
	if errorMessage.Valid {
		rec.ErrorMessage = decision.StringPtr(errorMessage.String)
	}
	if lastAnalyzed.Valid {
		rec.LastAnalyzedAt = decision.TimePtr(fromNanos(lastAnalyzed.Int64))
	}
	if err := json.Unmarshal([]byte(biases), &rec.Biases); err != nil {
		return nil, fmt.Errorf("decode biases of %s: %w", rec.ID, err)
	}
	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	return &rec, nil
}

func insertArgs(rec *decision.Record) ([]any, error) {
	biases, err := json.Marshal(rec.Biases)
	if err != nil {
		return nil, fmt.Errorf("encode biases: %w", err)
	}
	return []any{
		rec.ID, rec.UserID, rec.Situation, rec.Decision, rec.Reasoning, string(rec.Status),
		nullString(rec.DecisionType), string(biases), rec.AnalysisAttempts, nullTime(rec.LastAnalyzedAt),
		nullString(rec.ErrorMessage), rec.IsNew, nanos(rec.CreatedAt), nanos(rec.UpdatedAt),
	}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

// nanos stores instants as Unix nanoseconds so ordering is numeric.
// Times outside the representable range are clamped.
func nanos(t time.Time) int64 {
	switch {
	case t.Before(minNanoTime):
		return math.MinInt64
	case t.After(maxNanoTime):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY")
}

func wrapClosed(err error) error {
	if err != nil && strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %v", store.ErrClosed, err)
	}
	return err
}
