package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/talkbridge/backend/internal/models"
)

const callColumns = `id, caller_id, receiver_id, call_type, status, end_reason, ai_translated,
	source_language, target_language, duration, cost, started_at, ended_at, created_at`

var openStatuses = []string{string(models.CallInitiated), string(models.CallAccepted), string(models.CallActive)}

// CallStore persists call sessions. The row is authoritative; the in-memory
// registry only caches live sessions.
type CallStore struct {
	db *sql.DB
}

func NewCallStore(db *sql.DB) *CallStore {
	return &CallStore{db: db}
}

func (s *CallStore) Create(ctx context.Context, call *models.Call) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO calls (caller_id, receiver_id, call_type, status, end_reason, ai_translated,
			source_language, target_language, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		call.CallerID, call.ReceiverID, string(call.Kind), string(call.Status), nullString(call.EndReason),
		call.AITranslated, nullString(call.SourceLanguage), nullString(call.TargetLanguage),
		call.StartedAt, call.EndedAt, call.CreatedAt,
	).Scan(&call.ID)
	return storeError("create call", err)
}

// Update writes the mutable lifecycle fields of call.
func (s *CallStore) Update(ctx context.Context, call *models.Call) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE calls
		SET status = $1, end_reason = $2, duration = $3, cost = $4, started_at = $5, ended_at = $6
		WHERE id = $7`,
		string(call.Status), nullString(call.EndReason), call.Duration, call.Cost,
		call.StartedAt, call.EndedAt, call.ID)
	if err != nil {
		return storeError("update call", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("call %d: %w", call.ID, ErrNotFound)
	}
	return nil
}

func (s *CallStore) Get(ctx context.Context, id int64) (*models.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("call %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storeError("get call", err)
	}
	return call, nil
}

// ReconcileOpen ends every call left in a non-terminal status and returns
// their ids. Used at startup, when no ticker from a previous process survives.
func (s *CallStore) ReconcileOpen(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE calls
		SET status = $1, end_reason = $2, ended_at = $3
		WHERE status = ANY($4)
		RETURNING id`,
		string(models.CallEnded), models.ReasonRecovered, now, pq.Array(openStatuses))
	if err != nil {
		return nil, storeError("reconcile calls", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("reconcile calls scan", err)
		}
		ids = append(ids, id)
	}
	return ids, storeError("reconcile calls rows", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*models.Call, error) {
	var c models.Call
	var kind, status string
	var endReason, srcLang, tgtLang sql.NullString
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&c.ID, &c.CallerID, &c.ReceiverID, &kind, &status, &endReason, &c.AITranslated,
		&srcLang, &tgtLang, &c.Duration, &c.Cost, &startedAt, &endedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Kind = models.CallKind(kind)
	c.Status = models.CallStatus(status)
	c.EndReason = endReason.String
	c.SourceLanguage = srcLang.String
	c.TargetLanguage = tgtLang.String
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	return &c, nil
}
