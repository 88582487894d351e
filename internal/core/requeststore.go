package core

// requeststore.go is the Postgres-backed approval request store. Both
// mutating paths run inside a transaction: creation takes the same
// per-key advisory lock as the report store so two racing departure
// claims cannot both pass the lookback check, and the pending ->
// confirmed/rejected transition is a conditional UPDATE whose commit is
// deferred until the caller's finalize work succeeds. Whichever
// administrator's statement matches the pending row first wins, the
// other sees no row and gets ErrRequestNotFound.

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgRequestStore struct {
	pool *pgxpool.Pool
}

// NewRequestStore creates a Postgres-backed RequestStore.
func NewRequestStore(pool *pgxpool.Pool) RequestStore {
	return &pgRequestStore{pool: pool}
}

const requestColumns = `
	request_id, location, division, gov_number, inv_number, meter_type,
	submitter_tab, submitter_name, submitter_location, submitter_division,
	status, created_at, resolved_by_tab, resolved_by_name, resolved_at`

func scanRequest(row pgx.Row) (*PendingRequest, error) {
	var req PendingRequest
	var resolvedTab *int64
	var resolvedName *string
	err := row.Scan(
		&req.ID, &req.Key.Location, &req.Key.Division, &req.Key.GovNumber,
		&req.Key.InvNumber, &req.Key.MeterType, &req.Submitter.TabNumber,
		&req.Submitter.Name, &req.Submitter.Location, &req.Submitter.Division,
		&req.Status, &req.CreatedAt, &resolvedTab, &resolvedName, &req.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedTab != nil && resolvedName != nil {
		req.ResolvedBy = &Actor{TabNumber: *resolvedTab, Name: *resolvedName}
	}
	return &req, nil
}

func (s *pgRequestStore) CreateIfAbsent(ctx context.Context, req PendingRequest, since time.Time) (*PendingRequest, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, wrapStorage("begin create request", err)
	}
	defer tx.Rollback(ctx)

	// Serialize claims per equipment key: without this, two concurrent
	// submissions both see no pending row and both insert.
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(req.Key))
	if err != nil {
		return nil, false, wrapStorage("lock key", err)
	}

	existing, err := scanRequest(tx.QueryRow(ctx, `
		SELECT`+requestColumns+`
		FROM pending_requests
		WHERE inv_number = $1 AND meter_type = $2
		  AND status = 'pending' AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`,
		req.Key.InvNumber, req.Key.MeterType, since))
	switch {
	case err == pgx.ErrNoRows:
		// No unresolved claim in the window: insert ours.
	case err != nil:
		return nil, false, wrapStorage("query pending request", err)
	default:
		return existing, true, wrapStorage("commit create request", tx.Commit(ctx))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pending_requests
			(request_id, location, division, gov_number, inv_number,
			 meter_type, submitter_tab, submitter_name, submitter_location,
			 submitter_division, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.Key.Location, req.Key.Division, req.Key.GovNumber,
		req.Key.InvNumber, req.Key.MeterType, req.Submitter.TabNumber,
		req.Submitter.Name, req.Submitter.Location, req.Submitter.Division,
		req.Status, req.CreatedAt)
	if err != nil {
		return nil, false, wrapStorage("create request", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, wrapStorage("commit create request", err)
	}
	return &req, false, nil
}

func (s *pgRequestStore) Resolve(ctx context.Context, id string, to RequestStatus, actor Actor, at time.Time, finalize func(req *PendingRequest) error) (*PendingRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapStorage("begin resolve", err)
	}
	defer tx.Rollback(ctx)

	req, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE pending_requests
		SET status = $2, resolved_by_tab = $3, resolved_by_name = $4,
		    resolved_at = $5
		WHERE request_id = $1 AND status = 'pending'
		RETURNING`+requestColumns,
		id, to, actor.TabNumber, actor.Name, at))
	if err == pgx.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, wrapStorage("resolve request", err)
	}

	// The row stays locked until commit, so a racing resolver blocks
	// here instead of seeing a half-finalized transition. A finalize
	// failure rolls the transition back and the request stays pending.
	if finalize != nil {
		if err := finalize(req); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStorage("commit resolve", err)
	}
	return req, nil
}

func (s *pgRequestStore) ListPending(ctx context.Context, division string) ([]PendingRequest, error) {
	query := `
		SELECT` + requestColumns + `
		FROM pending_requests
		WHERE status = 'pending'`
	args := []interface{}{}
	if division != "" {
		query += ` AND division = $1`
		args = append(args, division)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list pending requests", err)
	}
	defer rows.Close()

	var reqs []PendingRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, wrapStorage("scan pending request", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("iterate pending requests", err)
	}
	return reqs, nil
}

func (s *pgRequestStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_requests
		SET status = 'expired'
		WHERE status = 'pending' AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, wrapStorage("expire requests", err)
	}
	return tag.RowsAffected(), nil
}
