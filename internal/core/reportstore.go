package core

// reportstore.go is the Postgres-backed final report store.
//
// The dedup check and the insert for one equipment key must be atomic
// with respect to concurrent upserts for the same key: both run inside a
// transaction that first takes an advisory lock derived from the key, so
// two near-simultaneous submissions cannot both pass the check.

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a Postgres-backed ReportStore.
func NewReportStore(pool *pgxpool.Pool) ReportStore {
	return &pgReportStore{pool: pool}
}

func (s *pgReportStore) Upsert(ctx context.Context, rec FinalReportRecord, replace bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStorage("begin upsert", err)
	}
	defer tx.Rollback(ctx)

	// Serialize writers per equipment key for the lifetime of this
	// transaction.
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(rec.Key))
	if err != nil {
		return wrapStorage("lock key", err)
	}

	var prevID int64
	var prevDate time.Time
	err = tx.QueryRow(ctx, `
		SELECT id, effective_date
		FROM final_report
		WHERE inv_number = $1 AND meter_type = $2
		ORDER BY effective_date DESC
		LIMIT 1`,
		rec.Key.InvNumber, rec.Key.MeterType,
	).Scan(&prevID, &prevDate)
	switch {
	case err == pgx.ErrNoRows:
		// First record for this key.
	case err != nil:
		return wrapStorage("query prior record", err)
	case rec.EffectiveDate.Sub(prevDate) < DedupWindowDays*24*time.Hour:
		if !replace {
			return &DuplicateError{Key: rec.Key, ExistingDate: prevDate}
		}
		_, err = tx.Exec(ctx, `
			UPDATE final_report
			SET reading = $2, comment = $3, submitter_tab = $4,
			    submitter_name = $5, sender_role = $6, effective_date = $7
			WHERE id = $1`,
			prevID, rec.Reading, rec.Comment, rec.Submitter.TabNumber,
			rec.Submitter.Name, rec.SenderRole, rec.EffectiveDate)
		if err != nil {
			return wrapStorage("replace record", err)
		}
		return wrapStorage("commit upsert", tx.Commit(ctx))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO final_report
			(location, division, gov_number, inv_number, meter_type,
			 reading, comment, submitter_tab, submitter_name, sender_role,
			 effective_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.Key.Location, rec.Key.Division, rec.Key.GovNumber,
		rec.Key.InvNumber, rec.Key.MeterType, rec.Reading, rec.Comment,
		rec.Submitter.TabNumber, rec.Submitter.Name, rec.SenderRole,
		rec.EffectiveDate)
	if err != nil {
		return wrapStorage("insert record", err)
	}

	return wrapStorage("commit upsert", tx.Commit(ctx))
}

func (s *pgReportStore) LastReading(ctx context.Context, key EquipmentKey) (*LastReading, error) {
	var last LastReading
	err := s.pool.QueryRow(ctx, `
		SELECT reading, effective_date
		FROM final_report
		WHERE inv_number = $1 AND meter_type = $2
		ORDER BY effective_date DESC
		LIMIT 1`,
		key.InvNumber, key.MeterType,
	).Scan(&last.Value, &last.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("query last reading", err)
	}
	return &last, nil
}

func (s *pgReportStore) Records(ctx context.Context, from, to time.Time) ([]FinalReportRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT location, division, gov_number, inv_number, meter_type,
		       reading, comment, submitter_tab, submitter_name,
		       sender_role, effective_date
		FROM final_report
		WHERE effective_date >= $1 AND effective_date <= $2
		ORDER BY division, location, inv_number, effective_date`,
		from, to)
	if err != nil {
		return nil, wrapStorage("query records", err)
	}
	defer rows.Close()

	var recs []FinalReportRecord
	for rows.Next() {
		var rec FinalReportRecord
		if err := rows.Scan(
			&rec.Key.Location, &rec.Key.Division, &rec.Key.GovNumber,
			&rec.Key.InvNumber, &rec.Key.MeterType, &rec.Reading,
			&rec.Comment, &rec.Submitter.TabNumber, &rec.Submitter.Name,
			&rec.SenderRole, &rec.EffectiveDate,
		); err != nil {
			return nil, wrapStorage("scan record", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("iterate records", err)
	}
	return recs, nil
}

// lockKey derives the advisory-lock string for an equipment key.
func lockKey(key EquipmentKey) string {
	return key.InvNumber + "|" + key.MeterType
}
