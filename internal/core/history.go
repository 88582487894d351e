package core

// history.go is the append-only ledger of accepted readings. The final
// report store is the canonical source of last readings; the ledger
// answers for equipment whose history predates it.

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgHistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a Postgres-backed HistoryStore.
func NewHistoryStore(pool *pgxpool.Pool) HistoryStore {
	return &pgHistoryStore{pool: pool}
}

func (s *pgHistoryStore) Append(ctx context.Context, rec FinalReportRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reading_history
			(location, division, gov_number, inv_number, meter_type,
			 reading, comment, submitter_tab, submitter_name, reading_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.Key.Location, rec.Key.Division, rec.Key.GovNumber,
		rec.Key.InvNumber, rec.Key.MeterType, rec.Reading, rec.Comment,
		rec.Submitter.TabNumber, rec.Submitter.Name, rec.EffectiveDate)
	return wrapStorage("append history", err)
}

func (s *pgHistoryStore) LastReading(ctx context.Context, key EquipmentKey) (*LastReading, error) {
	var last LastReading
	err := s.pool.QueryRow(ctx, `
		SELECT reading, reading_date
		FROM reading_history
		WHERE inv_number = $1 AND meter_type = $2
		ORDER BY reading_date DESC
		LIMIT 1`,
		key.InvNumber, key.MeterType,
	).Scan(&last.Value, &last.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("query history", err)
	}
	return &last, nil
}
