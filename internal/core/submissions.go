package core

// submissions.go stores per-submitter batch artifacts. A confirmed
// departure rewrites the submitter's most recent row for the equipment,
// mirroring the old flow of editing the submitted spreadsheet in place.

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgSubmissionStore struct {
	pool *pgxpool.Pool
}

// NewSubmissionStore creates a Postgres-backed SubmissionStore.
func NewSubmissionStore(pool *pgxpool.Pool) SubmissionStore {
	return &pgSubmissionStore{pool: pool}
}

func (s *pgSubmissionStore) Record(ctx context.Context, batchID string, sub Submitter, at time.Time, rows []SubmissionRow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapStorage("begin record", err)
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO submissions
				(batch_id, submitter_tab, submitter_name, location,
				 division, gov_number, inv_number, meter_type, reading,
				 comment, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			batchID, sub.TabNumber, sub.Name, sub.Location, sub.Division,
			row.Key.GovNumber, row.Key.InvNumber, row.Key.MeterType,
			row.Reading, row.Comment, at)
		if err != nil {
			return wrapStorage("insert submission row", err)
		}
	}
	return wrapStorage("commit record", tx.Commit(ctx))
}

func (s *pgSubmissionStore) AmendLatestDeparted(ctx context.Context, key EquipmentKey) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE submissions
		SET reading = NULL, comment = $2
		WHERE id = (
			SELECT id FROM submissions
			WHERE inv_number = $3 AND meter_type = $4
			ORDER BY submitted_at DESC
			LIMIT 1
		) AND comment = $1`,
		string(CommentDeparted), ConfirmedDepartedComment,
		key.InvNumber, key.MeterType)
	if err != nil {
		return false, wrapStorage("amend submission", err)
	}
	return tag.RowsAffected() > 0, nil
}
