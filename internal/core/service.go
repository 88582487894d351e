package core

// service.go is the orchestration layer over the validator, the stores
// and the approval workflow. Transport handlers call only this type.
//
// Batch handling order: validate every row, raise departure claims, then
// persist. Departure claims are raised even for batches that fail
// validation (raising is idempotent, and a resubmitted fix attaches to
// the same request). Accepted rows are persisted row by row; a row
// rejected by the dedup window becomes a row error without rolling back
// its siblings.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options carries service tuning knobs from the config layer.
type Options struct {
	// StorageTimeout bounds every storage round trip. Zero disables the
	// bound.
	StorageTimeout time.Duration

	// CatalogTTL is how long a cached catalog read stays fresh.
	CatalogTTL time.Duration

	// Notifier delivers workflow notifications. Defaults to logging.
	Notifier Notifier
}

// Service exposes the engine's operations to transport layers.
type Service struct {
	validator   *Validator
	report      ReportStore
	history     HistoryStore
	submissions SubmissionStore
	workflow    *Workflow
	catalog     *CachedCatalog
	logger      *slog.Logger

	storageTimeout time.Duration
	now            func() time.Time
}

// NewService wires a service over a Postgres pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger, opts Options) *Service {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	catalog := NewCachedCatalog(NewCatalog(pool), opts.CatalogTTL)
	return newService(
		catalog,
		NewReportStore(pool),
		NewHistoryStore(pool),
		NewSubmissionStore(pool),
		NewRequestStore(pool),
		NewDirectory(pool),
		notifier,
		logger,
		opts.StorageTimeout,
	)
}

func newService(catalog *CachedCatalog, report ReportStore, history HistoryStore, submissions SubmissionStore, requests RequestStore, directory Directory, notifier Notifier, logger *slog.Logger, storageTimeout time.Duration) *Service {
	s := &Service{
		report:         report,
		history:        history,
		submissions:    submissions,
		catalog:        catalog,
		logger:         logger,
		storageTimeout: storageTimeout,
		now:            time.Now,
	}
	s.validator = NewValidator(catalog, s.lastReading)
	s.workflow = NewWorkflow(requests, submissions, report, history, directory, notifier, logger)
	return s
}

// lastReading prefers the final report store and falls back to the
// history ledger for equipment whose records predate it.
func (s *Service) lastReading(ctx context.Context, key EquipmentKey) (*LastReading, error) {
	last, err := s.report.LastReading(ctx, key)
	if err != nil || last != nil {
		return last, err
	}
	return s.history.LastReading(ctx, key)
}

func (s *Service) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storageTimeout)
}

// SubmitBatch validates and persists one batch of readings. A non-nil
// error means the batch could not be processed at all; rule failures are
// reported in the result instead.
func (s *Service) SubmitBatch(ctx context.Context, sub Submitter, rows []ReadingRow) (*BatchResult, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()

	ptrs := make([]*ReadingRow, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}

	outcome, err := s.validator.ValidateBatch(ctx, sub, ptrs)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		BatchID:  uuid.NewString(),
		Errors:   outcome.errors,
		Warnings: outcome.warnings,
	}

	for _, claim := range outcome.departed {
		req, existing, err := s.workflow.Raise(ctx, claim.key, sub)
		if err != nil {
			return nil, err
		}
		if existing {
			result.Warnings = append(result.Warnings, RowWarning{
				Line:    claim.row.Line,
				Code:    CodeDuplicateRequest,
				Message: fmt.Sprintf("departure of %s/%s is already awaiting approval", claim.key.GovNumber, claim.key.InvNumber),
			})
		}
		result.Pending = append(result.Pending, *req)
	}

	if !outcome.valid() {
		return result, nil
	}

	now := s.now()
	if err := s.recordArtifact(ctx, result.BatchID, sub, now, outcome); err != nil {
		return nil, err
	}

	for _, acc := range outcome.accepted {
		rec := FinalReportRecord{
			Key:           acc.key,
			Reading:       acc.value,
			Comment:       string(acc.comment),
			Submitter:     sub,
			SenderRole:    "user",
			EffectiveDate: now,
		}
		if err := s.report.Upsert(ctx, rec, false); err != nil {
			var de *DuplicateError
			if errors.As(err, &de) {
				result.Errors = append(result.Errors, RowError{
					Line:    acc.row.Line,
					Code:    CodeDuplicateWithinWindow,
					Message: de.Error(),
				})
				continue
			}
			return nil, err
		}
		if err := s.history.Append(ctx, rec); err != nil {
			return nil, err
		}
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

// recordArtifact stores the disposed rows of a valid batch so the
// approval workflow can amend them later.
func (s *Service) recordArtifact(ctx context.Context, batchID string, sub Submitter, at time.Time, outcome *batchOutcome) error {
	subRows := make([]SubmissionRow, 0, len(outcome.accepted)+len(outcome.departed))
	for _, acc := range outcome.accepted {
		subRows = append(subRows, SubmissionRow{
			Line:    acc.row.Line,
			Key:     acc.key,
			Reading: acc.value,
			Comment: string(acc.comment),
		})
	}
	for _, claim := range outcome.departed {
		subRows = append(subRows, SubmissionRow{
			Line:    claim.row.Line,
			Key:     claim.key,
			Comment: string(CommentDeparted),
		})
	}
	return s.submissions.Record(ctx, batchID, sub, at, subRows)
}

// Confirm applies an administrator's confirmation of a departure claim.
func (s *Service) Confirm(ctx context.Context, requestID string, actor Actor) (*PendingRequest, []RowWarning, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.workflow.Confirm(ctx, requestID, actor)
}

// Reject applies an administrator's rejection of a departure claim.
func (s *Service) Reject(ctx context.Context, requestID string, actor Actor) (*PendingRequest, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.workflow.Reject(ctx, requestID, actor)
}

// PendingRequests lists unresolved departure claims, optionally filtered
// by division.
func (s *Service) PendingRequests(ctx context.Context, division string) ([]PendingRequest, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.workflow.requests.ListPending(ctx, division)
}

// Records returns final report records with an effective date in
// [from, to].
func (s *Service) Records(ctx context.Context, from, to time.Time) ([]FinalReportRecord, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.report.Records(ctx, from, to)
}

// LastReadingFor returns the last accepted reading for a key, or nil
// when none exists.
func (s *Service) LastReadingFor(ctx context.Context, key EquipmentKey) (*LastReading, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.lastReading(ctx, key)
}

// EquipmentFor returns the catalog entries for a submitter's location
// and division, for template generation.
func (s *Service) EquipmentFor(ctx context.Context, location, division string) ([]EquipmentKey, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.catalog.EquipmentFor(ctx, location, division)
}

// InvalidateCatalog drops the catalog cache after an import.
func (s *Service) InvalidateCatalog() {
	s.catalog.Invalidate()
}

// SweepExpired flags stale pending requests as expired.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.storageCtx(ctx)
	defer cancel()
	return s.workflow.Sweep(ctx)
}
