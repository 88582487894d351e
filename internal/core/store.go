package core

// store.go declares the persistence contracts of the engine. All mutable
// shared state flows through these interfaces: final-report writes only
// through ReportStore.Upsert (windowed dedup), request transitions only
// through RequestStore.Resolve (compare-and-swap). No other code path
// writes those tables.

import (
	"context"
	"time"
)

// ReportStore is the deduplicating sink of accepted readings and the
// preferred source of "last known reading".
type ReportStore interface {
	// Upsert inserts rec unless a record for the same key exists inside
	// the dedup window, in which case it returns *DuplicateError. With
	// replace set, an in-window record is overwritten instead (explicit
	// correction flow).
	Upsert(ctx context.Context, rec FinalReportRecord, replace bool) error

	// LastReading returns the most recent record's reading and date for
	// a key, or nil when none exists.
	LastReading(ctx context.Context, key EquipmentKey) (*LastReading, error)

	// Records returns all records with an effective date in [from, to].
	Records(ctx context.Context, from, to time.Time) ([]FinalReportRecord, error)
}

// HistoryStore is the append-only ledger of accepted readings. It backs
// the last-reading lookup for equipment that predates the final report
// store.
type HistoryStore interface {
	Append(ctx context.Context, rec FinalReportRecord) error
	LastReading(ctx context.Context, key EquipmentKey) (*LastReading, error)
}

// RequestStore persists departure approval requests.
type RequestStore interface {
	// CreateIfAbsent atomically returns the unresolved request for
	// req.Key created at or after since, or inserts req when none
	// exists. The lookup and the insert are serialized per key, so two
	// racing claims yield one row. The bool is true when an existing
	// request was returned.
	CreateIfAbsent(ctx context.Context, req PendingRequest, since time.Time) (*PendingRequest, bool, error)

	// Resolve performs an atomic pending -> to transition. It returns
	// ErrRequestNotFound when the request does not exist, was already
	// resolved, or expired; exactly one of two racing resolvers wins.
	// A non-nil finalize runs while the transition is held open; if it
	// errors, the transition is rolled back and the request stays
	// pending so the caller can retry.
	Resolve(ctx context.Context, id string, to RequestStatus, actor Actor, at time.Time, finalize func(req *PendingRequest) error) (*PendingRequest, error)

	// ListPending returns unresolved requests, optionally filtered by
	// division (empty string means all).
	ListPending(ctx context.Context, division string) ([]PendingRequest, error)

	// ExpireOlderThan flags pending requests created before cutoff as
	// expired and returns how many were flagged.
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubmissionRow is one validated row as recorded in the submission
// artifact store.
type SubmissionRow struct {
	Line    int
	Key     EquipmentKey
	Reading *float64
	Comment string
}

// SubmissionStore keeps per-submitter batch artifacts so the approval
// workflow can amend the source row on confirmation and the report
// export has its raw material.
type SubmissionStore interface {
	Record(ctx context.Context, batchID string, sub Submitter, at time.Time, rows []SubmissionRow) error

	// AmendLatestDeparted rewrites the most recent submission row for a
	// key to a null reading with the confirmed-departed comment. Returns
	// false when no matching row exists.
	AmendLatestDeparted(ctx context.Context, key EquipmentKey) (bool, error)
}

// Directory looks up the administrators responsible for a division,
// falling back to all administrators when the division has none.
type Directory interface {
	AdminsFor(ctx context.Context, division string) ([]Actor, error)
}
