// Package core implements the reading validation and approval engine.
// This package has no transport dependencies and can be driven by any
// collector frontend (HTTP API, spreadsheet import, chat bot).
package core

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DedupWindowDays is the rolling window within which at most one final
// report record may exist per equipment key. It also bounds the lookback
// for unresolved departure requests.
const DedupWindowDays = 5

// EquipmentKey identifies one physical meter. Loaded from the catalog,
// never created by this engine.
type EquipmentKey struct {
	Location  string `json:"location"`
	Division  string `json:"division"`
	GovNumber string `json:"gov_number"`
	InvNumber string `json:"inv_number"`
	MeterType string `json:"meter_type"`
}

// Comment is the normalized submitter comment on a reading row.
type Comment string

const (
	CommentNone      Comment = ""
	CommentInRepair  Comment = "in_repair"
	CommentFaulty    Comment = "faulty"
	CommentDeparted  Comment = "departed"
	CommentNotOnSite Comment = "not_on_site"
)

// ConfirmedDepartedComment is stamped on a submission row and its final
// report record once an administrator confirms a departure claim.
const ConfirmedDepartedComment = "Departed (confirmed)"

// ParseComment normalizes a raw comment cell. Accepts the template values
// and the legacy Russian labels from the bot-era spreadsheets. The second
// return value is false when the value is non-empty but not in the
// allowed set.
func ParseComment(raw string) (Comment, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return CommentNone, true
	case "in_repair", "in repair", "в ремонте":
		return CommentInRepair, true
	case "faulty", "неисправен":
		return CommentFaulty, true
	case "departed", "убыло":
		return CommentDeparted, true
	case "not_on_site", "not on site", "нет на локации":
		return CommentNotOnSite, true
	}
	return CommentNone, false
}

// Submitter identifies who sent a batch of readings.
type Submitter struct {
	TabNumber int64  `json:"tab_number"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Division  string `json:"division"`
}

// Actor identifies an administrator resolving an approval request.
type Actor struct {
	TabNumber int64  `json:"tab_number"`
	Name      string `json:"name"`
}

// ReadingRow is one line in a submitted batch. Reading and Comment carry
// the raw cell values; the validator parses and may rewrite Reading when
// it auto-fills a repaired meter from the last known reading.
type ReadingRow struct {
	Line      int    `json:"line"`
	GovNumber string `json:"gov_number"`
	InvNumber string `json:"inv_number"`
	MeterType string `json:"meter_type"`
	Reading   string `json:"reading"`
	Comment   string `json:"comment"`
}

// LastReading is the most recent accepted reading for an equipment key.
// Value is nil when the accepted record carried no numeric reading
// (faulty or departed equipment).
type LastReading struct {
	Value     *float64  `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestStatus is the lifecycle state of a departure approval request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusConfirmed RequestStatus = "confirmed"
	StatusRejected  RequestStatus = "rejected"
	// StatusExpired marks pending requests abandoned past the lookback
	// window; they no longer block fresh departure claims.
	StatusExpired RequestStatus = "expired"
)

// PendingRequest is an unresolved departure claim awaiting administrator
// confirmation or rejection.
type PendingRequest struct {
	ID         string        `json:"id"`
	Key        EquipmentKey  `json:"key"`
	Submitter  Submitter     `json:"submitter"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedBy *Actor        `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// FinalReportRecord is the authoritative accepted reading for one
// equipment key within one dedup window. Reading is nil for rows accepted
// with a non-numeric disposition (departed, faulty).
type FinalReportRecord struct {
	Key           EquipmentKey `json:"key"`
	Reading       *float64     `json:"reading"`
	Comment       string       `json:"comment"`
	Submitter     Submitter    `json:"submitter"`
	SenderRole    string       `json:"sender_role"`
	EffectiveDate time.Time    `json:"effective_date"`
}

// RowError is a user-correctable validation failure on one batch row.
type RowError struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RowWarning is a non-fatal note attached to one batch row.
type RowWarning struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult is returned to the submission collector for a whole batch.
// Valid is true only when every non-departed row passed all rules.
// Departed rows are tracked in Pending instead of failing the batch.
type BatchResult struct {
	BatchID  string           `json:"batch_id"`
	Valid    bool             `json:"valid"`
	Errors   []RowError       `json:"errors,omitempty"`
	Warnings []RowWarning     `json:"warnings,omitempty"`
	Pending  []PendingRequest `json:"pending_approvals,omitempty"`
}

// acceptedRow is a row that passed validation, with its parsed reading
// and normalized comment, ready for persistence.
type acceptedRow struct {
	row     *ReadingRow
	key     EquipmentKey
	value   *float64
	comment Comment
}

// departedClaim is a row routed to the approval workflow instead of
// numeric validation.
type departedClaim struct {
	row *ReadingRow
	key EquipmentKey
}
