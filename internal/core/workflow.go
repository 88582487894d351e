package core

// workflow.go is the departure approval workflow.
//
// A departed row raises a pending request instead of a reading. Raising
// is idempotent inside the lookback window: resubmitting the same claim
// attaches to the existing request rather than spawning another one.
// Confirmation and rejection race through RequestStore.Resolve, so at
// most one administrator statement takes effect per request.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Workflow routes departure claims to administrators and applies their
// verdicts.
type Workflow struct {
	requests    RequestStore
	submissions SubmissionStore
	report      ReportStore
	history     HistoryStore
	directory   Directory
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewWorkflow wires the approval workflow over its stores.
func NewWorkflow(requests RequestStore, submissions SubmissionStore, report ReportStore, history HistoryStore, directory Directory, notifier Notifier, logger *slog.Logger) *Workflow {
	return &Workflow{
		requests:    requests,
		submissions: submissions,
		report:      report,
		history:     history,
		directory:   directory,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Raise creates a pending request for a departure claim, or returns the
// existing unresolved one from the lookback window. The second return
// value is true when the claim attached to an existing request. The
// lookup-or-create is a single atomic store call, so concurrent claims
// for one key converge on one request.
func (w *Workflow) Raise(ctx context.Context, key EquipmentKey, sub Submitter) (*PendingRequest, bool, error) {
	since := w.now().Add(-DedupWindowDays * 24 * time.Hour)
	req, existing, err := w.requests.CreateIfAbsent(ctx, PendingRequest{
		ID:        uuid.NewString(),
		Key:       key,
		Submitter: sub,
		Status:    StatusPending,
		CreatedAt: w.now(),
	}, since)
	if err != nil {
		return nil, false, err
	}
	if existing {
		return req, true, nil
	}

	admins, err := w.directory.AdminsFor(ctx, key.Division)
	if err != nil {
		w.logger.Error("admin lookup failed, departure raised unannounced",
			"request_id", req.ID, "division", key.Division, "error", err)
		return req, false, nil
	}
	body := fmt.Sprintf("%s reports equipment %s/%s (meter %s) as departed; confirm or reject",
		sub.Name, key.GovNumber, key.InvNumber, key.MeterType)
	if err := fanOut(ctx, w.notifier, admins, EventDepartureRaised, body, *req); err != nil {
		w.logger.Error("departure notification failed", "request_id", req.ID, "error", err)
	}
	return req, false, nil
}

// Confirm resolves a pending request as confirmed, writes the final
// departed record and amends the source submission row. The record
// writes run inside the resolve transition, so a storage failure rolls
// the transition back and the request stays pending for a retry.
// Warnings report recoverable oddities such as a missing source
// artifact.
func (w *Workflow) Confirm(ctx context.Context, id string, actor Actor) (*PendingRequest, []RowWarning, error) {
	var warnings []RowWarning
	req, err := w.requests.Resolve(ctx, id, StatusConfirmed, actor, w.now(), func(req *PendingRequest) error {
		rec := FinalReportRecord{
			Key:           req.Key,
			Reading:       nil,
			Comment:       ConfirmedDepartedComment,
			Submitter:     req.Submitter,
			SenderRole:    "admin",
			EffectiveDate: w.now(),
		}
		// The confirmed departure is authoritative over any in-window record.
		if err := w.report.Upsert(ctx, rec, true); err != nil {
			return err
		}
		if err := w.history.Append(ctx, rec); err != nil {
			return err
		}
		amended, err := w.submissions.AmendLatestDeparted(ctx, req.Key)
		if err != nil {
			return err
		}
		if !amended {
			warnings = append(warnings, RowWarning{
				Code:    CodeSourceArtifactMissing,
				Message: "no matching submission row found; final record written without amending the source",
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	w.notifyVerdict(ctx, req, EventDepartureConfirmed, fmt.Sprintf(
		"departure of %s/%s confirmed by %s", req.Key.GovNumber, req.Key.InvNumber, actor.Name))
	return req, warnings, nil
}

// Reject resolves a pending request as rejected and tells the submitter
// to resubmit the row with an actual reading.
func (w *Workflow) Reject(ctx context.Context, id string, actor Actor) (*PendingRequest, error) {
	req, err := w.requests.Resolve(ctx, id, StatusRejected, actor, w.now(), nil)
	if err != nil {
		return nil, err
	}
	w.notifyVerdict(ctx, req, EventDepartureRejected, fmt.Sprintf(
		"departure of %s/%s rejected by %s; resubmit the row with a reading",
		req.Key.GovNumber, req.Key.InvNumber, actor.Name))
	return req, nil
}

func (w *Workflow) notifyVerdict(ctx context.Context, req *PendingRequest, event, body string) {
	recipient := Actor{TabNumber: req.Submitter.TabNumber, Name: req.Submitter.Name}
	err := w.notifier.Notify(ctx, Notification{
		Recipient: recipient,
		Event:     event,
		Request:   *req,
		Body:      body,
	})
	if err != nil {
		w.logger.Error("verdict notification failed", "request_id", req.ID, "error", err)
	}
}

// Sweep flags pending requests older than the lookback window as
// expired. Returns how many were flagged.
func (w *Workflow) Sweep(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-DedupWindowDays * 24 * time.Hour)
	return w.requests.ExpireOlderThan(ctx, cutoff)
}
