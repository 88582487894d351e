package core

// errors.go defines the engine's error taxonomy.
//
// Three families exist:
//   - row validation codes: user-correctable, collected per row and
//     returned in aggregate so a submitter can fix a whole batch at once
//   - workflow errors: informational (request already resolved, duplicate
//     departure claim); they abort one operation but are not infra faults
//   - storage errors: transient infra failures; the caller may retry the
//     whole operation, the engine never retries internally

import (
	"errors"
	"fmt"
	"time"
)

// Row validation error codes (see Validator rule order).
const (
	CodeEquipmentNotFound       = "EquipmentNotFound"
	CodeMissingReadingOrComment = "MissingReadingOrComment"
	CodeNotANumber              = "NotANumber"
	CodeNegativeReading         = "NegativeReading"
	CodeReadingRegressed        = "ReadingRegressed"
	CodeRateExceeded            = "RateExceeded"
	CodeInvalidComment          = "InvalidComment"
	CodeDuplicateWithinWindow   = "DuplicateWithinWindow"
)

// Row warning codes.
const (
	CodeAutoFilledFromLastReading = "AutoFilledFromLastReading"
	CodeReadingClearedForDeparted = "ReadingClearedForDeparted"
	CodeDuplicateRequest          = "DuplicateRequest"
	CodeSourceArtifactMissing     = "SourceArtifactMissing"
)

// ErrRequestNotFound is returned by confirm/reject when no pending
// request exists under the given id: it was never created, already
// resolved by another administrator, or expired.
var ErrRequestNotFound = errors.New("approval request not found or already resolved")

// DuplicateError reports a final-report write rejected because a record
// for the same equipment key already exists inside the dedup window.
type DuplicateError struct {
	Key          EquipmentKey
	ExistingDate time.Time
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("reading for %s/%s already reported on %s (one record per %d days)",
		e.Key.InvNumber, e.Key.MeterType, e.ExistingDate.Format("2006-01-02"), DedupWindowDays)
}

// StorageError wraps a persistence failure. Timeouts on storage calls are
// converted into StorageError as well, so callers see a single retryable
// family.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// wrapStorage tags err as a StorageError unless it already is one or is a
// domain error that must pass through untouched.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	var de *DuplicateError
	if errors.As(err, &se) || errors.As(err, &de) || errors.Is(err, ErrRequestNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// UserMessage is a user-facing rendering of an error, with a stable code
// the caller can quote when reporting problems.
type UserMessage struct {
	Code    string
	Message string
	Action  string
}

// MapError converts an engine error into a user-facing message. Unknown
// errors get a generic message so internals never leak to clients.
func MapError(err error) UserMessage {
	var de *DuplicateError
	if errors.As(err, &de) {
		return UserMessage{
			Code:    CodeDuplicateWithinWindow,
			Message: de.Error(),
			Action:  "Wait for the current reporting window to pass, or submit a correction instead",
		}
	}
	if errors.Is(err, ErrRequestNotFound) {
		return UserMessage{
			Code:    "RequestNotFound",
			Message: "This approval request no longer exists or was already resolved",
			Action:  "Refresh the pending request list",
		}
	}
	var se *StorageError
	if errors.As(err, &se) {
		return UserMessage{
			Code:    "StorageError",
			Message: "A storage operation failed",
			Action:  "Please try again in a few moments",
		}
	}
	return UserMessage{
		Code:    "Internal",
		Message: "An unexpected error occurred",
		Action:  "Please try again or contact an administrator",
	}
}
