package core

// validator.go is the rule engine for submitted reading batches.
//
// Rows are independent: each is checked against the ordered rule list and
// the first failing rule wins for that row. Departed rows short-circuit
// out of numeric validation and are handed to the approval workflow; they
// never count toward batch failure. The validator performs no storage
// mutation itself — it only reads the catalog and last-reading lookups —
// so a failed batch leaves no trace.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate ceilings by meter-type prefix, in units per day. Other prefixes
// are unconstrained.
const (
	rateCeilingPM = 24.0
	rateCeilingKM = 500.0
)

// Catalog supplies the reference equipment set for one submitter. A
// failing or empty source must degrade to an empty set, not an error
// that aborts the batch.
type Catalog interface {
	EquipmentFor(ctx context.Context, location, division string) ([]EquipmentKey, error)
}

// LastReadingFunc fetches the last known accepted reading for a key, or
// nil when none exists.
type LastReadingFunc func(ctx context.Context, key EquipmentKey) (*LastReading, error)

// Validator applies the batch rule set. It is stateless and safe for
// concurrent use.
type Validator struct {
	catalog Catalog
	last    LastReadingFunc
	now     func() time.Time
}

// NewValidator creates a validator over the given catalog and
// last-reading lookup.
func NewValidator(catalog Catalog, last LastReadingFunc) *Validator {
	return &Validator{catalog: catalog, last: last, now: time.Now}
}

// batchOutcome is the validator's full verdict on a batch, including the
// rows ready for persistence and the departure claims to route onward.
type batchOutcome struct {
	errors   []RowError
	warnings []RowWarning
	accepted []acceptedRow
	departed []departedClaim
}

func (o *batchOutcome) valid() bool { return len(o.errors) == 0 }

// ValidateBatch checks every row of a batch against the rule set.
// A non-nil error is returned only for storage failures on the
// last-reading lookup; rule failures are collected in the outcome.
func (v *Validator) ValidateBatch(ctx context.Context, sub Submitter, rows []*ReadingRow) (*batchOutcome, error) {
	equipment, err := v.catalog.EquipmentFor(ctx, sub.Location, sub.Division)
	if err != nil {
		// Degrade to an empty set: every row then fails the
		// structural check instead of the whole batch aborting.
		equipment = nil
	}

	out := &batchOutcome{}
	for _, row := range rows {
		if err := v.validateRow(ctx, equipment, row, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// validateRow applies the ordered rules to one row, appending errors,
// warnings and dispositions to out.
func (v *Validator) validateRow(ctx context.Context, equipment []EquipmentKey, row *ReadingRow, out *batchOutcome) error {
	// Rule 1: the row must resolve to exactly one catalog entry.
	key, ok := resolveKey(equipment, row)
	if !ok {
		out.errors = append(out.errors, RowError{
			Line: row.Line,
			Code: CodeEquipmentNotFound,
			Message: fmt.Sprintf("equipment not found (gov %s, inv %s, meter %s)",
				row.GovNumber, row.InvNumber, row.MeterType),
		})
		return nil
	}

	reading := strings.TrimSpace(row.Reading)
	rawComment := strings.TrimSpace(row.Comment)
	comment, commentOK := ParseComment(rawComment)

	// Rule 2: a row with neither reading nor comment says nothing.
	if reading == "" && rawComment == "" {
		out.errors = append(out.errors, RowError{
			Line:    row.Line,
			Code:    CodeMissingReadingOrComment,
			Message: "either a reading or a comment is required",
		})
		return nil
	}

	// Rule 3: equipment in repair keeps its last known reading.
	if comment == CommentInRepair && reading == "" {
		last, err := v.last(ctx, key)
		if err != nil {
			return wrapStorage("last reading lookup", err)
		}
		if last != nil && last.Value != nil {
			reading = strconv.FormatFloat(*last.Value, 'f', -1, 64)
			row.Reading = reading
			out.warnings = append(out.warnings, RowWarning{
				Line:    row.Line,
				Code:    CodeAutoFilledFromLastReading,
				Message: fmt.Sprintf("reading auto-filled from last known value %s", reading),
			})
		}
		// No last reading: the row proceeds with a null reading.
	}

	// Rule 4: departed equipment bypasses numeric validation; its
	// disposition is deferred until an administrator resolves the claim.
	if comment == CommentDeparted {
		if reading != "" {
			row.Reading = ""
			out.warnings = append(out.warnings, RowWarning{
				Line:    row.Line,
				Code:    CodeReadingClearedForDeparted,
				Message: "reading cleared: departed equipment is finalized without a value",
			})
		}
		out.departed = append(out.departed, departedClaim{row: row, key: key})
		return nil
	}

	// Rule 5: numeric validation, only when a reading is present.
	var value *float64
	if reading != "" {
		parsed, err := parseReading(reading)
		if err != nil {
			out.errors = append(out.errors, RowError{
				Line:    row.Line,
				Code:    CodeNotANumber,
				Message: fmt.Sprintf("reading %q is not a number", reading),
			})
			return nil
		}
		if parsed < 0 {
			out.errors = append(out.errors, RowError{
				Line:    row.Line,
				Code:    CodeNegativeReading,
				Message: "reading cannot be negative",
			})
			return nil
		}

		last, err := v.last(ctx, key)
		if err != nil {
			return wrapStorage("last reading lookup", err)
		}
		if last != nil && last.Value != nil {
			if parsed < *last.Value {
				out.errors = append(out.errors, RowError{
					Line: row.Line,
					Code: CodeReadingRegressed,
					Message: fmt.Sprintf("reading %v is below the previous reading %v",
						parsed, *last.Value),
				})
				return nil
			}
			if ceiling, constrained := rateCeiling(key.MeterType); constrained {
				days := elapsedDays(v.now(), last.Timestamp)
				daily := (parsed - *last.Value) / float64(days)
				if daily > ceiling {
					out.errors = append(out.errors, RowError{
						Line: row.Line,
						Code: CodeRateExceeded,
						Message: fmt.Sprintf("daily change %.2f exceeds the %v/day ceiling for %s meters",
							daily, ceiling, key.MeterType[:2]),
					})
					return nil
				}
			}
		}
		value = &parsed
	}

	// Rule 6: a non-empty comment must come from the allowed set.
	if rawComment != "" && !commentOK {
		out.errors = append(out.errors, RowError{
			Line: row.Line,
			Code: CodeInvalidComment,
			Message: fmt.Sprintf("comment %q is not allowed; use one of: in_repair, faulty, departed, not_on_site",
				rawComment),
		})
		return nil
	}

	out.accepted = append(out.accepted, acceptedRow{row: row, key: key, value: value, comment: comment})
	return nil
}

// resolveKey finds the single catalog entry matching the row's equipment
// fields. Zero or multiple matches both fail the structural check.
func resolveKey(equipment []EquipmentKey, row *ReadingRow) (EquipmentKey, bool) {
	var found EquipmentKey
	matches := 0
	for _, eq := range equipment {
		if eq.GovNumber == strings.TrimSpace(row.GovNumber) &&
			eq.InvNumber == strings.TrimSpace(row.InvNumber) &&
			eq.MeterType == strings.TrimSpace(row.MeterType) {
			found = eq
			matches++
		}
	}
	return found, matches == 1
}

// parseReading parses a reading cell, tolerating the comma decimal
// separator found in spreadsheets from Russian-locale machines.
func parseReading(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// rateCeiling returns the per-day change ceiling for a meter type, or
// false when the prefix is unconstrained.
func rateCeiling(meterType string) (float64, bool) {
	switch {
	case strings.HasPrefix(meterType, "PM"):
		return rateCeilingPM, true
	case strings.HasPrefix(meterType, "KM"):
		return rateCeilingKM, true
	}
	return 0, false
}

// elapsedDays returns whole days between two times, floored at 1 so that
// same-day resubmission cannot divide by zero or dodge the rate check.
func elapsedDays(now, then time.Time) int {
	days := int(now.Sub(then).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}
