package core

import (
	"context"
	"testing"
	"time"
)

var (
	testPM = EquipmentKey{
		Location:  "base-1",
		Division:  "north",
		GovNumber: "G-100",
		InvNumber: "INV-1",
		MeterType: "PM-10",
	}
	testKM = EquipmentKey{
		Location:  "base-1",
		Division:  "north",
		GovNumber: "G-200",
		InvNumber: "INV-2",
		MeterType: "KM-3",
	}
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
}

func newTestValidator(last map[EquipmentKey]*LastReading) *Validator {
	catalog := &memCatalog{keys: []EquipmentKey{testPM, testKM}}
	v := NewValidator(catalog, func(_ context.Context, key EquipmentKey) (*LastReading, error) {
		return last[key], nil
	})
	v.now = fixedNow
	return v
}

func validateOne(t *testing.T, v *Validator, row ReadingRow) *batchOutcome {
	t.Helper()
	sub := Submitter{TabNumber: 42, Name: "Operator", Location: "base-1", Division: "north"}
	out, err := v.ValidateBatch(context.Background(), sub, []*ReadingRow{&row})
	if err != nil {
		t.Fatalf("ValidateBatch: %v", err)
	}
	return out
}

func daysAgo(n int) time.Time {
	return fixedNow().Add(-time.Duration(n) * 24 * time.Hour)
}

func fl(v float64) *float64 { return &v }

func TestValidateRowErrors(t *testing.T) {
	last := map[EquipmentKey]*LastReading{
		testPM: {Value: fl(100), Timestamp: daysAgo(2)},
		testKM: {Value: fl(1000), Timestamp: daysAgo(5)},
	}

	tests := []struct {
		name string
		row  ReadingRow
		code string
	}{
		{
			name: "unknown equipment",
			row:  ReadingRow{Line: 1, GovNumber: "G-999", InvNumber: "INV-9", MeterType: "PM-10", Reading: "50"},
			code: CodeEquipmentNotFound,
		},
		{
			name: "empty row",
			row:  ReadingRow{Line: 2, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10"},
			code: CodeMissingReadingOrComment,
		},
		{
			name: "not a number",
			row:  ReadingRow{Line: 3, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "abc"},
			code: CodeNotANumber,
		},
		{
			name: "negative reading",
			row:  ReadingRow{Line: 4, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "-5"},
			code: CodeNegativeReading,
		},
		{
			name: "regressed reading",
			row:  ReadingRow{Line: 5, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "99"},
			code: CodeReadingRegressed,
		},
		{
			name: "hour meter rate exceeded",
			row:  ReadingRow{Line: 6, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "149"},
			code: CodeRateExceeded,
		},
		{
			name: "odometer rate exceeded",
			row:  ReadingRow{Line: 7, GovNumber: "G-200", InvNumber: "INV-2", MeterType: "KM-3", Reading: "3600"},
			code: CodeRateExceeded,
		},
		{
			name: "invalid comment",
			row:  ReadingRow{Line: 8, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "140", Comment: "lost the keys"},
			code: CodeInvalidComment,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := validateOne(t, newTestValidator(last), tc.row)
			if len(out.errors) != 1 {
				t.Fatalf("expected 1 error, got %d: %+v", len(out.errors), out.errors)
			}
			if out.errors[0].Code != tc.code {
				t.Errorf("expected code %s, got %s", tc.code, out.errors[0].Code)
			}
			if out.errors[0].Line != tc.row.Line {
				t.Errorf("expected line %d, got %d", tc.row.Line, out.errors[0].Line)
			}
			if len(out.accepted) != 0 {
				t.Errorf("failing row must not be accepted")
			}
		})
	}
}

func TestValidateRowAccepted(t *testing.T) {
	last := map[EquipmentKey]*LastReading{
		testPM: {Value: fl(100), Timestamp: daysAgo(2)},
		testKM: {Value: fl(1000), Timestamp: daysAgo(5)},
	}

	tests := []struct {
		name string
		row  ReadingRow
		want float64
	}{
		{
			name: "hour meter at daily ceiling",
			row:  ReadingRow{Line: 1, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "148"},
			want: 148,
		},
		{
			name: "odometer inside ceiling",
			row:  ReadingRow{Line: 2, GovNumber: "G-200", InvNumber: "INV-2", MeterType: "KM-3", Reading: "3400"},
			want: 3400,
		},
		{
			name: "comma decimal separator",
			row:  ReadingRow{Line: 3, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "120,5"},
			want: 120.5,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := validateOne(t, newTestValidator(last), tc.row)
			if len(out.errors) != 0 {
				t.Fatalf("unexpected errors: %+v", out.errors)
			}
			if len(out.accepted) != 1 {
				t.Fatalf("expected 1 accepted row, got %d", len(out.accepted))
			}
			if got := out.accepted[0].value; got == nil || *got != tc.want {
				t.Errorf("expected value %v, got %v", tc.want, got)
			}
		})
	}
}

func TestValidateSameDayResubmissionUsesOneDay(t *testing.T) {
	// Last reading 6 hours ago: elapsed floors to one day, so the rate
	// check still applies at the one-day ceiling.
	last := map[EquipmentKey]*LastReading{
		testPM: {Value: fl(100), Timestamp: fixedNow().Add(-6 * time.Hour)},
	}
	row := ReadingRow{Line: 1, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "125"}
	out := validateOne(t, newTestValidator(last), row)
	if len(out.errors) != 1 || out.errors[0].Code != CodeRateExceeded {
		t.Fatalf("expected RateExceeded, got %+v", out.errors)
	}
}

func TestValidateInRepairAutoFill(t *testing.T) {
	last := map[EquipmentKey]*LastReading{
		testPM: {Value: fl(100), Timestamp: daysAgo(3)},
	}
	row := ReadingRow{Line: 1, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Comment: "in_repair"}
	out := validateOne(t, newTestValidator(last), row)

	if len(out.errors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.errors)
	}
	if len(out.accepted) != 1 {
		t.Fatalf("expected 1 accepted row, got %d", len(out.accepted))
	}
	if got := out.accepted[0].value; got == nil || *got != 100 {
		t.Errorf("expected auto-filled value 100, got %v", got)
	}
	if len(out.warnings) != 1 || out.warnings[0].Code != CodeAutoFilledFromLastReading {
		t.Errorf("expected AutoFilledFromLastReading warning, got %+v", out.warnings)
	}
}

func TestValidateInRepairWithoutHistory(t *testing.T) {
	row := ReadingRow{Line: 1, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Comment: "in_repair"}
	out := validateOne(t, newTestValidator(nil), row)

	if len(out.errors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.errors)
	}
	if len(out.accepted) != 1 || out.accepted[0].value != nil {
		t.Fatalf("expected acceptance with no reading, got %+v", out.accepted)
	}
	if len(out.warnings) != 0 {
		t.Errorf("no warning expected without a last reading, got %+v", out.warnings)
	}
}

func TestValidateDepartedShortCircuits(t *testing.T) {
	// A departed row with a (would-be regressing) reading must skip
	// numeric validation entirely and surface as a claim.
	last := map[EquipmentKey]*LastReading{
		testPM: {Value: fl(100), Timestamp: daysAgo(2)},
	}
	row := ReadingRow{Line: 1, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "10", Comment: "departed"}
	out := validateOne(t, newTestValidator(last), row)

	if len(out.errors) != 0 {
		t.Fatalf("unexpected errors: %+v", out.errors)
	}
	if len(out.departed) != 1 {
		t.Fatalf("expected 1 departure claim, got %d", len(out.departed))
	}
	if out.departed[0].key != testPM {
		t.Errorf("claim resolved to wrong key: %+v", out.departed[0].key)
	}
	if len(out.warnings) != 1 || out.warnings[0].Code != CodeReadingClearedForDeparted {
		t.Errorf("expected ReadingClearedForDeparted warning, got %+v", out.warnings)
	}
	if out.departed[0].row.Reading != "" {
		t.Errorf("reading should be cleared on the row, got %q", out.departed[0].row.Reading)
	}
}

func TestValidateLegacyCommentAliases(t *testing.T) {
	row := ReadingRow{Line: 1, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Comment: "убыло"}
	out := validateOne(t, newTestValidator(nil), row)
	if len(out.departed) != 1 {
		t.Fatalf("legacy departed alias not recognized: %+v", out)
	}
}

func TestValidateCatalogFailureDegradesToEmptySet(t *testing.T) {
	catalog := &memCatalog{err: context.DeadlineExceeded}
	v := NewValidator(catalog, func(context.Context, EquipmentKey) (*LastReading, error) {
		return nil, nil
	})
	v.now = fixedNow

	row := ReadingRow{Line: 1, GovNumber: "G-100", InvNumber: "INV-1", MeterType: "PM-10", Reading: "50"}
	out := validateOne(t, v, row)
	if len(out.errors) != 1 || out.errors[0].Code != CodeEquipmentNotFound {
		t.Fatalf("expected EquipmentNotFound on catalog failure, got %+v", out.errors)
	}
}

func TestParseComment(t *testing.T) {
	tests := []struct {
		raw  string
		want Comment
		ok   bool
	}{
		{"", CommentNone, true},
		{"in_repair", CommentInRepair, true},
		{"In Repair", CommentInRepair, true},
		{"в ремонте", CommentInRepair, true},
		{"faulty", CommentFaulty, true},
		{"departed", CommentDeparted, true},
		{"not on site", CommentNotOnSite, true},
		{"нет на локации", CommentNotOnSite, true},
		{"broken", CommentNone, false},
	}
	for _, tc := range tests {
		got, ok := ParseComment(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseComment(%q) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestElapsedDays(t *testing.T) {
	now := fixedNow()
	tests := []struct {
		then time.Time
		want int
	}{
		{now, 1},
		{now.Add(-6 * time.Hour), 1},
		{now.Add(-36 * time.Hour), 1},
		{now.Add(-49 * time.Hour), 2},
		{now.Add(-5 * 24 * time.Hour), 5},
	}
	for _, tc := range tests {
		if got := elapsedDays(now, tc.then); got != tc.want {
			t.Errorf("elapsedDays(now, now-%v) = %d, want %d", now.Sub(tc.then), got, tc.want)
		}
	}
}
