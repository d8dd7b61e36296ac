package commission

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/db/dbtest"
	"github.com/zulandar/marketyard/internal/grower"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/participation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type fixture struct {
	db        *gorm.DB
	sessionID string
}

// newFixture creates an ACTIVE session at 10% with growers g1 (override 15%),
// g2 and g3 confirmed and g4 pending.
func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	s := models.Session{
		ID: uuid.NewString(), Name: "Market", Date: "2024-06-15",
		StartsAt: time.Now(), EndsAt: time.Now().Add(time.Hour),
		Status: models.SessionActive, CommissionRate: dec("10"),
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	growers := []models.Grower{
		{ID: "g1", Name: "Alice", CommissionRate: decPtr("15")},
		{ID: "g2", Name: "Bob"},
		{ID: "g3", Name: "Carol"},
		{ID: "g4", Name: "Dan"},
	}
	for _, g := range growers {
		if _, err := grower.Upsert(db, g); err != nil {
			t.Fatalf("seed grower: %v", err)
		}
	}
	for _, id := range []string{"g1", "g2", "g3"} {
		if _, err := participation.Set(db, s.ID, id, models.ParticipationConfirmed); err != nil {
			t.Fatalf("confirm %s: %v", id, err)
		}
	}
	if _, err := participation.Set(db, s.ID, "g4", models.ParticipationPending); err != nil {
		t.Fatalf("pending g4: %v", err)
	}
	return fixture{db: db, sessionID: s.ID}
}

// snapshot captures every row validate may touch.
type snapshot struct {
	Session        models.Session
	Participations []models.Participation
	Records        []models.CommissionRecord
	Settlements    int64
}

func takeSnapshot(t *testing.T, f fixture) snapshot {
	t.Helper()
	var s snapshot
	f.db.First(&s.Session, "id = ?", f.sessionID)
	f.db.Order("grower_id").Find(&s.Participations, "session_id = ?", f.sessionID)
	f.db.Order("grower_id").Find(&s.Records, "session_id = ?", f.sessionID)
	f.db.Model(&models.Settlement{}).Count(&s.Settlements)
	return s
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestRecordTurnover_UsesResolvedRate(t *testing.T) {
	f := newFixture(t)

	rec, err := RecordTurnover(f.db, f.sessionID, "g1", dec("200"), nil)
	if err != nil {
		t.Fatalf("RecordTurnover g1: %v", err)
	}
	if !rec.CommissionAmount.Equal(dec("30")) || !rec.CustomCommissionRate.Equal(dec("15")) {
		t.Errorf("g1 record = %+v, want 30 at 15%%", rec)
	}

	rec, err = RecordTurnover(f.db, f.sessionID, "g2", dec("123.45"), nil)
	if err != nil {
		t.Fatalf("RecordTurnover g2: %v", err)
	}
	if !rec.CommissionAmount.Equal(dec("12.35")) {
		t.Errorf("g2 amount = %s, want 12.35", rec.CommissionAmount)
	}
	if rec.CustomCommissionRate == nil || !rec.CustomCommissionRate.Equal(dec("10")) {
		t.Errorf("g2 snapshot rate = %v, want 10 even when equal to session default", rec.CustomCommissionRate)
	}
}

func TestRecordTurnover_ExplicitOverride(t *testing.T) {
	f := newFixture(t)
	rec, err := RecordTurnover(f.db, f.sessionID, "g1", dec("100"), decPtr("4"))
	if err != nil {
		t.Fatalf("RecordTurnover: %v", err)
	}
	if !rec.CommissionAmount.Equal(dec("4")) || !rec.CustomCommissionRate.Equal(dec("4")) {
		t.Errorf("record = %+v, want 4 at 4%%", rec)
	}
}

func TestRecordTurnover_UpsertAndDelete(t *testing.T) {
	f := newFixture(t)
	first, err := RecordTurnover(f.db, f.sessionID, "g2", dec("50"), nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := RecordTurnover(f.db, f.sessionID, "g2", dec("80"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || !second.CommissionAmount.Equal(dec("8")) {
		t.Errorf("second = %+v, want same row with amount 8", second)
	}

	rec, err := RecordTurnover(f.db, f.sessionID, "g2", dec("0"), nil)
	if err != nil {
		t.Fatalf("zero turnover: %v", err)
	}
	if rec != nil {
		t.Errorf("zero turnover returned %+v, want nil", rec)
	}
	recs, _ := Records(f.db, f.sessionID)
	if len(recs) != 0 {
		t.Errorf("records = %+v, want none after zero turnover", recs)
	}
}

func TestRecordTurnover_RateFrozen(t *testing.T) {
	f := newFixture(t)
	if _, err := RecordTurnover(f.db, f.sessionID, "g1", dec("100"), nil); err != nil {
		t.Fatal(err)
	}
	if err := grower.SetCommissionRate(f.db, "g1", decPtr("50")); err != nil {
		t.Fatal(err)
	}
	recs, _ := Records(f.db, f.sessionID)
	if len(recs) != 1 || !recs[0].CommissionAmount.Equal(dec("15")) {
		t.Errorf("records = %+v, want amount frozen at 15", recs)
	}
}

func TestRecordTurnover_Rejections(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		grower   string
		amount   string
		override *decimal.Decimal
		wantErr  error
	}{
		{"negative turnover", "g2", "-1", nil, apperr.ErrValidation},
		{"sub-cent turnover", "g2", "0.004", nil, apperr.ErrValidation},
		{"three decimal places", "g2", "10.125", nil, apperr.ErrValidation},
		{"override out of range", "g2", "10", decPtr("120"), apperr.ErrValidation},
		{"pending participation", "g4", "10", nil, apperr.ErrConflict},
		{"non participant", "g9", "10", nil, apperr.ErrNotFound},
		{"missing session", "g1", "10", nil, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sid := f.sessionID
			if tt.name == "missing session" {
				sid = "nope"
			}
			_, err := RecordTurnover(f.db, sid, tt.grower, dec(tt.amount), tt.override)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordTurnover_MissingGrowerProfile(t *testing.T) {
	f := newFixture(t)
	if _, err := participation.Set(f.db, f.sessionID, "g-unknown", models.ParticipationConfirmed); err != nil {
		t.Fatal(err)
	}
	if _, err := RecordTurnover(f.db, f.sessionID, "g-unknown", dec("10"), nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestValidate_DryRunNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	RecordTurnover(f.db, f.sessionID, "g1", dec("200"), nil)
	RecordTurnover(f.db, f.sessionID, "g2", dec("100"), nil)
	before := takeSnapshot(t, f)

	report, err := Validate(f.db, f.sessionID, false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Outcome != OutcomeNeedsConfirmation {
		t.Errorf("Outcome = %s, want %s", report.Outcome, OutcomeNeedsConfirmation)
	}
	if len(report.WithoutTurnover) != 1 || report.WithoutTurnover[0] != "g3" {
		t.Errorf("WithoutTurnover = %v, want [g3]", report.WithoutTurnover)
	}
	if len(report.WithTurnover) != 2 {
		t.Errorf("WithTurnover = %+v, want g1 and g2", report.WithTurnover)
	}
	if !report.TotalTurnover.Equal(dec("300")) || !report.TotalCommission.Equal(dec("40")) {
		t.Errorf("totals = %s / %s, want 300 / 40", report.TotalTurnover, report.TotalCommission)
	}
	if !report.WithTurnover[0].CustomRate || report.WithTurnover[1].CustomRate {
		t.Errorf("custom flags = %v/%v, want g1 custom only", report.WithTurnover[0].CustomRate, report.WithTurnover[1].CustomRate)
	}

	if after := takeSnapshot(t, f); mustJSON(t, after) != mustJSON(t, before) {
		t.Errorf("dry-run mutated state:\nbefore %s\nafter  %s", mustJSON(t, before), mustJSON(t, after))
	}
}

func TestValidate_DryRunReadyToClose(t *testing.T) {
	f := newFixture(t)
	for _, g := range []string{"g1", "g2", "g3"} {
		RecordTurnover(f.db, f.sessionID, g, dec("10"), nil)
	}
	before := takeSnapshot(t, f)

	report, err := Validate(f.db, f.sessionID, false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Outcome != OutcomeReadyToClose || len(report.WithoutTurnover) != 0 {
		t.Errorf("report = %+v, want READY_TO_CLOSE", report)
	}
	if after := takeSnapshot(t, f); mustJSON(t, after) != mustJSON(t, before) {
		t.Error("dry-run mutated state")
	}
}

func TestValidate_ForceCloses(t *testing.T) {
	f := newFixture(t)
	RecordTurnover(f.db, f.sessionID, "g1", dec("200"), nil)
	RecordTurnover(f.db, f.sessionID, "g2", dec("100"), nil)

	report, err := Validate(f.db, f.sessionID, true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Outcome != OutcomeClosed || report.ClosedAt == nil {
		t.Errorf("report = %+v, want CLOSED", report)
	}

	snap := takeSnapshot(t, f)
	if snap.Session.Status != models.SessionCompleted || snap.Session.CompletedAt == nil {
		t.Errorf("session = %s, want COMPLETED", snap.Session.Status)
	}
	want := map[string]models.ParticipationStatus{
		"g1": models.ParticipationValidated,
		"g2": models.ParticipationValidated,
		"g3": models.ParticipationDeclined,
		"g4": models.ParticipationPending,
	}
	for _, p := range snap.Participations {
		if p.Status != want[p.GrowerID] {
			t.Errorf("%s = %s, want %s", p.GrowerID, p.Status, want[p.GrowerID])
		}
		if p.Status == models.ParticipationConfirmed {
			t.Errorf("%s still CONFIRMED after close", p.GrowerID)
		}
	}

	row, err := GetSettlement(f.db, f.sessionID)
	if err != nil {
		t.Fatalf("GetSettlement: %v", err)
	}
	if len(row.ValidatedGrowers) != 2 || len(row.DeclinedGrowers) != 1 || row.DeclinedGrowers[0] != "g3" {
		t.Errorf("settlement = %+v", row)
	}
	if !row.TotalCommission.Equal(dec("40")) {
		t.Errorf("TotalCommission = %s, want 40", row.TotalCommission)
	}
	var stored Report
	if err := json.Unmarshal(row.Report, &stored); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if stored.Outcome != OutcomeClosed {
		t.Errorf("stored outcome = %s", stored.Outcome)
	}
}

func TestValidate_AfterCompletedFails(t *testing.T) {
	f := newFixture(t)
	RecordTurnover(f.db, f.sessionID, "g1", dec("10"), nil)
	if _, err := Validate(f.db, f.sessionID, true); err != nil {
		t.Fatalf("first close: %v", err)
	}
	for _, force := range []bool{false, true} {
		if _, err := Validate(f.db, f.sessionID, force); !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("Validate(force=%v) after close: err = %v, want conflict", force, err)
		}
	}
	if _, err := RecordTurnover(f.db, f.sessionID, "g1", dec("20"), nil); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("RecordTurnover after close: err = %v, want conflict", err)
	}
	var n int64
	f.db.Model(&models.Settlement{}).Count(&n)
	if n != 1 {
		t.Errorf("settlements = %d, want 1", n)
	}
}

func TestValidate_AbortLeavesNoPartialState(t *testing.T) {
	f := newFixture(t)
	RecordTurnover(f.db, f.sessionID, "g1", dec("200"), nil)
	before := takeSnapshot(t, f)

	// Fail the last write of the close, after session and participations
	// have already been updated inside the transaction.
	err := f.db.Callback().Create().Before("gorm:create").Register("test:fail_settlement", func(tx *gorm.DB) {
		if tx.Statement.Table == "settlements" {
			tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = Validate(f.db, f.sessionID, true)
	if !errors.Is(err, apperr.ErrTransaction) {
		t.Fatalf("err = %v, want transaction error", err)
	}

	after := takeSnapshot(t, f)
	if after.Session.Status != models.SessionActive {
		t.Errorf("session = %s, want ACTIVE after rollback", after.Session.Status)
	}
	for _, p := range after.Participations {
		if p.SettledAt != nil {
			t.Errorf("%s settled despite rollback", p.GrowerID)
		}
	}
	if mustJSON(t, after) != mustJSON(t, before) {
		t.Errorf("partial state persisted:\nbefore %s\nafter  %s", mustJSON(t, before), mustJSON(t, after))
	}

	// Safe to retry from scratch.
	f.db.Callback().Create().Remove("test:fail_settlement")
	if _, err := Validate(f.db, f.sessionID, true); err != nil {
		t.Errorf("retry after abort: %v", err)
	}
}

func TestValidate_MissingSession(t *testing.T) {
	f := newFixture(t)
	if _, err := Validate(f.db, "nope", false); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	if _, err := Validate(f.db, "", false); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	RecordTurnover(f.db, f.sessionID, "g1", dec("200"), nil)
	RecordTurnover(f.db, f.sessionID, "g2", dec("50.50"), nil)

	sum, err := Summarize(f.db, f.sessionID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(sum.Lines) != 2 {
		t.Fatalf("Lines = %+v", sum.Lines)
	}
	if !sum.TotalTurnover.Equal(dec("250.5")) || !sum.TotalCommission.Equal(dec("35.05")) {
		t.Errorf("totals = %s / %s, want 250.5 / 35.05", sum.TotalTurnover, sum.TotalCommission)
	}
	if !sum.Lines[0].CustomRate || sum.Lines[1].CustomRate {
		t.Errorf("custom flags wrong: %+v", sum.Lines)
	}
}

func TestRecordTurnover_SubCentKeepsRecord(t *testing.T) {
	f := newFixture(t)
	if _, err := RecordTurnover(f.db, f.sessionID, "g2", dec("80"), nil); err != nil {
		t.Fatal(err)
	}
	rec, err := RecordTurnover(f.db, f.sessionID, "g2", dec("0.004"), nil)
	if !errors.Is(err, apperr.ErrValidation) || rec != nil {
		t.Fatalf("rec, err = %v, %v; want validation error", rec, err)
	}
	recs, err := Records(f.db, f.sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || !recs[0].Turnover.Equal(dec("80")) {
		t.Errorf("records = %+v, want the 80.00 record untouched", recs)
	}
}

func TestSetDeclined_DropsTurnoverBeforeClose(t *testing.T) {
	f := newFixture(t)
	for g, amount := range map[string]string{"g1": "200", "g2": "100", "g3": "50"} {
		if _, err := RecordTurnover(f.db, f.sessionID, g, dec(amount), nil); err != nil {
			t.Fatalf("record %s: %v", g, err)
		}
	}
	if _, err := participation.Set(f.db, f.sessionID, "g2", models.ParticipationDeclined); err != nil {
		t.Fatalf("decline g2: %v", err)
	}
	recs, err := Records(f.db, f.sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records after decline = %d, want 2", len(recs))
	}

	// Re-confirming starts from no turnover.
	if _, err := participation.Set(f.db, f.sessionID, "g2", models.ParticipationConfirmed); err != nil {
		t.Fatal(err)
	}
	if _, err := participation.Set(f.db, f.sessionID, "g2", models.ParticipationPending); err != nil {
		t.Fatal(err)
	}

	if _, err := Validate(f.db, f.sessionID, true); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	row, err := GetSettlement(f.db, f.sessionID)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := Summarize(f.db, f.sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !row.TotalTurnover.Equal(sum.TotalTurnover) || !row.TotalCommission.Equal(sum.TotalCommission) {
		t.Errorf("settlement %s/%s disagrees with summary %s/%s",
			row.TotalTurnover, row.TotalCommission, sum.TotalTurnover, sum.TotalCommission)
	}
	if !row.TotalTurnover.Equal(dec("250")) || !row.TotalCommission.Equal(dec("35")) {
		t.Errorf("settlement totals = %s/%s, want 250/35", row.TotalTurnover, row.TotalCommission)
	}
	for _, l := range sum.Lines {
		if l.GrowerID == "g2" {
			t.Error("declined grower still owes commission")
		}
	}
}

// traceQueries records the tables read by f.db, marking reads that take a
// row lock.
func traceQueries(t *testing.T, f fixture) *[]string {
	t.Helper()
	var trace []string
	err := f.db.Callback().Query().Before("gorm:query").Register("test:trace", func(tx *gorm.DB) {
		entry := tx.Statement.Table
		if _, ok := tx.Statement.Clauses[clause.Locking{}.Name()]; ok {
			entry += " FOR UPDATE"
		}
		trace = append(trace, entry)
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.db.Callback().Query().Remove("test:trace") })
	return &trace
}

func TestSessionLockedBeforeSettlementReads(t *testing.T) {
	tests := []struct {
		name string
		run  func(f fixture) error
		next string
	}{
		{
			name: "record turnover",
			run: func(f fixture) error {
				_, err := RecordTurnover(f.db, f.sessionID, "g1", dec("10"), nil)
				return err
			},
			next: "participations",
		},
		{
			name: "forced validate",
			run: func(f fixture) error {
				_, err := Validate(f.db, f.sessionID, true)
				return err
			},
			next: "participations",
		},
		{
			name: "set participation",
			run: func(f fixture) error {
				_, err := participation.Set(f.db, f.sessionID, "g2", models.ParticipationDeclined)
				return err
			},
			next: "participations",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			trace := traceQueries(t, f)
			if err := tt.run(f); err != nil {
				t.Fatalf("run: %v", err)
			}
			got := *trace
			if len(got) < 2 || got[0] != "sessions FOR UPDATE" || got[1] != tt.next {
				t.Errorf("query order = %v, want locked sessions read before %s", got, tt.next)
			}
		})
	}
}

func TestDryRunTakesNoLock(t *testing.T) {
	f := newFixture(t)
	trace := traceQueries(t, f)
	if _, err := Validate(f.db, f.sessionID, false); err != nil {
		t.Fatal(err)
	}
	for _, q := range *trace {
		if q == "sessions FOR UPDATE" {
			t.Errorf("dry run locked the session: %v", *trace)
		}
	}
}
