package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/boostpay/backend/internal/models"
)

func newReleaseService(t *testing.T) (*ReleaseService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	policy := NewPolicyService(db)
	audit := NewAuditService(db, nil, "")
	return NewReleaseService(db, policy, audit, 0), mock, func() { db.Close() }
}

func ledgerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "source_id", "source_type", "accrued_amount", "paid_amount"})
}

func expectBoostPolicy(mock sqlmock.Sqlmock, sourceID string, holdingDays int, minimumAmount int64) {
	mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
		WithArgs(models.PolicyEntityBoost, sourceID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "holding_days", "minimum_amount", "updated_at"}).
			AddRow(1, holdingDays, minimumAmount, time.Now()))
}

func TestReleaseService_ReleaseHeldFunds(t *testing.T) {
	service, mock, closeDB := newReleaseService(t)
	defer closeDB()

	ctx := context.Background()

	t.Run("below minimum keeps whole partition held", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount FROM ledger_entries").
			WithArgs(models.LedgerHeld, sqlmock.AnyArg()).
			WillReturnRows(ledgerRows().
				AddRow(11, "userU", "boostB", models.SourceBoost, 500, 0).
				AddRow(12, "userU", "boostB", models.SourceBoost, 300, 0))

		expectBoostPolicy(mock, "boostB", 7, 1000)

		// boost still active, so the $10 minimum applies to the $8 total
		mock.ExpectQuery("SELECT end_at, status FROM boosts").
			WithArgs("boostB").
			WillReturnRows(sqlmock.NewRows([]string{"end_at", "status"}).
				AddRow(time.Now().Add(24*time.Hour), "active"))

		report, err := service.ReleaseHeldFunds(ctx, "")
		assert.NoError(t, err)
		assert.Equal(t, 0, report.ReleasedCount)
		assert.Equal(t, 2, report.SkippedCount)
		assert.Equal(t, int64(0), report.TotalAmountReleased)
		assert.Equal(t, 0, report.UsersNotified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ended source releases regardless of minimum", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount FROM ledger_entries").
			WithArgs(models.LedgerHeld, sqlmock.AnyArg()).
			WillReturnRows(ledgerRows().
				AddRow(11, "userU", "boostB", models.SourceBoost, 500, 0).
				AddRow(12, "userU", "boostB", models.SourceBoost, 300, 0))

		expectBoostPolicy(mock, "boostB", 7, 1000)

		mock.ExpectQuery("SELECT end_at, status FROM boosts").
			WithArgs("boostB").
			WillReturnRows(sqlmock.NewRows([]string{"end_at", "status"}).
				AddRow(time.Now().Add(-time.Hour), "ended"))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE ledger_entries SET status").
			WithArgs(models.LedgerPending, sqlmock.AnyArg(), 11, models.LedgerHeld).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE ledger_entries SET status").
			WithArgs(models.LedgerPending, sqlmock.AnyArg(), 12, models.LedgerHeld).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO payout_audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		report, err := service.ReleaseHeldFunds(ctx, "")
		assert.NoError(t, err)
		assert.Equal(t, 2, report.ReleasedCount)
		assert.Equal(t, 0, report.SkippedCount)
		assert.Equal(t, int64(800), report.TotalAmountReleased)
		assert.Equal(t, 1, report.UsersNotified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero minimum releases without source check", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount FROM ledger_entries").
			WithArgs(models.LedgerHeld, sqlmock.AnyArg()).
			WillReturnRows(ledgerRows().
				AddRow(21, "userV", "boostC", models.SourceBoost, 250, 0))

		// no boost override and no brand policy: zero-policy default
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBoost, "boostC").
			WillReturnRows(sqlmock.NewRows([]string{"id", "holding_days", "minimum_amount", "updated_at"}))
		mock.ExpectQuery("SELECT brand_id FROM boosts").
			WithArgs("boostC").
			WillReturnRows(sqlmock.NewRows([]string{"brand_id"}).AddRow("brand1"))
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBrand, "brand1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "holding_days", "minimum_amount", "updated_at"}))

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE ledger_entries SET status").
			WithArgs(models.LedgerPending, sqlmock.AnyArg(), 21, models.LedgerHeld).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO payout_audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		report, err := service.ReleaseHeldFunds(ctx, "")
		assert.NoError(t, err)
		assert.Equal(t, 1, report.ReleasedCount)
		assert.Equal(t, int64(250), report.TotalAmountReleased)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row already handled elsewhere is excluded from totals", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount FROM ledger_entries").
			WithArgs(models.LedgerHeld, sqlmock.AnyArg()).
			WillReturnRows(ledgerRows().
				AddRow(31, "userW", "boostD", models.SourceBoost, 1500, 0).
				AddRow(32, "userW", "boostD", models.SourceBoost, 700, 0))

		expectBoostPolicy(mock, "boostD", 0, 1000)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE ledger_entries SET status").
			WithArgs(models.LedgerPending, sqlmock.AnyArg(), 31, models.LedgerHeld).
			WillReturnResult(sqlmock.NewResult(0, 1))
		// concurrent disbursement already moved this row out of held
		mock.ExpectExec("UPDATE ledger_entries SET status").
			WithArgs(models.LedgerPending, sqlmock.AnyArg(), 32, models.LedgerHeld).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO payout_audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		report, err := service.ReleaseHeldFunds(ctx, "")
		assert.NoError(t, err)
		assert.Equal(t, 1, report.ReleasedCount)
		assert.Equal(t, int64(1500), report.TotalAmountReleased)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("partition failure does not abort the run", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount FROM ledger_entries").
			WithArgs(models.LedgerHeld, sqlmock.AnyArg()).
			WillReturnRows(ledgerRows().
				AddRow(41, "userA", "boostE", models.SourceBoost, 2000, 0).
				AddRow(42, "userB", "boostE", models.SourceBoost, 3000, 500))

		expectBoostPolicy(mock, "boostE", 0, 500)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE ledger_entries SET status").
			WithArgs(models.LedgerPending, sqlmock.AnyArg(), 41, models.LedgerHeld).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		expectBoostPolicy(mock, "boostE", 0, 500)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE ledger_entries SET status").
			WithArgs(models.LedgerPending, sqlmock.AnyArg(), 42, models.LedgerHeld).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO payout_audit_log").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		report, err := service.ReleaseHeldFunds(ctx, "")
		assert.NoError(t, err)
		assert.Equal(t, 1, report.ReleasedCount)
		assert.Equal(t, 1, report.SkippedCount)
		assert.Equal(t, int64(2500), report.TotalAmountReleased)
		assert.Equal(t, 1, report.UsersNotified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty selection is a no-op", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount FROM ledger_entries").
			WithArgs(models.LedgerHeld, sqlmock.AnyArg()).
			WillReturnRows(ledgerRows())

		report, err := service.ReleaseHeldFunds(ctx, "")
		assert.NoError(t, err)
		assert.Equal(t, 0, report.ReleasedCount)
		assert.Equal(t, 0, report.SkippedCount)
		assert.Equal(t, int64(0), report.TotalAmountReleased)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scoped run filters by source", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, source_id, source_type, accrued_amount, paid_amount FROM ledger_entries").
			WithArgs(models.LedgerHeld, sqlmock.AnyArg(), "boostB").
			WillReturnRows(ledgerRows())

		report, err := service.ReleaseHeldFunds(ctx, "boostB")
		assert.NoError(t, err)
		assert.Equal(t, 0, report.ReleasedCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
