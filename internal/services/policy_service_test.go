package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/boostpay/backend/internal/models"
)

func newPolicyService(t *testing.T) (*PolicyService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	return NewPolicyService(db), mock, func() { db.Close() }
}

func policyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "holding_days", "minimum_amount", "updated_at"})
}

func TestPolicyService_Resolve(t *testing.T) {
	service, mock, closeDB := newPolicyService(t)
	defer closeDB()

	t.Run("boost override wins", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBoost, "boost1").
			WillReturnRows(policyRows().AddRow(1, 14, 2500, time.Now()))

		policy, err := service.Resolve("boost1")
		assert.NoError(t, err)
		assert.Equal(t, 14, policy.HoldingDays)
		assert.Equal(t, int64(2500), policy.MinimumAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unset boost field inherits from brand", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBoost, "boost1").
			WillReturnRows(policyRows().AddRow(1, 14, nil, time.Now()))
		mock.ExpectQuery("SELECT brand_id FROM boosts").
			WithArgs("boost1").
			WillReturnRows(sqlmock.NewRows([]string{"brand_id"}).AddRow("brand1"))
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBrand, "brand1").
			WillReturnRows(policyRows().AddRow(2, 30, 1000, time.Now()))

		policy, err := service.Resolve("boost1")
		assert.NoError(t, err)
		assert.Equal(t, 14, policy.HoldingDays)
		assert.Equal(t, int64(1000), policy.MinimumAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown source resolves to zero policy", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBoost, "ghost").
			WillReturnRows(policyRows())
		mock.ExpectQuery("SELECT brand_id FROM boosts").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"brand_id"}))

		policy, err := service.Resolve("ghost")
		assert.NoError(t, err)
		assert.Equal(t, 0, policy.HoldingDays)
		assert.Equal(t, int64(0), policy.MinimumAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPolicyService_UpdateSettings(t *testing.T) {
	service, mock, closeDB := newPolicyService(t)
	defer closeDB()

	days := 14
	amount := int64(1500)

	t.Run("successful brand update writes policy and history", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("brand1", "admin1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBrand, "brand1").
			WillReturnRows(policyRows())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payout_policies").
			WithArgs(models.PolicyEntityBrand, "brand1", &days, &amount, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO payout_policy_history").
			WithArgs(models.PolicyEntityBrand, "brand1", "admin1", &days, &amount, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.UpdateSettings("brand", "brand1", "admin1", &days, &amount)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("boost creator may set the boost override", func(t *testing.T) {
		mock.ExpectQuery("SELECT brand_id, creator_id FROM boosts").
			WithArgs("boost1").
			WillReturnRows(sqlmock.NewRows([]string{"brand_id", "creator_id"}).AddRow("brand1", "creator9"))
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBoost, "boost1").
			WillReturnRows(policyRows())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO payout_policies").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO payout_policy_history").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := service.UpdateSettings("boost", "boost1", "creator9", &days, nil)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rate limited within 24 hours", func(t *testing.T) {
		lastChange := time.Now().Add(-2 * time.Hour)
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("brand1", "admin1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT id, holding_days, minimum_amount, updated_at FROM payout_policies").
			WithArgs(models.PolicyEntityBrand, "brand1").
			WillReturnRows(policyRows().AddRow(1, 7, 1000, lastChange))

		err := service.UpdateSettings("brand", "brand1", "admin1", &days, nil)
		assert.Error(t, err)
		assert.Equal(t, KindRateLimited, ErrorKind(err))
		retry, ok := ErrorDetails(err)["retry_after_seconds"].(int)
		assert.True(t, ok)
		assert.Greater(t, retry, 0)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unauthorized actor", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("brand1", "intruder").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		err := service.UpdateSettings("brand", "brand1", "intruder", &days, nil)
		assert.Error(t, err)
		assert.Equal(t, KindForbidden, ErrorKind(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation rejects out-of-range and off-step values", func(t *testing.T) {
		badDays := 31
		err := service.UpdateSettings("brand", "brand1", "admin1", &badDays, nil)
		assert.Error(t, err)
		assert.Equal(t, KindValidation, ErrorKind(err))

		badAmount := int64(5500)
		err = service.UpdateSettings("brand", "brand1", "admin1", nil, &badAmount)
		assert.Error(t, err)
		assert.Equal(t, KindValidation, ErrorKind(err))

		offStep := int64(750)
		err = service.UpdateSettings("brand", "brand1", "admin1", nil, &offStep)
		assert.Error(t, err)
		assert.Equal(t, KindValidation, ErrorKind(err))

		err = service.UpdateSettings("brand", "brand1", "admin1", nil, nil)
		assert.Error(t, err)
		assert.Equal(t, KindValidation, ErrorKind(err))

		err = service.UpdateSettings("shop", "brand1", "admin1", &days, nil)
		assert.Error(t, err)
		assert.Equal(t, KindValidation, ErrorKind(err))
	})
}

func TestPolicyService_SourceEnded(t *testing.T) {
	service, mock, closeDB := newPolicyService(t)
	defer closeDB()

	t.Run("active boost with future end", func(t *testing.T) {
		mock.ExpectQuery("SELECT end_at, status FROM boosts").
			WithArgs("boost1").
			WillReturnRows(sqlmock.NewRows([]string{"end_at", "status"}).
				AddRow(time.Now().Add(time.Hour), "active"))

		ended, err := service.SourceEnded("boost1")
		assert.NoError(t, err)
		assert.False(t, ended)
	})

	t.Run("past end date", func(t *testing.T) {
		mock.ExpectQuery("SELECT end_at, status FROM boosts").
			WithArgs("boost1").
			WillReturnRows(sqlmock.NewRows([]string{"end_at", "status"}).
				AddRow(time.Now().Add(-time.Hour), "active"))

		ended, err := service.SourceEnded("boost1")
		assert.NoError(t, err)
		assert.True(t, ended)
	})

	t.Run("closed status", func(t *testing.T) {
		mock.ExpectQuery("SELECT end_at, status FROM boosts").
			WithArgs("boost1").
			WillReturnRows(sqlmock.NewRows([]string{"end_at", "status"}).
				AddRow(nil, "closed"))

		ended, err := service.SourceEnded("boost1")
		assert.NoError(t, err)
		assert.True(t, ended)
	})

	t.Run("unknown source is not ended", func(t *testing.T) {
		mock.ExpectQuery("SELECT end_at, status FROM boosts").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"end_at", "status"}))

		ended, err := service.SourceEnded("ghost")
		assert.NoError(t, err)
		assert.False(t, ended)
	})
}

func TestPolicyService_History(t *testing.T) {
	service, mock, closeDB := newPolicyService(t)
	defer closeDB()

	t.Run("returns changes newest first", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, entity_type, entity_id, actor_id, holding_days, minimum_amount, created_at FROM payout_policy_history").
			WithArgs("brand", "brand1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "entity_type", "entity_id", "actor_id", "holding_days", "minimum_amount", "created_at"}).
				AddRow(2, "brand", "brand1", "admin1", 14, nil, time.Now()).
				AddRow(1, "brand", "brand1", "admin1", 7, 1000, time.Now().Add(-48*time.Hour)))

		changes, err := service.History("brand", "brand1")
		assert.NoError(t, err)
		assert.Len(t, changes, 2)
		assert.Equal(t, 14, *changes[0].HoldingDays)
		assert.Nil(t, changes[0].MinimumAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
