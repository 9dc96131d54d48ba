package repository

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/originsmart/facility-monitor/internal/datastore/entities"
)

// setupMockMySQL returns a MySQL-dialect gorm handle backed by sqlmock, for
// asserting the exact statements the compare-and-swap path issues.
func setupMockMySQL(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger:                 gorm_logger.Default.LogMode(gorm_logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestCompareAndSwapState_MySQLStatements(t *testing.T) {
	tests := []struct {
		name         string
		affected     int64
		existing     int
		wantErr      error
		expectsCount bool
	}{
		{name: "version matches", affected: 1},
		{name: "version moved", affected: 0, existing: 1, wantErr: ErrStaleState, expectsCount: true},
		{name: "alert deleted", affected: 0, existing: 0, wantErr: ErrAlertNotFound, expectsCount: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockMySQL(t)
			repo := NewAlertRepository(db)

			mock.ExpectExec("UPDATE `alerts` SET .*`state_version`=state_version \\+ 1.*WHERE .*state_version = \\?").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.expectsCount {
				mock.ExpectQuery("SELECT count\\(\\*\\) FROM `alerts`").
					WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(tt.existing))
			}

			err := repo.CompareAndSwapState(t.Context(), 7, 3, AlertState{Active: true, NumSent: 1})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCommitFiring_MySQLRollsBackOnInsertError(t *testing.T) {
	db, mock := setupMockMySQL(t)
	repo := NewAlertRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `alerts` SET .*WHERE .*state_version = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `alert_logs`").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.CommitFiring(t.Context(), 7, 3, AlertState{Active: true, NumSent: 1},
		&entities.AlertLog{Field: "temperature", Value: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetDailyCounters_MySQLStatement(t *testing.T) {
	db, mock := setupMockMySQL(t)
	repo := NewAlertRepository(db)

	mock.ExpectExec("UPDATE `alerts` SET .*`num_sent`=.*`state_version`=state_version \\+ 1.*WHERE num_sent > \\?").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.ResetDailyCounters(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
