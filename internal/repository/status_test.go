package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
)

func setupMockStatusDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *StatusRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewStatusRepository(db, logger)

	return db, mock, repo
}

// ============================================
// 启动对账测试
// ============================================

func TestInitialize_WritesOneRowAndOneLogPerDevice(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	devices := []DeviceInfo{
		{DeviceID: "lamp-001", LastStatus: "ACTIVE", GroupsLength: 2},
		{DeviceID: "cam-002", LastStatus: "", GroupsLength: 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM device_status_info`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	for _, device := range devices {
		mock.ExpectExec(`INSERT INTO device_status_info`).
			WithArgs(device.DeviceID, device.LastStatus, device.GroupsLength, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`INSERT INTO device_status_log`).
			WithArgs(device.DeviceID, device.LastStatus, device.GroupsLength, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	err := repo.Initialize(context.Background(), devices)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitialize_RollsBackOnFailure(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	devices := []DeviceInfo{
		{DeviceID: "lamp-001", LastStatus: "ACTIVE", GroupsLength: 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM device_status_info`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO device_status_info`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.Initialize(context.Background(), devices)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert status info")

	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// 读写测试
// ============================================

func TestGet_Success(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	deviceID := uuid.New().String()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"device_id", "status", "previous_status", "related_status",
		"groups_length", "created_at", "updated_at",
	}).AddRow(deviceID, "ACTIVE", "ERROR", "ACTIVE", 3, now, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnRows(rows)

	info, err := repo.Get(context.Background(), deviceID)

	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, deviceID, info.DeviceID)
	assert.Equal(t, "ACTIVE", info.Status)
	assert.Equal(t, "ERROR", info.PreviousStatus)
	assert.Equal(t, "ACTIVE", info.RelatedStatus)
	assert.Equal(t, 3, info.GroupsLength)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_UnknownDeviceIsNotAnError(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	deviceID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID).
		WillReturnError(sql.ErrNoRows)

	info, err := repo.Get(context.Background(), deviceID)

	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatus_RollsCurrentIntoPrevious(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	deviceID := uuid.New().String()

	mock.ExpectExec(`UPDATE device_status_info`).
		WithArgs(deviceID, "ERROR", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetStatus(context.Background(), deviceID, "ERROR")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatus_UnknownDeviceIsNoOp(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	deviceID := uuid.New().String()

	// 0 行受影响不算错误（设备可能已被移除）
	mock.ExpectExec(`UPDATE device_status_info`).
		WithArgs(deviceID, "ACTIVE", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetStatus(context.Background(), deviceID, "ACTIVE")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetRelatedStatus(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	deviceID := uuid.New().String()

	mock.ExpectExec(`UPDATE device_status_info`).
		WithArgs(deviceID, "ERROR", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetRelatedStatus(context.Background(), deviceID, "ERROR")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLog(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	deviceID := uuid.New().String()
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO device_status_log`).
		WithArgs(deviceID, "ERROR", "ACTIVE", 2, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AppendLog(context.Background(), &models.DeviceStatusLog{
		DeviceID:       deviceID,
		Status:         "ERROR",
		PreviousStatus: "ACTIVE",
		GroupsLength:   2,
		LogDateTime:    now,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentLogs(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	deviceID := uuid.New().String()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "device_id", "status", "previous_status", "groups_length", "log_date_time",
	}).
		AddRow(2, deviceID, "ERROR", "ACTIVE", 1, now).
		AddRow(1, deviceID, "ACTIVE", "", 1, now.Add(-time.Hour))

	mock.ExpectQuery(`SELECT`).
		WithArgs(deviceID, 10).
		WillReturnRows(rows)

	logs, err := repo.RecentLogs(context.Background(), deviceID, 10)

	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "ERROR", logs[0].Status)
	assert.Equal(t, "ACTIVE", logs[0].PreviousStatus)
	assert.Equal(t, "", logs[1].PreviousStatus)

	require.NoError(t, mock.ExpectationsWereMet())
}
