package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
)

func setupMockRecipientDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RecipientRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewRecipientRepository(db, logger)

	return db, mock, repo
}

func TestResolveRecipients_Success(t *testing.T) {
	db, mock, repo := setupMockRecipientDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"device_id", "device_name", "user_name", "email", "line_id", "phone", "language",
	}).
		AddRow("lamp-001", "Lamp 001", "Alice Chen", "alice@example.com", "alice-line", "+886900000001", "zh-TW").
		AddRow("lamp-001", "Lamp 001", "Bob Wang", "bob@example.com", "", "", "en")

	mock.ExpectQuery(`SELECT DISTINCT`).
		WithArgs("lamp-001", models.ChannelEmail).
		WillReturnRows(rows)

	recipients, err := repo.ResolveRecipients(context.Background(), "lamp-001", models.ChannelEmail)

	require.NoError(t, err)
	require.Len(t, recipients, 2)

	assert.Equal(t, "lamp-001", recipients[0].DeviceID)
	assert.Equal(t, "Lamp 001", recipients[0].DeviceName)
	assert.Equal(t, "Alice Chen", recipients[0].RecipientName)
	assert.Equal(t, "alice@example.com", recipients[0].Email)
	assert.Equal(t, "alice-line", recipients[0].LineID)
	assert.Equal(t, "zh-TW", recipients[0].Language)

	assert.Equal(t, "bob@example.com", recipients[1].Email)
	assert.Equal(t, "", recipients[1].LineID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveRecipients_EmptyResultIsNotAnError(t *testing.T) {
	db, mock, repo := setupMockRecipientDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT`).
		WithArgs("lamp-unrouted", models.ChannelEmail).
		WillReturnRows(sqlmock.NewRows([]string{
			"device_id", "device_name", "user_name", "email", "line_id", "phone", "language",
		}))

	recipients, err := repo.ResolveRecipients(context.Background(), "lamp-unrouted", models.ChannelEmail)

	require.NoError(t, err)
	assert.Empty(t, recipients)

	require.NoError(t, mock.ExpectationsWereMet())
}
