package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	"github.com/allisson/phivault/internal/database"
	rotationDomain "github.com/allisson/phivault/internal/rotation/domain"
	"github.com/allisson/phivault/internal/testutil"
)

func TestMySQLLedgerRepository_Create(t *testing.T) {
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	repo := NewMySQLLedgerRepository(db)
	txManager := database.NewTxManager(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "0011223344556677",
	)
	record.NewFingerprint = "8899aabbccddeeff"

	err := txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, record)
	})
	require.NoError(t, err)

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, record.ID, latest.ID)
	assert.Equal(t, rotationDomain.StatusPending, latest.Status)
}

func TestMySQLLedgerRepository_Create_SecondOpenRotation(t *testing.T) {
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	repo := NewMySQLLedgerRepository(db)
	txManager := database.NewTxManager(db)
	ctx := context.Background()

	first := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	err := txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, first)
	})
	require.NoError(t, err)

	// The FOR UPDATE existence check inside the transaction rejects a
	// second open record for the same key type.
	second := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonManual, "aaaa",
	)
	err = txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, second)
	})
	assert.ErrorIs(t, err, rotationDomain.ErrRotationInProgress)

	other := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypeSessionSecret, rotationDomain.ReasonScheduled, "bbbb",
	)
	err = txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, other)
	})
	assert.NoError(t, err)
}

func TestMySQLLedgerRepository_Lifecycle(t *testing.T) {
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	repo := NewMySQLLedgerRepository(db)
	txManager := database.NewTxManager(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	err := txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, record)
	})
	require.NoError(t, err)

	require.NoError(t, repo.MarkInProgress(ctx, record.ID))
	require.NoError(t, repo.Complete(ctx, record.ID, "bbbb", 321))

	last, err := repo.LastCompleted(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, record.ID, last.ID)
	assert.Equal(t, rotationDomain.StatusCompleted, last.Status)
	assert.Equal(t, int64(321), last.RecordsAffected)
	assert.NotNil(t, last.CompletedAt)

	// Completed records are immutable
	err = repo.Complete(ctx, record.ID, "cccc", 1)
	assert.ErrorIs(t, err, rotationDomain.ErrRecordImmutable)
}

func TestMySQLLedgerRepository_FailStale(t *testing.T) {
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	repo := NewMySQLLedgerRepository(db)
	txManager := database.NewTxManager(db)
	ctx := context.Background()

	abandoned := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	err := txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, abandoned)
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkInProgress(ctx, abandoned.ID))
	_, err = db.ExecContext(ctx,
		`UPDATE rotation_history SET started_at = NOW() - INTERVAL 1 HOUR WHERE id = ?`,
		abandoned.ID.String(),
	)
	require.NoError(t, err)

	recovered, err := repo.FailStale(
		ctx, cryptoDomain.KeyTypePHIEncryption, time.Now().UTC().Add(-30*time.Minute), "abandoned",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusFailed, latest.Status)

	// The existence check passes again once the stale record is failed.
	next := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonManual, "aaaa",
	)
	err = txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, next)
	})
	assert.NoError(t, err)
}

func TestMySQLLedgerRepository_Fail(t *testing.T) {
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupMySQLDB(t, db)

	repo := NewMySQLLedgerRepository(db)
	txManager := database.NewTxManager(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonCompromised, "aaaa",
	)
	err := txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, record)
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkInProgress(ctx, record.ID))

	require.NoError(t, repo.Fail(ctx, record.ID, "worker crashed", 10))

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusFailed, latest.Status)
	require.NotNil(t, latest.FailureReason)
	assert.Equal(t, "worker crashed", *latest.FailureReason)

	// Failed is terminal, so a fresh rotation may start
	next := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonManual, "aaaa",
	)
	err = txManager.WithTx(ctx, func(txCtx context.Context) error {
		return repo.Create(txCtx, next)
	})
	assert.NoError(t, err)
}
