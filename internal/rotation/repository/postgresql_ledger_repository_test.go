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

func TestNewPostgreSQLLedgerRepository(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	assert.NotNil(t, repo)
	assert.IsType(t, &PostgreSQLLedgerRepository{}, repo)
}

func TestPostgreSQLLedgerRepository_Create(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "0011223344556677",
	)
	record.NewFingerprint = "8899aabbccddeeff"

	err := repo.Create(ctx, record)
	require.NoError(t, err)

	// Read the record back directly
	var status, keyType string
	query := `SELECT key_type, status FROM rotation_history WHERE id = $1`
	err = db.QueryRowContext(ctx, query, record.ID).Scan(&keyType, &status)
	require.NoError(t, err)

	assert.Equal(t, string(cryptoDomain.KeyTypePHIEncryption), keyType)
	assert.Equal(t, string(rotationDomain.StatusPending), status)
}

func TestPostgreSQLLedgerRepository_Create_SecondOpenRotation(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	first := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, first))

	// A second open record for the same key type violates the partial
	// unique index and maps to ErrRotationInProgress.
	second := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonManual, "aaaa",
	)
	err := repo.Create(ctx, second)
	assert.ErrorIs(t, err, rotationDomain.ErrRotationInProgress)

	// A different key type is unaffected.
	other := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypeSessionSecret, rotationDomain.ReasonScheduled, "bbbb",
	)
	assert.NoError(t, repo.Create(ctx, other))
}

func TestPostgreSQLLedgerRepository_Create_AfterCompletion(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	first := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.MarkInProgress(ctx, first.ID))
	require.NoError(t, repo.Complete(ctx, first.ID, "bbbb", 100))

	// Once the first rotation is terminal a new one may start.
	second := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "bbbb",
	)
	assert.NoError(t, repo.Create(ctx, second))
}

func TestPostgreSQLLedgerRepository_MarkInProgress(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, record))

	err := repo.MarkInProgress(ctx, record.ID)
	require.NoError(t, err)

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusInProgress, latest.Status)

	// The pending guard makes a second transition fail.
	err = repo.MarkInProgress(ctx, record.ID)
	assert.ErrorIs(t, err, rotationDomain.ErrRecordImmutable)
}

func TestPostgreSQLLedgerRepository_Complete(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, record))
	require.NoError(t, repo.MarkInProgress(ctx, record.ID))

	err := repo.Complete(ctx, record.ID, "bbbb", 1250)
	require.NoError(t, err)

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusCompleted, latest.Status)
	assert.Equal(t, "bbbb", latest.NewFingerprint)
	assert.Equal(t, int64(1250), latest.RecordsAffected)
	require.NotNil(t, latest.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC(), *latest.CompletedAt, time.Minute)

	// Completed records are immutable.
	err = repo.Complete(ctx, record.ID, "cccc", 9)
	assert.ErrorIs(t, err, rotationDomain.ErrRecordImmutable)
	err = repo.Fail(ctx, record.ID, "too late", 0)
	assert.ErrorIs(t, err, rotationDomain.ErrRecordImmutable)
}

func TestPostgreSQLLedgerRepository_Fail(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonCompromised, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, record))
	require.NoError(t, repo.MarkInProgress(ctx, record.ID))

	err := repo.Fail(ctx, record.ID, "row patients/7 could not be decrypted", 42)
	require.NoError(t, err)

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusFailed, latest.Status)
	assert.Equal(t, int64(42), latest.RecordsAffected)
	require.NotNil(t, latest.FailureReason)
	assert.Contains(t, *latest.FailureReason, "patients/7")
}

func TestPostgreSQLLedgerRepository_FailStale(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	// An in_progress record whose process died an hour ago.
	abandoned := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, abandoned))
	require.NoError(t, repo.MarkInProgress(ctx, abandoned.ID))
	_, err := db.ExecContext(ctx,
		`UPDATE rotation_history SET started_at = NOW() - INTERVAL '1 hour' WHERE id = $1`,
		abandoned.ID,
	)
	require.NoError(t, err)

	// A fresh open record for another key type stays untouched.
	running := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypeSessionSecret, rotationDomain.ReasonScheduled, "bbbb",
	)
	require.NoError(t, repo.Create(ctx, running))

	recovered, err := repo.FailStale(
		ctx, cryptoDomain.KeyTypePHIEncryption, time.Now().UTC().Add(-30*time.Minute), "abandoned",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusFailed, latest.Status)
	require.NotNil(t, latest.FailureReason)
	assert.Equal(t, "abandoned", *latest.FailureReason)

	other, err := repo.Latest(ctx, cryptoDomain.KeyTypeSessionSecret)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusPending, other.Status)

	// The lock is released: a new rotation for the recovered key type starts.
	next := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonManual, "aaaa",
	)
	assert.NoError(t, repo.Create(ctx, next))
}

func TestPostgreSQLLedgerRepository_FailStale_YoungRecordSurvives(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, record))
	require.NoError(t, repo.MarkInProgress(ctx, record.ID))

	// Started just now, so it is younger than any sane threshold.
	recovered, err := repo.FailStale(
		ctx, cryptoDomain.KeyTypePHIEncryption, time.Now().UTC().Add(-30*time.Minute), "abandoned",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(0), recovered)

	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, rotationDomain.StatusInProgress, latest.Status)
}

func TestPostgreSQLLedgerRepository_LastCompleted(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	// No rotations yet
	_, err := repo.LastCompleted(ctx, cryptoDomain.KeyTypePHIEncryption)
	assert.ErrorIs(t, err, rotationDomain.ErrNoCompletedRotation)

	// One completed, then a failed attempt after it
	completed := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)
	require.NoError(t, repo.Create(ctx, completed))
	require.NoError(t, repo.MarkInProgress(ctx, completed.ID))
	require.NoError(t, repo.Complete(ctx, completed.ID, "bbbb", 10))

	failed := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonManual, "bbbb",
	)
	require.NoError(t, repo.Create(ctx, failed))
	require.NoError(t, repo.Fail(ctx, failed.ID, "boom", 0))

	// LastCompleted ignores the failed attempt
	last, err := repo.LastCompleted(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, completed.ID, last.ID)

	// Latest sees the failed attempt
	latest, err := repo.Latest(ctx, cryptoDomain.KeyTypePHIEncryption)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, latest.ID)
}

func TestPostgreSQLLedgerRepository_Create_WithTransaction(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLLedgerRepository(db)
	ctx := context.Background()

	txManager := database.NewTxManager(db)
	record := rotationDomain.NewRotationRecord(
		cryptoDomain.KeyTypePHIEncryption, rotationDomain.ReasonScheduled, "aaaa",
	)

	// A rolled back create leaves no record behind
	err := txManager.WithTx(ctx, func(txCtx context.Context) error {
		if err := repo.Create(txCtx, record); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rotation_history WHERE id = $1`, record.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
