package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	apperrors "github.com/allisson/phivault/internal/errors"
	"github.com/allisson/phivault/internal/registry"
	"github.com/allisson/phivault/internal/testutil"
)

var patientsSSNEntry = registry.Entry{
	Table:            "patients",
	PrimaryKeyColumn: "id",
	EncryptedColumn:  "ssn_encrypted",
	KeyType:          cryptoDomain.KeyTypePHIEncryption,
}

func TestPostgreSQLRecordRepository_ReadPage(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRecordRepository(db)
	ctx := context.Background()

	// Five patients with ciphertext, one without: NULL columns are skipped
	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		id := testutil.CreateTestPatient(t, db, "postgres", fmt.Sprintf("MRN-%03d", i))
		_, err := db.ExecContext(
			ctx,
			`UPDATE patients SET ssn_encrypted = $1 WHERE id = $2`,
			fmt.Sprintf("v1:aXY=:Y3Q=:dGFnLTAwMDAwMDAwMDAw%d", i), id,
		)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	testutil.CreateTestPatient(t, db, "postgres", "MRN-no-ssn")

	// First page
	rows, err := repo.ReadPage(ctx, patientsSSNEntry, 0, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ids[0], rows[0].ID)
	assert.Equal(t, ids[2], rows[2].ID)

	// Second page resumes after the last id of the first
	rows, err = repo.ReadPage(ctx, patientsSSNEntry, rows[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ids[3], rows[0].ID)
	assert.Equal(t, ids[4], rows[1].ID)

	// Past the end
	rows, err = repo.ReadPage(ctx, patientsSSNEntry, ids[4], 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgreSQLRecordRepository_ReadPage_EmptyTable(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRecordRepository(db)

	rows, err := repo.ReadPage(context.Background(), patientsSSNEntry, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgreSQLRecordRepository_WriteValue(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRecordRepository(db)
	ctx := context.Background()

	id := testutil.CreateTestPatient(t, db, "postgres", "MRN-001")
	_, err := db.ExecContext(
		ctx, `UPDATE patients SET ssn_encrypted = $1 WHERE id = $2`, "v1:b2xk:b2xk:b2xk", id,
	)
	require.NoError(t, err)

	err = repo.WriteValue(ctx, patientsSSNEntry, id, "v1:bmV3:bmV3:bmV3")
	require.NoError(t, err)

	var value string
	err = db.QueryRowContext(ctx, `SELECT ssn_encrypted FROM patients WHERE id = $1`, id).Scan(&value)
	require.NoError(t, err)
	assert.Equal(t, "v1:bmV3:bmV3:bmV3", value)
}

func TestPostgreSQLRecordRepository_WriteValue_MissingRow(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)
	defer testutil.CleanupPostgresDB(t, db)

	repo := NewPostgreSQLRecordRepository(db)

	err := repo.WriteValue(context.Background(), patientsSSNEntry, 99999, "v1:bmV3:bmV3:bmV3")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
