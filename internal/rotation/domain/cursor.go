package domain

import (
	"time"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
)

// Cursor marks re-encryption progress through one table: the last primary key
// whose row was successfully written under the new key. Persisted after every
// page so a crash mid-rotation resumes without re-processing completed rows.
type Cursor struct {
	KeyType   cryptoDomain.KeyType
	Table     string
	LastID    int64
	UpdatedAt time.Time
}
