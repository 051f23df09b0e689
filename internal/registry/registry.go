// Package registry holds the static mapping of encrypted PHI storage
// locations. The registry is the single input the rotation orchestrator uses
// to discover what must be re-encrypted: adding a new encrypted field is a
// registry entry, not new rotation code.
package registry

import (
	"fmt"
	"regexp"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	apperrors "github.com/allisson/phivault/internal/errors"
)

// Entry describes one encrypted column: the table it lives in, its primary
// key column, the encrypted column itself, and the key type protecting it.
// Entries are created at process start from static configuration and never
// mutated at runtime.
type Entry struct {
	Table            string
	PrimaryKeyColumn string
	EncryptedColumn  string
	KeyType          cryptoDomain.KeyType
}

// identifierRe restricts table and column names to unquoted lowercase SQL
// identifiers. SQL statements are built by interpolating registry names, so
// anything needing quoting is rejected outright.
var identifierRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Registry is an immutable set of entries keyed by table.
type Registry struct {
	entries []Entry
}

// New validates the entries and builds a registry. Duplicate
// (table, encrypted column) pairs and non-identifier names are rejected.
func New(entries []Entry) (*Registry, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		for _, name := range []string{e.Table, e.PrimaryKeyColumn, e.EncryptedColumn} {
			if !identifierRe.MatchString(name) {
				return nil, fmt.Errorf(
					"%w: invalid identifier %q in registry entry for table %q",
					apperrors.ErrInvalidInput, name, e.Table,
				)
			}
		}
		if !e.KeyType.Valid() {
			return nil, fmt.Errorf(
				"%w: invalid key type %q for %s.%s",
				apperrors.ErrInvalidInput, e.KeyType, e.Table, e.EncryptedColumn,
			)
		}
		key := e.Table + "." + e.EncryptedColumn
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate registry entry %s", apperrors.ErrConflict, key)
		}
		seen[key] = struct{}{}
	}

	out := make([]Entry, len(entries))
	copy(out, entries)
	return &Registry{entries: out}, nil
}

// Entries returns the entries protected by the given key type.
func (r *Registry) Entries(keyType cryptoDomain.KeyType) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.KeyType == keyType {
			out = append(out, e)
		}
	}
	return out
}

// All returns every entry.
func (r *Registry) All() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Default returns the registry of PHI columns encrypted at rest. Only fields
// classified as PHI appear here; display fields protected by access control
// alone are deliberately absent.
func Default() *Registry {
	r, err := New([]Entry{
		{Table: "patients", PrimaryKeyColumn: "id", EncryptedColumn: "ssn_encrypted", KeyType: cryptoDomain.KeyTypePHIEncryption},
		{Table: "patients", PrimaryKeyColumn: "id", EncryptedColumn: "address_encrypted", KeyType: cryptoDomain.KeyTypePHIEncryption},
		{Table: "patients", PrimaryKeyColumn: "id", EncryptedColumn: "phone_encrypted", KeyType: cryptoDomain.KeyTypePHIEncryption},
		{Table: "clinical_notes", PrimaryKeyColumn: "id", EncryptedColumn: "body_encrypted", KeyType: cryptoDomain.KeyTypePHIEncryption},
		{Table: "insurance_policies", PrimaryKeyColumn: "id", EncryptedColumn: "member_id_encrypted", KeyType: cryptoDomain.KeyTypePHIEncryption},
	})
	if err != nil {
		// Static entries are validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return r
}
