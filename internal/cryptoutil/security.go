package cryptoutil

import (
	"encoding/json"
	"os"

	"github.com/cogledger/ledger/internal/atomicio"
	"github.com/cogledger/ledger/internal/ledgererr"
)

// SecurityRecord is the on-disk security.json gating local UX only —
// it never participates in vault key derivation.
type SecurityRecord struct {
	PasswordSet  bool   `json:"passwordSet"`
	PasswordHash string `json:"passwordHash,omitempty"`
	AllowEmpty   bool   `json:"allowEmpty,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// InitSecurity writes security.json at path, recording either a
// password hash or allowEmpty=true: a single JSON file written once at
// init time.
func InitSecurity(path string, password string, createdAt string) (SecurityRecord, error) {
	rec := SecurityRecord{CreatedAt: createdAt}
	if password == "" {
		rec.AllowEmpty = true
	} else {
		rec.PasswordSet = true
		rec.PasswordHash = PasswordHash(password)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return SecurityRecord{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	if err := atomicio.WriteFile(path, raw, atomicio.SecurityFileMode); err != nil {
		return SecurityRecord{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	return rec, nil
}

// LoadSecurity reads security.json at path.
func LoadSecurity(path string) (SecurityRecord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SecurityRecord{}, ledgererr.Wrap(ledgererr.CodeIoError, "run init to create security.json", err)
	}
	var rec SecurityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SecurityRecord{}, ledgererr.Wrap(ledgererr.CodeIoError, "", err)
	}
	return rec, nil
}

// CheckPassword reports whether password matches the recorded hash; it is
// a UX gate only, not a cryptographic guarantee of vault access.
func (r SecurityRecord) CheckPassword(password string) bool {
	if !r.PasswordSet {
		return r.AllowEmpty && password == ""
	}
	return PasswordHash(password) == r.PasswordHash
}
