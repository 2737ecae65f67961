// Package vault implements the Vault Access Layer: encrypted secrets
// stored in the same block/chain format as plaintext ledger entries,
// distinguished only by data.type=vault. The pattern throughout is
// encrypt-then-persist, decrypt-on-read, never hold a derived key
// longer than one call.
package vault

import (
	"fmt"
	"time"

	"github.com/cogledger/ledger/internal/block"
	"github.com/cogledger/ledger/internal/cryptoutil"
	"github.com/cogledger/ledger/internal/store"
)

// Vault wraps a Store to provide set/get/revoke over a single chain
// (conventionally one named "vault" or "vault-<topic>").
type Vault struct {
	store *store.Store
	chain string
	now   func() time.Time
}

// New returns a Vault operating over chain.
func New(s *store.Store, chain string) *Vault {
	return &Vault{store: s, chain: chain, now: time.Now}
}

// Set encrypts secret under password and appends a vault block with the
// given key_id.
func (v *Vault) Set(keyID string, secret []byte, password []byte) (block.Block, error) {
	defer cryptoutil.Zeroize(password)
	envelope, err := cryptoutil.Encrypt(secret, string(password))
	if err != nil {
		return block.Block{}, err
	}
	data := block.Data{
		Type:      block.TypeVault,
		Tags:      []string{},
		Encrypted: envelope,
		KeyID:     keyID,
		IV:        envelopeIVMarker(envelope),
	}
	return v.store.AppendBlock(v.chain, data, v.now())
}

// envelopeIVMarker exists because SOUL rule 8 requires data.iv to be
// non-empty on every vault block; the IV itself is folded into the
// encrypted envelope's IV‖SALT‖TAG‖CT layout, so this records the
// envelope's first 16 base64 characters, which encode exactly the 12-byte
// IV (no salt, tag, or ciphertext bytes).
func envelopeIVMarker(envelope string) string {
	if len(envelope) < 16 {
		return envelope
	}
	return envelope[:16]
}

// Get reads the vault chain, finds the most recent block with a matching
// key_id, and decrypts it. If that block is a revocation, Get fails; it
// does not fall back to an earlier entry for the same key.
func (v *Vault) Get(keyID string, password []byte) ([]byte, error) {
	defer cryptoutil.Zeroize(password)
	blocks, err := v.store.ReadChain(v.chain)
	if err != nil {
		return nil, err
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if b.Data.Type != block.TypeVault || b.Data.KeyID != keyID {
			continue
		}
		if b.Data.Revoked {
			return nil, fmt.Errorf("vault: key %q was revoked at index %d", keyID, b.Index)
		}
		return cryptoutil.Decrypt(b.Data.Encrypted, string(password))
	}
	return nil, fmt.Errorf("vault: no entry found for key %q", keyID)
}

// Revoke appends a vault block marking keyID as revoked, with no
// encrypted payload.
func (v *Vault) Revoke(keyID string) (block.Block, error) {
	data := block.Data{
		Type:    block.TypeVault,
		Tags:    []string{},
		KeyID:   keyID,
		Revoked: true,
		IV:      "revoked",
	}
	return v.store.AppendBlock(v.chain, data, v.now())
}
