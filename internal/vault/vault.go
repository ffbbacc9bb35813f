// Package vault is the encrypted local store for per-service credentials and
// agent identity records. Rows are sealed with AES-256-GCM under a key
// derived from the agent's private key; only the lookup key columns are ever
// plaintext.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/romirom11/agentpass/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotInitialized is returned by every operation before Init succeeds.
	ErrNotInitialized = errors.New("vault: not initialized")
	// ErrClosed is returned by every operation after Close. A closed vault is
	// permanently unusable; it never silently no-ops.
	ErrClosed = errors.New("vault: closed")
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	service TEXT PRIMARY KEY,
	encrypted_data TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS identities (
	passport_id TEXT PRIMARY KEY,
	encrypted_data TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`

// Vault owns the encrypted single-file store. Concurrent readers are fine;
// writes are serialized through the mutex and a single connection.
type Vault struct {
	path   string
	keyMat []byte
	logger *zap.Logger

	mu     sync.RWMutex
	box    *cipherBox
	db     *sql.DB
	closed bool
}

// New creates a vault handle for the store at path, sealed under the given
// key material. Nothing is opened or derived until Init.
func New(path string, keyMaterial []byte, logger *zap.Logger) *Vault {
	return &Vault{
		path:   path,
		keyMat: keyMaterial,
		logger: logger.Named("vault"),
	}
}

// Init derives the encryption key, opens or creates the store, and creates
// the tables if absent. Every other method fails with ErrNotInitialized
// until Init has succeeded.
func (v *Vault) Init(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}
	if v.box != nil {
		return nil // already initialized
	}

	box, err := newCipherBox(v.keyMat)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", v.path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("vault: failed to open store: %w", err)
	}
	// Single connection keeps the single-writer discipline; WAL still lets
	// readers proceed during a write.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("vault: failed to create tables: %w", err)
	}

	v.box = box
	v.db = db
	v.logger.Info("Vault initialized.", zap.String("path", v.path))
	return nil
}

// Close releases all resources and makes the instance permanently unusable.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrClosed
	}
	v.closed = true
	v.box = nil
	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	if err != nil {
		return fmt.Errorf("vault: failed to close store: %w", err)
	}
	return nil
}

// ready must be called with at least a read lock held.
func (v *Vault) ready() error {
	if v.closed {
		return ErrClosed
	}
	if v.box == nil || v.db == nil {
		return ErrNotInitialized
	}
	return nil
}

// -- Credential Operations --

// Store upserts the credential by service. RegisteredAt is stamped on first
// insert only; an update re-encrypts the full record but preserves the
// original registration time.
func (v *Vault) Store(ctx context.Context, cred schemas.Credential) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return err
	}
	if cred.Service == "" {
		return errors.New("vault: credential service must not be empty")
	}

	existing, err := v.getLocked(ctx, cred.Service)
	if err != nil {
		return err
	}
	if existing != nil {
		cred.RegisteredAt = existing.RegisteredAt
	} else if cred.RegisteredAt.IsZero() {
		cred.RegisteredAt = time.Now().UTC()
	}

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal credential: %w", err)
	}
	sealed, err := v.box.seal(plaintext)
	if err != nil {
		return err
	}

	_, err = v.db.ExecContext(ctx, `
		INSERT INTO credentials (service, encrypted_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(service) DO UPDATE SET
			encrypted_data = excluded.encrypted_data,
			updated_at = CURRENT_TIMESTAMP`,
		cred.Service, sealed)
	if err != nil {
		return fmt.Errorf("vault: failed to store credential: %w", err)
	}

	v.logger.Debug("Credential stored.", zap.String("service", cred.Service))
	return nil
}

// Get returns the credential for service, or nil when none is stored.
// A decryption failure (key mismatch, tampering) is returned as an error
// wrapping ErrDecryptFailed, never as garbage data.
func (v *Vault) Get(ctx context.Context, service string) (*schemas.Credential, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return nil, err
	}
	return v.getLocked(ctx, service)
}

func (v *Vault) getLocked(ctx context.Context, service string) (*schemas.Credential, error) {
	var sealed string
	err := v.db.QueryRowContext(ctx,
		`SELECT encrypted_data FROM credentials WHERE service = ?`, service).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read credential: %w", err)
	}

	plaintext, err := v.box.open(sealed)
	if err != nil {
		return nil, err
	}
	var cred schemas.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, fmt.Errorf("vault: failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// List returns the listing view of every stored credential, ordered by
// service name ascending. Passwords and cookies never appear in the result.
func (v *Vault) List(ctx context.Context) ([]schemas.CredentialInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return nil, err
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT encrypted_data FROM credentials ORDER BY service ASC`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query credentials: %w", err)
	}
	defer rows.Close()

	var infos []schemas.CredentialInfo
	for rows.Next() {
		var sealed string
		if err := rows.Scan(&sealed); err != nil {
			return nil, fmt.Errorf("vault: failed to scan row: %w", err)
		}
		plaintext, err := v.box.open(sealed)
		if err != nil {
			return nil, err
		}
		var cred schemas.Credential
		if err := json.Unmarshal(plaintext, &cred); err != nil {
			return nil, fmt.Errorf("vault: failed to unmarshal credential: %w", err)
		}
		infos = append(infos, schemas.CredentialInfo{
			Service:      cred.Service,
			Username:     cred.Username,
			Email:        cred.Email,
			RegisteredAt: cred.RegisteredAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating rows: %w", err)
	}
	return infos, nil
}

// Delete removes the credential for service, reporting whether a row existed.
func (v *Vault) Delete(ctx context.Context, service string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return false, err
	}

	res, err := v.db.ExecContext(ctx, `DELETE FROM credentials WHERE service = ?`, service)
	if err != nil {
		return false, fmt.Errorf("vault: failed to delete credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("vault: failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Has reports whether a credential is stored for service.
func (v *Vault) Has(ctx context.Context, service string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return false, err
	}

	var one int
	err := v.db.QueryRowContext(ctx,
		`SELECT 1 FROM credentials WHERE service = ?`, service).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("vault: failed to check credential: %w", err)
	}
	return true, nil
}

// UpdateCookies refreshes the stored cookie jar for service after a later
// login. It is a no-op when no credential exists.
func (v *Vault) UpdateCookies(ctx context.Context, service, cookies string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return err
	}

	cred, err := v.getLocked(ctx, service)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}
	cred.Cookies = cookies

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal credential: %w", err)
	}
	sealed, err := v.box.seal(plaintext)
	if err != nil {
		return err
	}
	_, err = v.db.ExecContext(ctx, `
		UPDATE credentials SET encrypted_data = ?, updated_at = CURRENT_TIMESTAMP
		WHERE service = ?`, sealed, service)
	if err != nil {
		return fmt.Errorf("vault: failed to update cookies: %w", err)
	}
	return nil
}

// -- Identity Operations --

// StoreIdentity upserts an identity record by passport id.
func (v *Vault) StoreIdentity(ctx context.Context, identity schemas.StoredIdentity) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return err
	}
	if identity.Passport.ID == "" {
		return errors.New("vault: identity passport id must not be empty")
	}

	plaintext, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal identity: %w", err)
	}
	sealed, err := v.box.seal(plaintext)
	if err != nil {
		return err
	}

	_, err = v.db.ExecContext(ctx, `
		INSERT INTO identities (passport_id, encrypted_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(passport_id) DO UPDATE SET
			encrypted_data = excluded.encrypted_data,
			updated_at = CURRENT_TIMESTAMP`,
		identity.Passport.ID, sealed)
	if err != nil {
		return fmt.Errorf("vault: failed to store identity: %w", err)
	}

	v.logger.Debug("Identity stored.", zap.String("passport_id", identity.Passport.ID))
	return nil
}

// GetIdentity returns the identity for passportID, or nil when none exists.
func (v *Vault) GetIdentity(ctx context.Context, passportID string) (*schemas.StoredIdentity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return nil, err
	}

	var sealed string
	err := v.db.QueryRowContext(ctx,
		`SELECT encrypted_data FROM identities WHERE passport_id = ?`, passportID).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read identity: %w", err)
	}

	plaintext, err := v.box.open(sealed)
	if err != nil {
		return nil, err
	}
	var identity schemas.StoredIdentity
	if err := json.Unmarshal(plaintext, &identity); err != nil {
		return nil, fmt.Errorf("vault: failed to unmarshal identity: %w", err)
	}
	return &identity, nil
}

// ListIdentities returns the listing view of every stored identity, ordered
// by passport id ascending. Private keys never appear in the result.
func (v *Vault) ListIdentities(ctx context.Context) ([]schemas.IdentityInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return nil, err
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT encrypted_data FROM identities ORDER BY passport_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to query identities: %w", err)
	}
	defer rows.Close()

	var infos []schemas.IdentityInfo
	for rows.Next() {
		var sealed string
		if err := rows.Scan(&sealed); err != nil {
			return nil, fmt.Errorf("vault: failed to scan row: %w", err)
		}
		plaintext, err := v.box.open(sealed)
		if err != nil {
			return nil, err
		}
		var identity schemas.StoredIdentity
		if err := json.Unmarshal(plaintext, &identity); err != nil {
			return nil, fmt.Errorf("vault: failed to unmarshal identity: %w", err)
		}
		infos = append(infos, schemas.IdentityInfo{
			Passport: identity.Passport,
			Status:   identity.Status,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: error iterating rows: %w", err)
	}
	return infos, nil
}

// DeleteIdentity removes the identity for passportID, reporting whether a
// row existed.
func (v *Vault) DeleteIdentity(ctx context.Context, passportID string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.ready(); err != nil {
		return false, err
	}

	res, err := v.db.ExecContext(ctx, `DELETE FROM identities WHERE passport_id = ?`, passportID)
	if err != nil {
		return false, fmt.Errorf("vault: failed to delete identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("vault: failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// HasIdentity reports whether an identity is stored for passportID.
func (v *Vault) HasIdentity(ctx context.Context, passportID string) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := v.ready(); err != nil {
		return false, err
	}

	var one int
	err := v.db.QueryRowContext(ctx,
		`SELECT 1 FROM identities WHERE passport_id = ?`, passportID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("vault: failed to check identity: %w", err)
	}
	return true, nil
}
