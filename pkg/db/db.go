package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mt5relay/pkg/crypto"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB  *sql.DB
	enc *crypto.Encryptor
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

// SetEncryptor enables encryption at rest for broker login passwords.
// Without one, passwords are stored as given.
func (d *Database) SetEncryptor(enc *crypto.Encryptor) {
	d.enc = enc
}

// sealPassword encrypts a password for storage when a key is set.
func (d *Database) sealPassword(password string) (string, error) {
	if d.enc == nil || password == "" {
		return password, nil
	}
	return d.enc.Encrypt(password)
}

// openPassword decrypts a stored password. Plaintext rows written
// before a key was configured pass through unchanged.
func (d *Database) openPassword(stored string) (string, error) {
	if d.enc == nil || !crypto.IsEncrypted(stored) {
		return stored, nil
	}
	return d.enc.Decrypt(stored)
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
