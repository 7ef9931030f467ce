// Package store provides durable persistence for proxy-key records, head
// records, and the head-participants join table, backed by SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hydrapay.dev/hpd/internal/types"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile    = "hpd.db"
	maxBusyTimeoutMs = 5000
)

// ErrNotFound is returned by lookups when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// ProxyRecord is the durable form of one owner's custodial key material.
type ProxyRecord struct {
	OwnerAddress string
	ProxyAddress string
	Keys         types.KeyInfo
}

// Store manages the hpd tables in a SQLite database file.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	file string
}

// NewStore opens (or creates) the database at filePath and ensures the
// schema exists.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(absPath)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, file: absPath}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS proxies (
			owner_address TEXT PRIMARY KEY,
			proxy_address TEXT NOT NULL,
			cardano_signing_key TEXT,
			cardano_verification_key TEXT,
			hydra_signing_key TEXT,
			hydra_verification_key TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS heads (
			name TEXT PRIMARY KEY,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS head_participants (
			head_name TEXT NOT NULL,
			proxy_address TEXT NOT NULL,
			PRIMARY KEY (head_name, proxy_address)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	return nil
}

// HasProxy reports whether a proxy record exists for the owner address.
func (s *Store) HasProxy(owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM proxies WHERE owner_address = ?`, owner).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count proxies: %w", err)
	}
	return n > 0, nil
}

// InsertProxy stores a proxy record. Inserting the same owner twice keeps
// the first record.
func (s *Store) InsertProxy(rec ProxyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO proxies (
		owner_address, proxy_address, cardano_signing_key,
		cardano_verification_key, hydra_signing_key, hydra_verification_key)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_address) DO NOTHING`,
		rec.OwnerAddress, rec.ProxyAddress,
		rec.Keys.CardanoSigningKey, rec.Keys.CardanoVerificationKey,
		rec.Keys.HydraSigningKey, rec.Keys.HydraVerificationKey)
	if err != nil {
		return fmt.Errorf("insert proxy: %w", err)
	}
	return nil
}

// GetProxy returns the proxy record for an owner address, or ErrNotFound.
func (s *Store) GetProxy(owner string) (*ProxyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var proxy, cardanoSK, cardanoVK, hydraSK, hydraVK sql.NullString
	err := s.db.QueryRow(`SELECT proxy_address, cardano_signing_key,
		cardano_verification_key, hydra_signing_key, hydra_verification_key
		FROM proxies WHERE owner_address = ?`, owner).
		Scan(&proxy, &cardanoSK, &cardanoVK, &hydraSK, &hydraVK)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select proxy: %w", err)
	}

	return &ProxyRecord{
		OwnerAddress: owner,
		ProxyAddress: proxy.String,
		Keys: types.KeyInfo{
			CardanoSigningKey:      cardanoSK.String,
			CardanoVerificationKey: cardanoVK.String,
			HydraSigningKey:        hydraSK.String,
			HydraVerificationKey:   hydraVK.String,
		},
	}, nil
}

// InsertHead stores a head record with its initial status.
func (s *Store) InsertHead(name string, status types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO heads (name, status) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING`, name, string(status))
	if err != nil {
		return fmt.Errorf("insert head: %w", err)
	}
	return nil
}

// UpdateHeadStatus records a new status for an existing head.
func (s *Store) UpdateHeadStatus(name string, status types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE heads SET status = ? WHERE name = ?`, string(status), name)
	if err != nil {
		return fmt.Errorf("update head status: %w", err)
	}
	return nil
}

// GetHeadStatus returns the last persisted status for a head, or ErrNotFound.
func (s *Store) GetHeadStatus(name string) (types.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status sql.NullString
	err := s.db.QueryRow(`SELECT status FROM heads WHERE name = ?`, name).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("select head: %w", err)
	}
	return types.Status(status.String), nil
}

// AddParticipant records a head/proxy membership. Idempotent.
func (s *Store) AddParticipant(headName, proxyAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO head_participants (head_name, proxy_address)
		VALUES (?, ?) ON CONFLICT(head_name, proxy_address) DO NOTHING`,
		headName, proxyAddress)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// Participants returns the proxy addresses recorded for a head, ordered.
func (s *Store) Participants(headName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT proxy_address FROM head_participants
		WHERE head_name = ? ORDER BY proxy_address`, headName)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var proxies []string
	for rows.Next() {
		var proxy string
		if err := rows.Scan(&proxy); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		proxies = append(proxies, proxy)
	}
	return proxies, rows.Err()
}
