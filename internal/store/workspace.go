// Package store persists workspace-scoped state in SQLite: which
// interpreter and kernel each document last used. The choice survives
// editor restarts within the same workspace.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// WorkspaceStore is a small key-value store keyed by document identity.
type WorkspaceStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewWorkspaceStore opens (or creates) the store at path.
func NewWorkspaceStore(path string) (*WorkspaceStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewWorkspaceStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &WorkspaceStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("workspace store ready at %s", path)
	return s, nil
}

func (s *WorkspaceStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS document_state (
			document_id      TEXT PRIMARY KEY,
			interpreter_path TEXT NOT NULL,
			kernel_name      TEXT NOT NULL DEFAULT '',
			updated_at       INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// InterpreterForDocument returns the persisted interpreter path, with
// found=false when the document has no saved state.
func (s *WorkspaceStore) InterpreterForDocument(documentID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var path string
	err := s.db.QueryRow(
		`SELECT interpreter_path FROM document_state WHERE document_id = ?`,
		documentID,
	).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading document state: %w", err)
	}
	return path, true, nil
}

// SetInterpreterForDocument saves the chosen interpreter for the document.
func (s *WorkspaceStore) SetInterpreterForDocument(documentID, interpreterPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO document_state (document_id, interpreter_path, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			interpreter_path = excluded.interpreter_path,
			updated_at = excluded.updated_at
	`, documentID, interpreterPath, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving document state: %w", err)
	}
	logging.StoreDebug("saved interpreter for %s: %s", documentID, interpreterPath)
	return nil
}

// KernelForDocument returns the last kernel name used by the document.
func (s *WorkspaceStore) KernelForDocument(documentID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRow(
		`SELECT kernel_name FROM document_state WHERE document_id = ?`,
		documentID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && name == "") {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading document state: %w", err)
	}
	return name, true, nil
}

// SetKernelForDocument saves the active kernel name for the document.
// A no-op when the document has no interpreter saved yet.
func (s *WorkspaceStore) SetKernelForDocument(documentID, kernelName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE document_state SET kernel_name = ?, updated_at = ?
		WHERE document_id = ?
	`, kernelName, time.Now().Unix(), documentID)
	if err != nil {
		return fmt.Errorf("saving kernel name: %w", err)
	}
	return nil
}

// Forget removes the saved state for a document.
func (s *WorkspaceStore) Forget(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM document_state WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("forgetting document state: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *WorkspaceStore) Close() error {
	return s.db.Close()
}

var _ types.InterpreterStore = (*WorkspaceStore)(nil)
