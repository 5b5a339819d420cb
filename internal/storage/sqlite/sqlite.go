// Package sqlite implements the storage interfaces on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/agentplan/internal/storage"
)

// Store implements storage.Storage using SQLite.
type Store struct {
	db      *sql.DB // Deferred transactions (reads)
	writeDB *sql.DB // Immediate transactions (writes)
	path    string
}

// Open creates a SQLite store at path.
func Open(path string) (*Store, error) {
	base := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

	db, err := sql.Open("sqlite3", base)
	if err != nil {
		return nil, err
	}
	writeDB, err := sql.Open("sqlite3", base+"&_txlock=immediate")
	if err != nil {
		db.Close()
		return nil, err
	}

	// SQLite works best with a single connection for writes.
	for _, d := range []*sql.DB{db, writeDB} {
		d.SetMaxOpenConns(1)
		d.SetMaxIdleConns(1)
	}

	return &Store{db: db, writeDB: writeDB, path: path}, nil
}

// Begin starts a read transaction.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newUnitOfWork(tx), nil
}

// BeginImmediate starts a write transaction holding the write lock up front.
func (s *Store) BeginImmediate(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newUnitOfWork(tx), nil
}

// Migrate brings the schema to the current version.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.writeDB)
}

// Dir returns the directory containing the database file.
func (s *Store) Dir() string {
	return filepath.Dir(s.path)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes both connection pools.
func (s *Store) Close() error {
	err := s.db.Close()
	if werr := s.writeDB.Close(); err == nil {
		err = werr
	}
	return err
}

type unitOfWork struct {
	tx         *sql.Tx
	plans      *planRepo
	nodeStates *nodeStateRepo
}

func newUnitOfWork(tx *sql.Tx) *unitOfWork {
	return &unitOfWork{
		tx:         tx,
		plans:      &planRepo{tx: tx},
		nodeStates: &nodeStateRepo{tx: tx},
	}
}

func (u *unitOfWork) Plans() storage.PlanRepository {
	return u.plans
}

func (u *unitOfWork) NodeStates() storage.NodeStateRepository {
	return u.nodeStates
}

func (u *unitOfWork) Commit() error {
	return u.tx.Commit()
}

func (u *unitOfWork) Rollback() error {
	return u.tx.Rollback()
}
