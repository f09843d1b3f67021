// Package memory is an in-process ledger with the same locking and
// transaction semantics the workflow relies on from PostgreSQL:
// row locks taken by the ForUpdate getters are held until commit or rollback,
// and writes made inside a transaction become visible only on commit.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/repositories"
)

var errTxDone = errors.New("transaction already finished")

type txKey struct{}

// Store holds the committed ledger state
type Store struct {
	mu sync.Mutex

	users       map[int64]*models.User
	usersByName map[string]int64
	nextUserID  int64

	requests      map[int64]*models.Request
	nextRequestID int64

	// names is the permanent secret name registry; reserved holds names claimed by open transactions
	names    map[string]struct{}
	reserved map[string]*Transaction

	audit       []*models.AuditLog
	nextAuditID int64

	rowLocks map[int64]chan struct{}
}

// NewStore creates an empty ledger
func NewStore() *Store {
	return &Store{
		users:       make(map[int64]*models.User),
		usersByName: make(map[string]int64),
		requests:    make(map[int64]*models.Request),
		names:       make(map[string]struct{}),
		reserved:    make(map[string]*Transaction),
		rowLocks:    make(map[int64]chan struct{}),
	}
}

// Repositories returns repositories over the store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:     &UserRepository{store: s},
		Requests:  &RequestRepository{store: s},
		AuditLogs: &AuditRepository{store: s},
	}
}

// TransactionManager returns a transaction manager over the store
func (s *Store) TransactionManager() repositories.TransactionManager {
	return &TransactionManager{store: s}
}

func (s *Store) lockRow(ctx context.Context, id int64) error {
	s.mu.Lock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.rowLocks[id] = l
	}
	s.mu.Unlock()

	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlockRow(id int64) {
	s.mu.Lock()
	l := s.rowLocks[id]
	s.mu.Unlock()
	<-l
}

// txFrom returns the open transaction in ctx when it belongs to s
func (s *Store) txFrom(ctx context.Context) *Transaction {
	tx, ok := ctx.Value(txKey{}).(*Transaction)
	if !ok || tx.store != s {
		return nil
	}
	return tx
}

// TransactionManager implements repositories.TransactionManager
type TransactionManager struct {
	store *Store
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx := &Transaction{
		store:   tm.store,
		staged:  make(map[int64]*models.Request),
		created: make(map[int64]bool),
		locked:  make(map[int64]bool),
	}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx, nil
}

// InTransaction executes fn within a transaction, committing on success
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transaction stages writes until Commit
type Transaction struct {
	store *Store
	ctx   context.Context

	staged  map[int64]*models.Request
	created map[int64]bool
	names   []string
	audit   []*models.AuditLog
	locked  map[int64]bool
	done    bool
}

// Context returns the transaction context
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Commit applies staged writes and releases row locks
func (t *Transaction) Commit() error {
	s := t.store
	s.mu.Lock()
	if t.done {
		s.mu.Unlock()
		return errTxDone
	}
	t.done = true
	for id, req := range t.staged {
		s.requests[id] = req
	}
	for _, name := range t.names {
		s.names[name] = struct{}{}
		delete(s.reserved, name)
	}
	for _, entry := range t.audit {
		s.audit = append(s.audit, entry)
	}
	s.mu.Unlock()

	t.release()
	return nil
}

// Rollback discards staged writes and releases row locks.
// Rolling back a finished transaction is a no-op.
func (t *Transaction) Rollback() error {
	s := t.store
	s.mu.Lock()
	if t.done {
		s.mu.Unlock()
		return nil
	}
	t.done = true
	for _, name := range t.names {
		delete(s.reserved, name)
	}
	s.mu.Unlock()

	t.release()
	return nil
}

func (t *Transaction) release() {
	for id := range t.locked {
		t.store.unlockRow(id)
	}
	t.locked = nil
}
