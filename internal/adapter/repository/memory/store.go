// Package memory is a transactional in-process store used by the escrow
// scenario and concurrency tests in place of Postgres.
//
// Writers take exclusive row locks that are held until Commit or Rollback,
// the same discipline as SELECT ... FOR UPDATE. Rollback replays an undo log
// whose steps only touch rows the transaction wrote itself.
// Reads outside a transaction see the latest written state.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

var errTxDone = errors.New("memory: transaction already finished")

// Store holds every table of the escrow schema.
type Store struct {
	mu sync.Mutex

	locks map[string]chan struct{}

	accounts     map[string]*domain.Account
	inserting    map[string]*Tx
	holds        map[string]*domain.Hold
	postings     []*domain.Posting
	transactions map[string]*domain.Transaction
	txSeq        int64
	txByKey      map[string]string
	messages     map[string][]*domain.Message
	msgSeq       map[string]int64
	msgByToken   map[string]*domain.Message
	deposits     map[string]*domain.Deposit
	outbox       []*domain.OutboxEvent
	audit        []*domain.AuditLog
}

func NewStore() *Store {
	return &Store{
		locks:        make(map[string]chan struct{}),
		accounts:     make(map[string]*domain.Account),
		inserting:    make(map[string]*Tx),
		holds:        make(map[string]*domain.Hold),
		transactions: make(map[string]*domain.Transaction),
		txByKey:      make(map[string]string),
		messages:     make(map[string][]*domain.Message),
		msgSeq:       make(map[string]int64),
		msgByToken:   make(map[string]*domain.Message),
		deposits:     make(map[string]*domain.Deposit),
	}
}

// Begin implements usecase.TxManager.
func (s *Store) Begin(ctx context.Context) (usecase.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: s, held: make(map[string]chan struct{})}, nil
}

// Tx is a unit of work against a Store.
type Tx struct {
	store  *Store
	held   map[string]chan struct{}
	undo   []func()
	commit []func()
	done   bool
}

// Commit keeps the writes and releases the row locks.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	t.store.mu.Lock()
	for _, fn := range t.commit {
		fn()
	}
	t.store.mu.Unlock()

	t.undo, t.commit = nil, nil
	t.unlock()
	return nil
}

// Rollback reverts the writes. It is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()

	t.undo, t.commit = nil, nil
	t.unlock()
	return nil
}

// lock acquires the row lock for key, waiting until it is free or ctx ends.
// Locks are re-entrant within a transaction.
func (t *Tx) lock(ctx context.Context, key string) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.held[key]; ok {
		return nil
	}

	t.store.mu.Lock()
	l, ok := t.store.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		t.store.locks[key] = l
	}
	t.store.mu.Unlock()

	select {
	case l <- struct{}{}:
		t.held[key] = l
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tx) unlock() {
	for key, l := range t.held {
		<-l
		delete(t.held, key)
	}
}

// onRollback registers a revert step. Callers hold store.mu.
func (t *Tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// onCommit registers a step run under store.mu once the writes are kept.
func (t *Tx) onCommit(fn func()) {
	t.commit = append(t.commit, fn)
}

// without removes drop from items in place, matching by identity.
func without[T comparable](items []T, drop ...T) []T {
	set := make(map[T]struct{}, len(drop))
	for _, d := range drop {
		set[d] = struct{}{}
	}
	kept := items[:0]
	for _, it := range items {
		if _, ok := set[it]; !ok {
			kept = append(kept, it)
		}
	}
	clear(items[len(kept):])
	return kept
}

func asTx(tx usecase.Tx) (*Tx, error) {
	mt, ok := tx.(*Tx)
	if !ok || mt == nil {
		return nil, errors.New("memory: foreign or nil transaction")
	}
	if mt.done {
		return nil, errTxDone
	}
	return mt, nil
}
