package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iho/goescrow/internal/domain"
	"github.com/iho/goescrow/internal/usecase"
)

// AccountRepo implements usecase.AccountRepository.
type AccountRepo struct{ s *Store }

func NewAccountRepo(s *Store) *AccountRepo { return &AccountRepo{s: s} }

func (r *AccountRepo) Ensure(ctx context.Context, tx usecase.Tx, account *domain.Account) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	// A committed row needs no lock. A missing or in-flight row waits for
	// the inserting transaction, like INSERT ... ON CONFLICT DO NOTHING.
	r.s.mu.Lock()
	_, exists := r.s.accounts[account.ID]
	inserter, inFlight := r.s.inserting[account.ID]
	r.s.mu.Unlock()
	if exists && (!inFlight || inserter == mt) {
		return nil
	}

	if err := mt.lock(ctx, "account:"+account.ID); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[account.ID]; ok {
		return nil
	}
	r.s.accounts[account.ID] = cloneAccount(account)
	r.s.inserting[account.ID] = mt
	mt.onCommit(func() { delete(r.s.inserting, account.ID) })
	mt.onRollback(func() {
		delete(r.s.accounts, account.ID)
		delete(r.s.inserting, account.ID)
	})
	return nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	acc, ok := r.s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return cloneAccount(acc), nil
}

func (r *AccountRepo) GetByIDsForUpdate(ctx context.Context, tx usecase.Tx, ids []string) ([]*domain.Account, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := mt.lock(ctx, "account:"+id); err != nil {
			return nil, err
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		if acc, ok := r.s.accounts[id]; ok {
			out = append(out, cloneAccount(acc))
		}
	}
	return out, nil
}

func (r *AccountRepo) UpdateBalances(ctx context.Context, tx usecase.Tx, account *domain.Account) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.lock(ctx, "account:"+account.ID); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.accounts[account.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	r.s.accounts[account.ID] = cloneAccount(account)
	mt.onRollback(func() { r.s.accounts[account.ID] = prev })
	return nil
}

func (r *AccountRepo) List(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := make([]*domain.Account, 0, len(r.s.accounts))
	for _, acc := range r.s.accounts {
		all = append(all, cloneAccount(acc))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, limit, offset), nil
}

// HoldRepo implements usecase.HoldRepository.
type HoldRepo struct{ s *Store }

func NewHoldRepo(s *Store) *HoldRepo { return &HoldRepo{s: s} }

func (r *HoldRepo) Create(ctx context.Context, tx usecase.Tx, hold *domain.Hold) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.lock(ctx, "hold:"+hold.ID); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h := *hold
	r.s.holds[hold.ID] = &h
	mt.onRollback(func() { delete(r.s.holds, hold.ID) })
	return nil
}

func (r *HoldRepo) GetByID(ctx context.Context, id string) (*domain.Hold, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.holds[id]
	if !ok {
		return nil, domain.ErrHoldNotFound
	}
	out := *h
	return &out, nil
}

func (r *HoldRepo) GetByIDForUpdate(ctx context.Context, tx usecase.Tx, id string) (*domain.Hold, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, "hold:"+id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *HoldRepo) UpdateStatus(ctx context.Context, tx usecase.Tx, id string, status domain.HoldStatus, updatedAt time.Time) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.lock(ctx, "hold:"+id); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.holds[id]
	if !ok {
		return domain.ErrHoldNotFound
	}
	next := *prev
	if err := next.Close(status, updatedAt); err != nil {
		return err
	}
	r.s.holds[id] = &next
	mt.onRollback(func() { r.s.holds[id] = prev })
	return nil
}

func (r *HoldRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Hold, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Hold
	for _, h := range r.s.holds {
		if h.AccountID == accountID {
			c := *h
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r *HoldRepo) SumActiveByAccount(ctx context.Context, accountID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var sum int64
	for _, h := range r.s.holds {
		if h.AccountID == accountID && h.Status == domain.HoldStatusActive {
			sum += h.Amount
		}
	}
	return sum, nil
}

// PostingRepo implements usecase.PostingRepository.
type PostingRepo struct{ s *Store }

func NewPostingRepo(s *Store) *PostingRepo { return &PostingRepo{s: s} }

func (r *PostingRepo) Create(ctx context.Context, tx usecase.Tx, postings []*domain.Posting) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	added := make([]*domain.Posting, 0, len(postings))
	for _, p := range postings {
		c := *p
		added = append(added, &c)
	}
	r.s.postings = append(r.s.postings, added...)
	mt.onRollback(func() { r.s.postings = without(r.s.postings, added...) })
	return nil
}

func (r *PostingRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Posting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Posting
	for i := len(r.s.postings) - 1; i >= 0; i-- {
		if p := r.s.postings[i]; p.AccountID == accountID {
			c := *p
			out = append(out, &c)
		}
	}
	return page(out, limit, offset), nil
}

func (r *PostingRepo) ListByReference(ctx context.Context, refType domain.ReferenceType, refID string) ([]*domain.Posting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Posting
	for _, p := range r.s.postings {
		if p.ReferenceType == refType && p.ReferenceID == refID {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *PostingRepo) SumByAccount(ctx context.Context, accountID string) (balance, held int64, err error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.postings {
		if p.AccountID != accountID {
			continue
		}
		balance += p.Signed()
		if p.Bucket == domain.BucketHeld {
			held += p.Signed()
		}
	}
	return balance, held, nil
}

// LedgerRepo implements usecase.LedgerRepository.
type LedgerRepo struct{ s *Store }

func NewLedgerRepo(s *Store) *LedgerRepo { return &LedgerRepo{s: s} }

func (r *LedgerRepo) Totals(ctx context.Context) (postingSum, balanceSum int64, err error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.postings {
		postingSum += p.Signed()
	}
	for _, acc := range r.s.accounts {
		balanceSum += acc.Balance
	}
	return postingSum, balanceSum, nil
}

// TransactionRepo implements usecase.TransactionRepository.
type TransactionRepo struct{ s *Store }

func NewTransactionRepo(s *Store) *TransactionRepo { return &TransactionRepo{s: s} }

func (r *TransactionRepo) Create(ctx context.Context, tx usecase.Tx, t *domain.Transaction) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.lock(ctx, "transaction:"+t.ID); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := ""
	if t.IdempotencyKey != "" {
		key = t.BuyerID + "/" + t.IdempotencyKey
		if _, ok := r.s.txByKey[key]; ok {
			return domain.ErrDuplicateIdempotencyKey
		}
		r.s.txByKey[key] = t.ID
	}

	r.s.txSeq++
	t.Seq = r.s.txSeq
	r.s.transactions[t.ID] = cloneTransaction(t)
	mt.onRollback(func() {
		delete(r.s.transactions, t.ID)
		if key != "" {
			delete(r.s.txByKey, key)
		}
	})
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTransaction(t), nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx usecase.Tx, id string) (*domain.Transaction, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, "transaction:"+id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	id, ok := r.s.txByKey[buyerID+"/"+key]
	r.s.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *TransactionRepo) Update(ctx context.Context, tx usecase.Tx, t *domain.Transaction) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.lock(ctx, "transaction:"+t.ID); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.transactions[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	r.s.transactions[t.ID] = cloneTransaction(t)
	mt.onRollback(func() { r.s.transactions[t.ID] = prev })
	return nil
}

func (r *TransactionRepo) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range r.s.transactions {
		switch filter.Role {
		case "buyer":
			if t.BuyerID != filter.AccountID {
				continue
			}
		case "seller":
			if t.SellerID != filter.AccountID {
				continue
			}
		default:
			if filter.AccountID != "" && !t.IsParticipant(filter.AccountID) {
				continue
			}
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, cloneTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return page(out, filter.Limit, filter.Offset), nil
}

func (r *TransactionRepo) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Transaction
	for _, t := range r.s.transactions {
		if t.Status == domain.TransactionStatusPending && t.CreatedAt.Before(before) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return page(out, limit, 0), nil
}

// MessageRepo implements usecase.MessageRepository.
type MessageRepo struct{ s *Store }

func NewMessageRepo(s *Store) *MessageRepo { return &MessageRepo{s: s} }

func (r *MessageRepo) NextSequence(ctx context.Context, tx usecase.Tx, transactionID string) (int64, error) {
	mt, err := asTx(tx)
	if err != nil {
		return 0, err
	}
	if err := mt.lock(ctx, "msgseq:"+transactionID); err != nil {
		return 0, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev := r.s.msgSeq[transactionID]
	r.s.msgSeq[transactionID] = prev + 1
	mt.onRollback(func() { r.s.msgSeq[transactionID] = prev })
	return prev + 1, nil
}

func (r *MessageRepo) Create(ctx context.Context, tx usecase.Tx, msg *domain.Message) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := ""
	if msg.ClientToken != "" {
		key = tokenKey(msg.TransactionID, msg.SenderID, msg.ClientToken)
		if _, ok := r.s.msgByToken[key]; ok {
			return domain.ErrDuplicateMessage
		}
	}

	c := cloneMessage(msg)
	r.s.messages[msg.TransactionID] = append(r.s.messages[msg.TransactionID], c)
	if key != "" {
		r.s.msgByToken[key] = c
	}
	mt.onRollback(func() {
		r.s.messages[msg.TransactionID] = without(r.s.messages[msg.TransactionID], c)
		if key != "" {
			delete(r.s.msgByToken, key)
		}
	})
	return nil
}

func (r *MessageRepo) GetByClientToken(ctx context.Context, transactionID, senderID, token string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msg, ok := r.s.msgByToken[tokenKey(transactionID, senderID, token)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (r *MessageRepo) ListByTransaction(ctx context.Context, transactionID string, afterSeq int64, limit int) ([]*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msgs := append([]*domain.Message(nil), r.s.messages[transactionID]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })

	var out []*domain.Message
	for _, m := range msgs {
		if m.Seq <= afterSeq {
			continue
		}
		out = append(out, cloneMessage(m))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DepositRepo implements usecase.DepositRepository.
type DepositRepo struct{ s *Store }

func NewDepositRepo(s *Store) *DepositRepo { return &DepositRepo{s: s} }

func (r *DepositRepo) Create(ctx context.Context, deposit *domain.Deposit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *deposit
	r.s.deposits[deposit.ID] = &c
	return nil
}

func (r *DepositRepo) GetByID(ctx context.Context, id string) (*domain.Deposit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deposits[id]
	if !ok {
		return nil, domain.ErrDepositNotFound
	}
	c := *d
	return &c, nil
}

func (r *DepositRepo) GetByIDForUpdate(ctx context.Context, tx usecase.Tx, id string) (*domain.Deposit, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, "deposit:"+id); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *DepositRepo) Update(ctx context.Context, tx usecase.Tx, deposit *domain.Deposit) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.lock(ctx, "deposit:"+deposit.ID); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.deposits[deposit.ID]
	if !ok {
		return domain.ErrDepositNotFound
	}
	c := *deposit
	r.s.deposits[deposit.ID] = &c
	mt.onRollback(func() { r.s.deposits[deposit.ID] = prev })
	return nil
}

func (r *DepositRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Deposit
	for _, d := range r.s.deposits {
		if d.AccountID == accountID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

// OutboxRepo implements usecase.OutboxRepository.
type OutboxRepo struct{ s *Store }

func NewOutboxRepo(s *Store) *OutboxRepo { return &OutboxRepo{s: s} }

func (r *OutboxRepo) Create(ctx context.Context, tx usecase.Tx, event *domain.OutboxEvent) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *event
	r.s.outbox = append(r.s.outbox, &c)
	mt.onRollback(func() { r.s.outbox = without(r.s.outbox, &c) })
	return nil
}

func (r *OutboxRepo) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Published {
			continue
		}
		c := *e
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.outbox {
		if e.ID == id {
			e.Published = true
			e.PublishedAt = &publishedAt
			return nil
		}
	}
	return nil
}

func (r *OutboxRepo) DeletePublished(ctx context.Context, before time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.outbox[:0]
	for _, e := range r.s.outbox {
		if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	r.s.outbox = kept
	return nil
}

// AuditRepo implements usecase.AuditRepository.
type AuditRepo struct{ s *Store }

func NewAuditRepo(s *Store) *AuditRepo { return &AuditRepo{s: s} }

func (r *AuditRepo) CreateTx(ctx context.Context, tx usecase.Tx, log *domain.AuditLog) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *log
	r.s.audit = append(r.s.audit, &c)
	mt.onRollback(func() { r.s.audit = without(r.s.audit, &c) })
	return nil
}

func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.AuditLog
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		l := r.s.audit[i]
		if filter.UserID != "" && l.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && l.Action != filter.Action {
			continue
		}
		if filter.ResourceType != "" && l.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && l.ResourceID != filter.ResourceID {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	return page(out, filter.Limit, filter.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func tokenKey(transactionID, senderID, token string) string {
	return transactionID + "/" + senderID + "/" + token
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

func cloneMessage(m *domain.Message) *domain.Message {
	c := *m
	c.Images = append([]string(nil), m.Images...)
	return &c
}
