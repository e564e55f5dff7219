package domain

import "time"

// Bucket is the part of an account a posting moves.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketHeld      Bucket = "held"
)

type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// PostingKind describes why money moved.
type PostingKind string

const (
	PostingKindHold       PostingKind = "hold"
	PostingKindVoid       PostingKind = "void"
	PostingKindSettlement PostingKind = "settlement"
	PostingKindFee        PostingKind = "fee"
	PostingKindDeposit    PostingKind = "deposit"
	PostingKindWithdrawal PostingKind = "withdrawal"
)

type ReferenceType string

const (
	ReferenceTransaction ReferenceType = "transaction"
	ReferenceDeposit     ReferenceType = "deposit"
	ReferenceWithdrawal  ReferenceType = "withdrawal"
)

// Posting is an immutable ledger line. Amount is always positive; the sign
// comes from Direction.
type Posting struct {
	ID             string
	AccountID      string
	Bucket         Bucket
	Direction      Direction
	Kind           PostingKind
	Amount         int64
	Currency       string
	ReferenceType  ReferenceType
	ReferenceID    string
	HoldID         string
	BalanceAfter   int64
	AccountVersion int64
	CreatedAt      time.Time
}

// Signed returns the posting amount as a balance delta.
func (p *Posting) Signed() int64 {
	if p.Direction == Debit {
		return -p.Amount
	}
	return p.Amount
}

// Journal is a set of postings written as one unit. Every journal balances
// to zero so the ledger as a whole always sums to zero.
type Journal struct {
	ReferenceType ReferenceType
	ReferenceID   string
	Currency      string
	HoldID        string
	Postings      []*Posting
}

// NewJournal starts a journal for the given reference.
func NewJournal(refType ReferenceType, refID, currency string) *Journal {
	return &Journal{ReferenceType: refType, ReferenceID: refID, Currency: currency}
}

// Move appends a debit/credit pair moving amount between two account buckets.
func (j *Journal) Move(kind PostingKind, fromAccount string, fromBucket Bucket, toAccount string, toBucket Bucket, amount int64) *Journal {
	return j.Debit(kind, fromAccount, fromBucket, amount).Credit(kind, toAccount, toBucket, amount)
}

// Debit appends a single debit line. Zero amounts are skipped.
func (j *Journal) Debit(kind PostingKind, account string, bucket Bucket, amount int64) *Journal {
	return j.line(Debit, kind, account, bucket, amount)
}

// Credit appends a single credit line. Zero amounts are skipped.
func (j *Journal) Credit(kind PostingKind, account string, bucket Bucket, amount int64) *Journal {
	return j.line(Credit, kind, account, bucket, amount)
}

func (j *Journal) line(dir Direction, kind PostingKind, account string, bucket Bucket, amount int64) *Journal {
	if amount == 0 {
		return j
	}
	j.Postings = append(j.Postings, &Posting{
		AccountID: account,
		Bucket:    bucket,
		Direction: dir,
		Kind:      kind,
		Amount:    amount,
	})
	return j
}

// Validate checks the journal is non-empty, positive and balanced.
func (j *Journal) Validate() error {
	if len(j.Postings) == 0 {
		return ErrInvalidAmount
	}
	var sum int64
	for _, p := range j.Postings {
		if p.Amount <= 0 {
			return ErrInvalidAmount
		}
		sum += p.Signed()
	}
	if sum != 0 {
		return ErrUnbalancedJournal
	}
	return nil
}

// AccountIDs returns the distinct accounts touched by the journal.
func (j *Journal) AccountIDs() []string {
	seen := make(map[string]struct{}, len(j.Postings))
	ids := make([]string, 0, len(j.Postings))
	for _, p := range j.Postings {
		if _, ok := seen[p.AccountID]; ok {
			continue
		}
		seen[p.AccountID] = struct{}{}
		ids = append(ids, p.AccountID)
	}
	return ids
}

// Settlement summarises a posted journal.
type Settlement struct {
	ReferenceType ReferenceType
	ReferenceID   string
	Gross         int64
	Fee           int64
	Net           int64
	Postings      []*Posting
}
