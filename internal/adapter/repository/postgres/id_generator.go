package postgres

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDGenerator issues lexically sortable ids. Postings and messages created
// in the same millisecond still sort in creation order because the entropy
// source is monotonic.
type ULIDGenerator struct {
	now func() time.Time
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{now: time.Now}
}

// Generate returns a new id.
func (g *ULIDGenerator) Generate() string {
	return ulid.MustNew(ulid.Timestamp(g.now()), ulid.DefaultEntropy()).String()
}
