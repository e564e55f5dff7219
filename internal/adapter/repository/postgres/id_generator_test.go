package postgres

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestULIDGenerator_SortsInCreationOrder(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := &ULIDGenerator{now: func() time.Time { return frozen }}

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = g.Generate()
	}

	assert.True(t, sort.StringsAreSorted(ids), "ids from one millisecond must stay ordered")
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.Len(t, id, 26)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
