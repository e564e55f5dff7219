package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	s := miniredis.RunT(t)

	ctx := context.Background()
	client, err := NewClient(ctx, "redis://"+s.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(ctx, "idem:checkout-1", "pending", time.Minute).Err())
	assert.True(t, s.Exists("idem:checkout-1"))
}

func TestNewClientErrors(t *testing.T) {
	down := miniredis.RunT(t)
	downURL := "redis://" + down.Addr()
	down.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"unparseable url", "://bad-url"},
		{"wrong scheme", "http://localhost:6379"},
		{"server down", downURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), tt.url)
			assert.Error(t, err)
		})
	}
}
