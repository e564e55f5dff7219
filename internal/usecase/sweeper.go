package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically cancels pending transactions that outlived the
// escrow policy's PendingTTL.
type Sweeper struct {
	transactions *TransactionUseCase
	logger       zerolog.Logger
	batchSize    int
	interval     time.Duration
}

// SweeperConfig for Sweeper.
type SweeperConfig struct {
	Transactions *TransactionUseCase
	Logger       zerolog.Logger
	BatchSize    int           // Transactions expired per tick at most
	Interval     time.Duration // Polling interval
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}

	return &Sweeper{
		transactions: cfg.Transactions,
		logger:       cfg.Logger.With().Str("component", "sweeper").Logger(),
		batchSize:    cfg.BatchSize,
		interval:     cfg.Interval,
	}
}

// Start runs until ctx is cancelled. It returns immediately when expiry is
// disabled by the policy.
func (s *Sweeper) Start(ctx context.Context) error {
	ttl := s.transactions.Policy().PendingTTL
	if ttl <= 0 {
		s.logger.Info().Msg("pending transaction expiry disabled")
		return nil
	}

	s.logger.Info().
		Dur("ttl", ttl).
		Dur("interval", s.interval).
		Msg("sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass and returns how many transactions were expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := s.transactions.ExpireStale(ctx, s.batchSize)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("sweep failed")
	}
	if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("expired pending transactions")
	}
	return expired
}
