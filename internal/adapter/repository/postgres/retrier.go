package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/iho/goescrow/internal/infrastructure/metrics"
)

// SQLSTATE codes a unit of work may safely be replayed after.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrLockNotAvailable     = "55P03"
)

// Retrier implements usecase.Retrier with exponential backoff. Escrow flows
// lock the transaction row and both balances, so concurrent release and
// cancel calls on the same transaction can deadlock; the loser is replayed.
type Retrier struct {
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	metrics         *metrics.Metrics
	logger          zerolog.Logger
}

// NewRetrier creates a retrier with default settings. m may be nil.
func NewRetrier(logger zerolog.Logger, m *metrics.Metrics) *Retrier {
	return &Retrier{
		maxRetries:      3,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     1 * time.Second,
		maxElapsedTime:  10 * time.Second,
		metrics:         m,
		logger:          logger.With().Str("component", "retrier").Logger(),
	}
}

// Retry runs operation, replaying it while it fails with a transient
// conflict and the retry budget lasts.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	attempt := 0

	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		reason, ok := retryReason(err)
		if !ok {
			return backoff.Permanent(err)
		}

		attempt++
		if attempt > r.maxRetries {
			r.logger.Error().Err(err).Str("reason", reason).Int("attempts", attempt).Msg("giving up on unit of work")
			return backoff.Permanent(err)
		}

		if r.metrics != nil {
			r.metrics.DBRetries.WithLabelValues(reason).Inc()
		}
		r.logger.Warn().Err(err).Str("reason", reason).Int("retry", attempt).Msg("transient database conflict, retrying")

		return err
	}, backoff.WithContext(b, ctx))
}

// retryReason classifies err; ok is false for errors that must not be
// replayed.
func retryReason(err error) (reason string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	switch pgErr.Code {
	case pgErrDeadlock:
		return "deadlock", true
	case pgErrSerializationFailure:
		return "serialization_failure", true
	case pgErrLockNotAvailable:
		return "lock_not_available", true
	}
	return "", false
}
