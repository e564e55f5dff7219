package usecase

import "context"

// inTx runs fn inside a database transaction bounded by
// DefaultTransactionTimeout. When a retrier is configured the whole unit of
// work is re-run on transient store aborts, so fn must not keep state across
// attempts other than through its return values.
func inTx(ctx context.Context, txManager TxManager, retrier Retrier, fn func(ctx context.Context, tx Tx) error) error {
	attempt := func() error {
		txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
		defer cancel()

		tx, err := txManager.Begin(txCtx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(txCtx) }()

		if err := fn(txCtx, tx); err != nil {
			return err
		}

		return tx.Commit(txCtx)
	}

	if retrier == nil {
		return attempt()
	}
	return retrier.Retry(ctx, attempt)
}
