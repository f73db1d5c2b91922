package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns three attempts with 100ms exponential backoff
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond}
}

// WithRetry runs WithTransaction and retries it on deadlocks and
// serialization failures.
func (m *Manager) WithRetry(ctx context.Context, config RetryConfig, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before retry %d: %w", attempt, ctx.Err())
		}

		err := m.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: transaction failed after %d attempts: %v", ErrDeadlock, config.MaxRetries, lastErr)
}

// IsRetryableError reports deadlocks (40P01) and serialization failures (40001)
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"40p01", "40001", "deadlock detected", "could not serialize access"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
