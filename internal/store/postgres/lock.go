package postgres

import (
	"context"
	"fmt"
	"log/slog"
)

// reconcileLockKey identifies the session advisory lock held for the duration of a reconciliation pass.
const reconcileLockKey int64 = 0x5ce7e

// TryLockPass takes the cluster-wide reconciliation lock without waiting.
// When ok is true the caller must invoke release once the pass is over.
func (s *Store) TryLockPass(ctx context.Context) (release func(), ok bool, err error) {
	// Session locks belong to a connection, so pin one for the whole pass.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for pass lock: %w", err)
	}

	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", reconcileLockKey).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("pass lock query failed: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	release = func() {
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", reconcileLockKey); err != nil {
			slog.Warn("failed to release pass lock", "error", err)
		}
		conn.Close()
	}
	return release, true, nil
}
