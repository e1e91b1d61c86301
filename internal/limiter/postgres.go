package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter implementation with sliding window and lockout.
type PG struct {
	pool     Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// Querier is the part of a pgx pool the limiter uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter: maxFails failures within window block for blockFor.
func NewPG(q Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Allow reports whether an attempt may proceed and, when blocked, how long until it may.
func (l *PG) Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE subject=$1 AND ip_hash=$2`
	var until time.Time
	err := l.pool.QueryRow(ctx, q, subject, ipHash).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if wait := until.Sub(l.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success resets counters for (subject, ip).
func (l *PG) Success(ctx context.Context, subject string, ipHash []byte) error {
	const q = `
INSERT INTO auth_limiter (subject, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', $3)
ON CONFLICT (subject, ip_hash)
DO UPDATE SET fail_count = 0, blocked_until = 'epoch', updated_at = EXCLUDED.updated_at`
	_, err := l.pool.Exec(ctx, q, subject, ipHash, l.now())
	return err
}

// Failure records a failed attempt. Counting and blocking happen in one statement, so
// concurrent failures cannot slip past the threshold between increment and block.
// A gap longer than the window restarts the count.
func (l *PG) Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	now := l.now()

	const q = `
INSERT INTO auth_limiter AS a (subject, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1,
  CASE WHEN $4::int <= 1 THEN $6::timestamptz ELSE 'epoch'::timestamptz END,
  $5::timestamptz)
ON CONFLICT (subject, ip_hash) DO UPDATE SET
  fail_count = CASE WHEN $5::timestamptz - a.updated_at > $3::interval THEN 1 ELSE a.fail_count + 1 END,
  blocked_until = CASE
    WHEN (CASE WHEN $5::timestamptz - a.updated_at > $3::interval THEN 1 ELSE a.fail_count + 1 END) >= $4::int
    THEN $6::timestamptz
    ELSE a.blocked_until END,
  updated_at = $5::timestamptz
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, subject, ipHash, l.window, l.maxFails, now, now.Add(l.blockFor)).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails >= l.maxFails {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}

// Sweep deletes rows that have been idle for a whole window and are not blocked.
func (l *PG) Sweep(ctx context.Context) (int64, error) {
	now := l.now()
	const q = `DELETE FROM auth_limiter WHERE updated_at < $1 AND blocked_until < $2`
	tag, err := l.pool.Exec(ctx, q, now.Add(-l.window), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
