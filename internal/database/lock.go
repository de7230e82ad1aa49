package database

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"
)

// ErrLockHeld is returned when another process holds the named lock.
var ErrLockHeld = errors.New("lock held by another process")

// Locker guards work that must not run on two instances at once.
// The returned release func must always be called.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// NoopLocker is used for single-instance deployments.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, name string) (func(), error) {
	return func() {}, nil
}

// MySQLLocker uses GET_LOCK/RELEASE_LOCK on a dedicated connection.
// Named locks are bound to the session, so acquire and release share one *sql.Conn.
type MySQLLocker struct {
	db *gorm.DB
}

func NewMySQLLocker(db *gorm.DB) *MySQLLocker {
	return &MySQLLocker{db: db}
}

func (l *MySQLLocker) Acquire(ctx context.Context, name string) (func(), error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !got.Valid || got.Int64 != 1 {
		_ = conn.Close()
		return nil, ErrLockHeld
	}

	return func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", name)
		_ = conn.Close()
	}, nil
}
