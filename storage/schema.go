package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer — часть pgxpool.Pool, нужная для DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createFetchTable = `
create table if not exists token_fetches (
  id           bigserial primary key,
  requested_at timestamptz not null,
  duration_ms  bigint not null,
  outcome      text not null,
  status_code  integer,
  expires_at   timestamptz
);`

// EnsureSchema создаёт таблицу журнала, если её ещё нет, с учётом таймаута.
func EnsureSchema(ctx context.Context, db Execer, timeout time.Duration) error {
	dbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := db.Exec(dbCtx, createFetchTable); err != nil {
		return fmt.Errorf("journal: create table: %w", err)
	}
	return nil
}
