package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

const (
	jobsTableName    = "sercha_sync_jobs"
	bodiesTableName  = "sercha_sync_chunk_bodies"
	operationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// conn lazily opens the database and creates its table on first use.
type conn struct {
	dsn    string
	ddl    []string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newConn(dsn string, ddl ...string) (*conn, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty postgres dsn", domain.ErrInvalidInput)
	}
	return &conn{dsn: dsn, ddl: ddl, openDB: sql.Open}, nil
}

func (c *conn) ensureReady() error {
	c.initOnce.Do(func() {
		db, err := c.openDB("postgres", c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		for _, stmt := range c.ddl {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				c.initErr = fmt.Errorf("creating tables: %w", err)
				return
			}
		}
		c.db = db
	})
	return c.initErr
}

func (c *conn) close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// withTimeout bounds a single operation unless ctx is already shorter.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, operationTimeout)
}

func (c *conn) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
