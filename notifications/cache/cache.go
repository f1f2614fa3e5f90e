// Package cache persists the last reconciled notification set to a local
// SQLite database so the application can show something before the first
// authoritative fetch completes. The in-memory set stays canonical; the
// cache is write-through and never consulted for correctness decisions.
package cache

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/confscout/go-client/notifications"
)

// Cache is the sqlite-backed offline notification cache.
type Cache struct {
	db *sqlx.DB
}

// Open opens (or creates) the cache database at dbPath, enables WAL
// mode, and runs pending schema migrations.
func Open(dbPath string) (*Cache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "[cache.Open] opening sqlite db")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[cache.Open] enabling WAL mode")
	}

	c := &Cache{db: db}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[cache.Open] running migrations")
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// row is the flat sqlite representation of one notification.
type row struct {
	ID        string     `db:"id"`
	Type      string     `db:"type"`
	Title     string     `db:"title"`
	Message   string     `db:"message"`
	CreatedAt time.Time  `db:"created_at"`
	SeenAt    *time.Time `db:"seen_at"`
	Important bool       `db:"important"`
	DeletedAt *time.Time `db:"deleted_at"`
}

// Load returns the cached set, newest first. An empty cache yields an
// empty slice, not an error.
func (c *Cache) Load(ctx context.Context) ([]notifications.Notification, error) {
	var rows []row
	err := c.db.SelectContext(ctx, &rows,
		`SELECT id, type, title, message, created_at, seen_at, important, deleted_at
		 FROM notifications
		 WHERE deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "[Cache.Load] selecting notifications")
	}

	out := make([]notifications.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, notifications.Notification{
			ID:        r.ID,
			Type:      r.Type,
			Title:     r.Title,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
			SeenAt:    r.SeenAt,
			Important: r.Important,
			DeletedAt: r.DeletedAt,
		})
	}
	return out, nil
}

// ReplaceAll rewrites the cache with the given set in one transaction.
// Called after every authoritative fetch and confirmed mutation.
func (c *Cache) ReplaceAll(ctx context.Context, list []notifications.Notification) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "[Cache.ReplaceAll] beginning transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications"); err != nil {
		return errors.Wrap(err, "[Cache.ReplaceAll] clearing notifications")
	}

	const query = `
		INSERT INTO notifications (
			id, type, title, message, created_at, seen_at, important, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "[Cache.ReplaceAll] preparing insert")
	}
	defer stmt.Close()

	for _, n := range list {
		if _, err := stmt.ExecContext(ctx,
			n.ID, n.Type, n.Title, n.Message, n.CreatedAt, n.SeenAt, n.Important, n.DeletedAt,
		); err != nil {
			return errors.Wrapf(err, "[Cache.ReplaceAll] inserting notification %s", n.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "[Cache.ReplaceAll] committing")
	}
	return nil
}

// Clear empties the cache. Used by the termination cascade.
func (c *Cache) Clear() error {
	if _, err := c.db.Exec("DELETE FROM notifications"); err != nil {
		return errors.Wrap(err, "[Cache.Clear] clearing notifications")
	}
	return nil
}
