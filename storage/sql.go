package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"dashboard/domain"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS dashboard_owners (
		owner TEXT PRIMARY KEY,
		revision BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS dashboard_items (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		item_type TEXT NOT NULL,
		color TEXT NOT NULL,
		is_pinned BOOLEAN NOT NULL DEFAULT FALSE,
		position INTEGER NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS dashboard_items_owner_position ON dashboard_items (owner, position)`,
}

const itemColumns = `id, owner, title, description, item_type, color, is_pinned, position, created_at, updated_at`

// SQL stores items in a relational database. Every mutation runs in a single
// transaction that first bumps the owner's revision row, which serializes
// writers of the same owner on both SQLite and Postgres.
type SQL struct {
	db      *sql.DB
	dialect dialect

	newID func() string
	now   func() time.Time
}

// OpenSQL opens the database named by dsn. postgres:// and postgresql://
// URLs use pgx; "sqlite:<path>" (or a bare path / ":memory:") uses SQLite.
func OpenSQL(ctx context.Context, dsn string) (*SQL, error) {
	driver, source, d := parseDSN(dsn)
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	switch d {
	case dialectPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case dialectSQLite:
		// one connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				log.WithError(err).WithField("pragma", pragma).Debug("sqlite pragma failed")
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := NewSQL(db, d == dialectPostgres)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an already opened database.
func NewSQL(db *sql.DB, postgres bool) *SQL {
	d := dialectSQLite
	if postgres {
		d = dialectPostgres
	}
	return &SQL{db: db, dialect: d, newID: uuid.NewString, now: time.Now}
}

func parseDSN(dsn string) (driver, source string, d dialect) {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "pgx", dsn, dialectPostgres
	case strings.HasPrefix(lower, "sqlite://"):
		return "sqlite", dsn[len("sqlite://"):], dialectSQLite
	case strings.HasPrefix(lower, "sqlite:"):
		return "sqlite", dsn[len("sqlite:"):], dialectSQLite
	}
	return "sqlite", dsn, dialectSQLite
}

// EnsureSchema creates the tables and indexes if they are missing.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database.
func (s *SQL) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		it               domain.Item
		itemType, color  string
		created, updated int64
	)
	if err := row.Scan(&it.ID, &it.Owner, &it.Title, &it.Description, &itemType, &color, &it.IsPinned, &it.Position, &created, &updated); err != nil {
		return domain.Item{}, err
	}
	it.Type = domain.ItemType(itemType)
	it.Color = domain.Color(color)
	it.CreatedAt = time.Unix(0, created).UTC()
	it.UpdatedAt = time.Unix(0, updated).UTC()
	return it, nil
}

func (s *SQL) withTx(ctx context.Context, owner string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := s.lockOwner(ctx, tx, owner); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQL) lockOwner(ctx context.Context, tx *sql.Tx, owner string) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO dashboard_owners (owner, revision) VALUES (?, 0) ON CONFLICT (owner) DO NOTHING`), owner); err != nil {
		return fmt.Errorf("register owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE dashboard_owners SET revision = revision + 1 WHERE owner = ?`), owner); err != nil {
		return fmt.Errorf("lock owner: %w", err)
	}
	return nil
}

func (s *SQL) listItems(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, owner string) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM dashboard_items WHERE owner = ? ORDER BY position ASC`), owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQL) ListItems(ctx context.Context, owner string) ([]domain.Item, error) {
	return s.listItems(ctx, s.db, owner)
}

func (s *SQL) GetItem(ctx context.Context, owner, id string) (domain.Item, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM dashboard_items WHERE owner = ? AND id = ?`), owner, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, &domain.NotFoundError{ID: id}
	}
	return it, err
}

func (s *SQL) CreateItem(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error) {
	now := s.now().UTC()
	item := domain.Item{
		ID:          s.newID(),
		Owner:       owner,
		Title:       in.Title,
		Description: in.Description,
		Type:        in.Type,
		Color:       in.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.withTx(ctx, owner, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(position), -1) + 1 FROM dashboard_items WHERE owner = ?`), owner).Scan(&next); err != nil {
			return fmt.Errorf("next position: %w", err)
		}
		item.Position = next
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO dashboard_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			item.ID, item.Owner, item.Title, item.Description, string(item.Type), string(item.Color), item.IsPinned, item.Position, now.UnixNano(), now.UnixNano())
		return err
	})
	if err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (s *SQL) UpdateItem(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error) {
	var item domain.Item
	err := s.withTx(ctx, owner, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+itemColumns+` FROM dashboard_items WHERE owner = ? AND id = ?`), owner, id)
		current, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}
		patch.Apply(&current)
		current.UpdatedAt = s.now().UTC()
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE dashboard_items SET title = ?, description = ?, item_type = ?, color = ?, is_pinned = ?, updated_at = ? WHERE owner = ? AND id = ?`),
			current.Title, current.Description, string(current.Type), string(current.Color), current.IsPinned, current.UpdatedAt.UnixNano(), owner, id)
		if err != nil {
			return err
		}
		item = current
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}
	return item, nil
}

func (s *SQL) DeleteItem(ctx context.Context, owner, id string) error {
	return s.withTx(ctx, owner, func(tx *sql.Tx) error {
		var pos int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT position FROM dashboard_items WHERE owner = ? AND id = ?`), owner, id).Scan(&pos)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM dashboard_items WHERE owner = ? AND id = ?`), owner, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE dashboard_items SET position = position - 1 WHERE owner = ? AND position > ?`), owner, pos)
		return err
	})
}

func (s *SQL) ReorderItems(ctx context.Context, owner string, ids []string) ([]domain.Item, error) {
	var items []domain.Item
	err := s.withTx(ctx, owner, func(tx *sql.Tx) error {
		current, err := s.listItems(ctx, tx, owner)
		if err != nil {
			return err
		}
		currentIDs := make([]string, len(current))
		byID := make(map[string]domain.Item, len(current))
		for i, it := range current {
			currentIDs[i] = it.ID
			byID[it.ID] = it
		}
		if err := domain.CheckOrder(currentIDs, ids); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, s.rebind(`UPDATE dashboard_items SET position = ? WHERE owner = ? AND id = ?`))
		if err != nil {
			return err
		}
		defer stmt.Close()
		items = make([]domain.Item, len(ids))
		for i, id := range ids {
			it := byID[id]
			if it.Position != i {
				if _, err := stmt.ExecContext(ctx, i, owner, id); err != nil {
					return err
				}
			}
			it.Position = i
			items[i] = it
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
