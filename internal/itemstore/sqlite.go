package itemstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/entitysync/internal/itemquery"
	"github.com/roach88/entitysync/internal/itemsql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added idx_items_alive for item listings
const currentSchemaVersion = 1

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite item store at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Opening an existing store applies pending migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open item store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect item store: %w", err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	slog.Debug("item store opened", "backend", "sqlite", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB returns the underlying sql.DB.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Write implements Store.
func (s *SQLiteStore) Write(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, func(t *sqliteTx) error { return fn(t) })
}

// Read implements Store. The closure sees a consistent snapshot; its writes
// are rolled back.
func (s *SQLiteStore) Read(ctx context.Context, fn func(Reader) error) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()
	return fn(newSQLiteTx(tx))
}

func (s *SQLiteStore) run(ctx context.Context, fn func(*sqliteTx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	if err := fn(newSQLiteTx(tx)); err != nil {
		tx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.Rollback()
		return fmt.Errorf("write cancelled: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx       *sql.Tx
	compiler *itemsql.Compiler
}

func newSQLiteTx(tx *sql.Tx) *sqliteTx {
	return &sqliteTx{tx: tx, compiler: itemsql.NewCompiler(Encode)}
}

func (t *sqliteTx) Value(ctx context.Context, item ItemID, attr Attribute) (any, bool, error) {
	var raw []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT value FROM attribute_values WHERE item = ? AND attribute = ?`,
		int64(item), attr.Name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s of %s: %w", attr.Name, item, err)
	}
	v, err := Decode(raw)
	if err != nil {
		return nil, false, fmt.Errorf("read %s of %s: %w", attr.Name, item, err)
	}
	return v, true, nil
}

func (t *sqliteTx) Query(ctx context.Context, expr itemquery.Expr) ([]ItemID, error) {
	query, params, err := t.compiler.Compile(expr)
	if err != nil {
		return nil, err
	}
	return t.items(ctx, query, params...)
}

func (t *sqliteTx) FindMaterialized(ctx context.Context, descriptor string) (ItemID, bool, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT item FROM materialized WHERE descriptor = ?`, descriptor,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find materialized %q: %w", descriptor, err)
	}
	return ItemID(id), true, nil
}

func (t *sqliteTx) Alive(ctx context.Context, item ItemID) (bool, error) {
	var alive bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT alive FROM items WHERE item = ?`, int64(item),
	).Scan(&alive)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("alive %s: %w", item, err)
	}
	return alive, nil
}

func (t *sqliteTx) Attributes(ctx context.Context, item ItemID) (map[string]any, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT attribute, value FROM attribute_values WHERE item = ? ORDER BY attribute ASC`,
		int64(item),
	)
	if err != nil {
		return nil, fmt.Errorf("attributes of %s: %w", item, err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("attributes of %s: %w", item, err)
		}
		v, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("attributes of %s: %s: %w", item, name, err)
		}
		out[name] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attributes of %s: %w", item, err)
	}
	return out, nil
}

func (t *sqliteTx) Items(ctx context.Context) ([]ItemID, error) {
	return t.items(ctx, `SELECT item FROM items WHERE alive = 1 ORDER BY item ASC`)
}

func (t *sqliteTx) Descriptors(ctx context.Context) (map[ItemID]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT descriptor, item FROM materialized`)
	if err != nil {
		return nil, fmt.Errorf("descriptors: %w", err)
	}
	defer rows.Close()

	out := make(map[ItemID]string)
	for rows.Next() {
		var descriptor string
		var id int64
		if err := rows.Scan(&descriptor, &id); err != nil {
			return nil, fmt.Errorf("descriptors: %w", err)
		}
		out[ItemID(id)] = descriptor
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("descriptors: %w", err)
	}
	return out, nil
}

func (t *sqliteTx) Materialize(ctx context.Context, descriptor string) (ItemID, error) {
	if id, ok, err := t.FindMaterialized(ctx, descriptor); err != nil || ok {
		return id, err
	}
	id, err := t.CreateItem(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO materialized (descriptor, item) VALUES (?, ?)`,
		descriptor, int64(id),
	); err != nil {
		return 0, fmt.Errorf("materialize %q: %w", descriptor, err)
	}
	return id, nil
}

func (t *sqliteTx) CreateItem(ctx context.Context) (ItemID, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO items DEFAULT VALUES`)
	if err != nil {
		return 0, fmt.Errorf("create item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create item: %w", err)
	}
	return ItemID(id), nil
}

func (t *sqliteTx) SetValue(ctx context.Context, item ItemID, attr Attribute, value any) error {
	if err := t.exists(ctx, item); err != nil {
		return err
	}
	v, err := Normalize(attr, value)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", attr.Name, item, err)
	}
	if v == nil {
		if _, err := t.tx.ExecContext(ctx,
			`DELETE FROM attribute_values WHERE item = ? AND attribute = ?`,
			int64(item), attr.Name,
		); err != nil {
			return fmt.Errorf("clear %s on %s: %w", attr.Name, item, err)
		}
		return nil
	}
	raw, err := Encode(v)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", attr.Name, item, err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO attribute_values (item, attribute, value)
		VALUES (?, ?, ?)
		ON CONFLICT(item, attribute) DO UPDATE SET value = excluded.value
	`, int64(item), attr.Name, raw); err != nil {
		return fmt.Errorf("set %s on %s: %w", attr.Name, item, err)
	}
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, item ItemID) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE items SET alive = 0 WHERE item = ?`, int64(item))
	if err != nil {
		return fmt.Errorf("delete %s: %w", item, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", item, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", item, ErrNoItem)
	}
	return nil
}

func (t *sqliteTx) exists(ctx context.Context, item ItemID) error {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE item = ?`, int64(item)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", item, ErrNoItem)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", item, err)
	}
	return nil
}

func (t *sqliteTx) items(ctx context.Context, query string, args ...any) ([]ItemID, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []ItemID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, ItemID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return out, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_items_alive ON items(alive, item)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
