// Package postgres provides a docstore backend on PostgreSQL. Documents are
// JSONB rows; the change feed is emulated by a changelog table written in
// the same transaction as every mutation and polled by watchers, which
// yields the same event shape as a native change stream.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		Database:        "hiera_registry",
		User:            "postgres",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		PollInterval:    500 * time.Millisecond,
	}
}

// DSN returns the connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode,
	)
}

// Store implements docstore.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	config Config

	mu     sync.Mutex
	tables map[string]bool
	closed bool
}

// NewStore connects and prepares the changelog table.
func NewStore(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, config: cfg, tables: make(map[string]bool)}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS docstore_changelog (
			seq        BIGSERIAL PRIMARY KEY,
			collection TEXT        NOT NULL,
			op         TEXT        NOT NULL,
			doc_id     TEXT        NOT NULL,
			doc        JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create changelog table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS docstore_changelog_coll_seq
		ON docstore_changelog (collection, seq)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to index changelog table: %w", err)
	}
	return s, nil
}

// Collection returns the named collection, creating its table on first use.
func (s *Store) Collection(name string) docstore.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := tableName(name)
	if !s.tables[table] {
		// Collection names are internal constants; failure here surfaces on
		// the first operation instead.
		_, _ = s.db.Exec(fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`, table))
		s.tables[table] = true
	}
	return &collection{store: s, name: name, table: table}
}

// Close closes the database pool.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// IsHealthy pings the database.
func (s *Store) IsHealthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func tableName(collection string) string {
	return "docs_" + strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(collection))
}

type collection struct {
	store *Store
	name  string
	table string
}

func (c *collection) Name() string { return c.name }

func (c *collection) db() *sql.DB { return c.store.db }

func (c *collection) Insert(ctx context.Context, doc docstore.Document) (string, error) {
	stored := docstore.DeepCopy(doc)
	id, _ := stored[docstore.KeyField].(string)
	if id == "" {
		id = uuid.NewString()
		stored[docstore.KeyField] = id
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	tx, err := c.db().BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb)`, c.table), id, raw); err != nil {
		return "", translateError(err)
	}
	if err := c.logChange(ctx, tx, docstore.OpInsert, id, raw); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func (c *collection) FindOne(ctx context.Context, filter docstore.Filter) (docstore.Document, error) {
	where, args := buildWhere(filter)
	row := c.db().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %s %s ORDER BY id LIMIT 1`, c.table, where), args...)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNoDocument
		}
		return nil, err
	}
	return unmarshalDoc(raw)
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf(`SELECT doc FROM %s %s`, c.table, where)
	if len(opts.Sort) > 0 {
		var orders []string
		for _, sf := range opts.Sort {
			dir := "ASC"
			if sf.Desc {
				dir = "DESC"
			}
			orders = append(orders, fmt.Sprintf("doc #> '%s' %s", pgPath(sf.Field), dir))
		}
		query += " ORDER BY " + strings.Join(orders, ", ")
	} else {
		query += " ORDER BY id"
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Skip > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Skip)
	}

	rows, err := c.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []docstore.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := unmarshalDoc(raw)
		if err != nil {
			return nil, err
		}
		results = append(results, docstore.Project(doc, opts.Projection))
	}
	return results, rows.Err()
}

func (c *collection) FindOneAndUpdate(ctx context.Context, filter docstore.Filter, update docstore.Update, upsert bool) (docstore.Document, error) {
	tx, err := c.db().BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	where, args := buildWhere(filter)
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, doc FROM %s %s ORDER BY id LIMIT 1 FOR UPDATE`, c.table, where), args...)
	var id string
	var raw []byte
	err = row.Scan(&id, &raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !upsert {
			return nil, docstore.ErrNoDocument
		}
		seed := docstore.Document{}
		for path, v := range filter.Eq {
			if !strings.Contains(path, ".") {
				seed[path] = v
			}
		}
		created := docstore.ApplyUpdate(seed, update)
		id, _ = created[docstore.KeyField].(string)
		if id == "" {
			id = uuid.NewString()
			created[docstore.KeyField] = id
		}
		newRaw, err := json.Marshal(created)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb)`, c.table), id, newRaw); err != nil {
			return nil, translateError(err)
		}
		if err := c.logChange(ctx, tx, docstore.OpInsert, id, newRaw); err != nil {
			return nil, err
		}
		return created, tx.Commit()
	case err != nil:
		return nil, err
	}

	doc, err := unmarshalDoc(raw)
	if err != nil {
		return nil, err
	}
	updated := docstore.ApplyUpdate(doc, update)
	updated[docstore.KeyField] = id
	newRaw, err := json.Marshal(updated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET doc = $2::jsonb WHERE id = $1`, c.table), id, newRaw); err != nil {
		return nil, translateError(err)
	}
	if err := c.logChange(ctx, tx, docstore.OpUpdate, id, newRaw); err != nil {
		return nil, err
	}
	return updated, tx.Commit()
}

func (c *collection) DeleteOne(ctx context.Context, filter docstore.Filter) error {
	tx, err := c.db().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	where, args := buildWhere(filter)
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s %s ORDER BY id LIMIT 1 FOR UPDATE`, c.table, where), args...)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.ErrNoDocument
		}
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, c.table), id); err != nil {
		return err
	}
	if err := c.logChange(ctx, tx, docstore.OpDelete, id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int, error) {
	tx, err := c.db().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	where, args := buildWhere(filter)
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s %s FOR UPDATE`, c.table, where), args...)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, c.table), id); err != nil {
			return 0, err
		}
		if err := c.logChange(ctx, tx, docstore.OpDelete, id, nil); err != nil {
			return 0, err
		}
	}
	return len(ids), tx.Commit()
}

func (c *collection) UpdateMany(ctx context.Context, filter docstore.Filter, update docstore.Update) (int, error) {
	tx, err := c.db().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	where, args := buildWhere(filter)
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, doc FROM %s %s FOR UPDATE`, c.table, where), args...)
	if err != nil {
		return 0, err
	}
	type pending struct {
		id  string
		doc docstore.Document
	}
	var matched []pending
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		doc, err := unmarshalDoc(raw)
		if err != nil {
			rows.Close()
			return 0, err
		}
		matched = append(matched, pending{id: id, doc: doc})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range matched {
		updated := docstore.ApplyUpdate(p.doc, update)
		updated[docstore.KeyField] = p.id
		newRaw, err := json.Marshal(updated)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET doc = $2::jsonb WHERE id = $1`, c.table), p.id, newRaw); err != nil {
			return 0, translateError(err)
		}
		if err := c.logChange(ctx, tx, docstore.OpUpdate, p.id, newRaw); err != nil {
			return 0, err
		}
	}
	return len(matched), tx.Commit()
}

func (c *collection) CreateIndex(ctx context.Context, spec docstore.IndexSpec) error {
	var exprs []string
	for _, f := range spec.Fields {
		exprs = append(exprs, fmt.Sprintf("(doc #> '%s')", pgPath(f)))
	}
	unique := ""
	if spec.Unique {
		unique = "UNIQUE "
	}
	name := spec.Name
	if name == "" {
		name = c.table + "_" + strings.NewReplacer(".", "_", ",", "_").Replace(strings.Join(spec.Fields, "_"))
	}
	_, err := c.db().ExecContext(ctx, fmt.Sprintf(
		`CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)`,
		unique, pq.QuoteIdentifier(name), c.table, strings.Join(exprs, ", ")))
	return translateError(err)
}

// Watch polls the changelog table for this collection, starting after the
// current maximum sequence.
func (c *collection) Watch(ctx context.Context) (<-chan docstore.Event, error) {
	var last sql.NullInt64
	if err := c.db().QueryRowContext(ctx,
		`SELECT max(seq) FROM docstore_changelog WHERE collection = $1`, c.name).Scan(&last); err != nil {
		return nil, err
	}

	interval := c.store.config.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ch := make(chan docstore.Event, 64)
	go func() {
		defer close(ch)
		cursor := last.Int64
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			events, next, err := c.pollChanges(ctx, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			cursor = next
			for _, ev := range events {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (c *collection) pollChanges(ctx context.Context, after int64) ([]docstore.Event, int64, error) {
	rows, err := c.db().QueryContext(ctx, `
		SELECT seq, op, doc_id, doc FROM docstore_changelog
		WHERE collection = $1 AND seq > $2 ORDER BY seq`, c.name, after)
	if err != nil {
		return nil, after, err
	}
	defer rows.Close()

	var events []docstore.Event
	cursor := after
	for rows.Next() {
		var (
			seq   int64
			op    string
			docID string
			raw   []byte
		)
		if err := rows.Scan(&seq, &op, &docID, &raw); err != nil {
			return nil, cursor, err
		}
		ev := docstore.Event{Op: docstore.Op(op), DocumentKey: docID}
		if len(raw) > 0 {
			doc, err := unmarshalDoc(raw)
			if err != nil {
				return nil, cursor, err
			}
			ev.FullDocument = doc
		}
		events = append(events, ev)
		cursor = seq
	}
	return events, cursor, rows.Err()
}

func (c *collection) logChange(ctx context.Context, tx *sql.Tx, op docstore.Op, id string, raw []byte) error {
	var doc any
	if raw != nil {
		doc = raw
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO docstore_changelog (collection, op, doc_id, doc)
		VALUES ($1, $2, $3, $4::jsonb)`, c.name, string(op), id, doc)
	return err
}

func unmarshalDoc(raw []byte) (docstore.Document, error) {
	var doc docstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}

// pgPath renders a dotted field path as a postgres text-array path literal.
func pgPath(field string) string {
	return "{" + strings.ReplaceAll(field, ".", ",") + "}"
}

// buildWhere translates a Filter into a WHERE clause with placeholders.
func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	jsonArg := func(v any) string {
		raw, _ := json.Marshal(v)
		return arg(string(raw)) + "::jsonb"
	}
	path := func(field string) string {
		return fmt.Sprintf("doc #> '%s'", pgPath(field))
	}

	for field, v := range f.Eq {
		if field == docstoreKeyField {
			conds = append(conds, fmt.Sprintf("id = %s", arg(v)))
			continue
		}
		conds = append(conds, fmt.Sprintf("%s = %s", path(field), jsonArg(v)))
	}
	for field, values := range f.In {
		var ors []string
		for _, v := range values {
			ors = append(ors, fmt.Sprintf("%s = %s", path(field), jsonArg(v)))
		}
		if len(ors) == 0 {
			conds = append(conds, "FALSE")
			continue
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	for field, values := range f.NotIn {
		var ors []string
		for _, v := range values {
			ors = append(ors, fmt.Sprintf("%s = %s", path(field), jsonArg(v)))
		}
		if len(ors) == 0 {
			continue
		}
		conds = append(conds, fmt.Sprintf("(%s IS NULL OR NOT (%s))", path(field), strings.Join(ors, " OR ")))
	}
	for field, values := range f.All {
		conds = append(conds, fmt.Sprintf("%s @> %s", path(field), jsonArg(values)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Filter is re-exported locally to keep buildWhere signatures short.
type Filter = docstore.Filter

const docstoreKeyField = docstore.KeyField

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return docstore.ErrDuplicateKey
	}
	return err
}
