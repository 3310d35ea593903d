// Package pgstore implements store.Store on PostgreSQL through a pgx pool.
//
// All records share one table keyed by (partition, row_key) with a JSONB
// document. Version checks are part of the UPDATE/DELETE predicates, so a
// stale writer affects zero rows instead of racing.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/linkAuth/store"
	"github.com/MrEthical07/linkAuth/store/pgstore/migrations"
)

var _ store.Store = (*Store)(nil)

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

const selectColumns = `partition, row_key, data, version, updated_at`

func (s *Store) Get(ctx context.Context, partition, row string) (store.Record, error) {
	if err := store.CheckKey(partition, row); err != nil {
		return store.Record{}, err
	}
	r := s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM entities WHERE partition = $1 AND row_key = $2`,
		partition, row)
	rec, err := scanRecord(r)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, unavailable(err)
	}
	return rec, nil
}

func (s *Store) Query(ctx context.Context, f store.Filter) ([]store.Record, error) {
	if f.Partition == "" {
		return nil, store.ErrInvalidKey
	}
	sql, args := buildQuery(f)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func buildQuery(f store.Filter) (string, []any) {
	var b strings.Builder
	args := []any{f.Partition}
	b.WriteString(`SELECT ` + selectColumns + ` FROM entities WHERE partition = $1`)

	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.RowFrom != "" {
		b.WriteString(` AND row_key >= ` + next(f.RowFrom))
	}
	if f.RowTo != "" {
		b.WriteString(` AND row_key < ` + next(f.RowTo))
	}
	for _, k := range sortedKeys(f.Equals) {
		b.WriteString(` AND data->>` + next(k) + ` = ` + next(f.Equals[k]))
	}
	b.WriteString(` ORDER BY row_key`)
	if f.Limit > 0 {
		b.WriteString(` LIMIT ` + next(f.Limit))
	}
	return b.String(), args
}

func (s *Store) Insert(ctx context.Context, rec store.Record) (store.Record, error) {
	if err := store.CheckKey(rec.Partition, rec.Row); err != nil {
		return store.Record{}, err
	}
	r := s.db.QueryRow(ctx, `
		INSERT INTO entities (partition, row_key, data, version, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (partition, row_key) DO NOTHING
		RETURNING `+selectColumns,
		rec.Partition, rec.Row, dataOrEmpty(rec.Data))
	out, err := scanRecord(r)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, store.ErrConflict
	}
	if err != nil {
		return store.Record{}, unavailable(err)
	}
	return out, nil
}

func (s *Store) Replace(ctx context.Context, rec store.Record) (store.Record, error) {
	if err := store.CheckKey(rec.Partition, rec.Row); err != nil {
		return store.Record{}, err
	}
	r := s.db.QueryRow(ctx, `
		UPDATE entities SET data = $3, version = version + 1, updated_at = now()
		WHERE partition = $1 AND row_key = $2 AND version = $4
		RETURNING `+selectColumns,
		rec.Partition, rec.Row, dataOrEmpty(rec.Data), rec.Version)
	out, err := scanRecord(r)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, s.missOrStale(ctx, rec.Partition, rec.Row)
	}
	if err != nil {
		return store.Record{}, unavailable(err)
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, rec store.Record) (store.Record, error) {
	if err := store.CheckKey(rec.Partition, rec.Row); err != nil {
		return store.Record{}, err
	}
	r := s.db.QueryRow(ctx, `
		INSERT INTO entities (partition, row_key, data, version, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (partition, row_key)
		DO UPDATE SET data = EXCLUDED.data, version = entities.version + 1, updated_at = now()
		RETURNING `+selectColumns,
		rec.Partition, rec.Row, dataOrEmpty(rec.Data))
	out, err := scanRecord(r)
	if err != nil {
		return store.Record{}, unavailable(err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, partition, row string, version int64) error {
	if err := store.CheckKey(partition, row); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`DELETE FROM entities WHERE partition = $1 AND row_key = $2 AND ($3 = 0 OR version = $3)`,
		partition, row, version)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 && version != 0 {
		if err := s.missOrStale(ctx, partition, row); errors.Is(err, store.ErrPreconditionFailed) {
			return err
		}
	}
	return nil
}

// missOrStale explains why a versioned write matched no row.
func (s *Store) missOrStale(ctx context.Context, partition, row string) error {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM entities WHERE partition = $1 AND row_key = $2)`,
		partition, row).Scan(&exists)
	if err != nil {
		return unavailable(err)
	}
	if exists {
		return store.ErrPreconditionFailed
	}
	return store.ErrNotFound
}

func scanRecord(r pgx.Row) (store.Record, error) {
	var rec store.Record
	var data []byte
	var updated time.Time
	if err := r.Scan(&rec.Partition, &rec.Row, &data, &rec.Version, &updated); err != nil {
		return store.Record{}, err
	}
	rec.Data = data
	rec.UpdatedAt = updated.UTC()
	return rec, nil
}

func dataOrEmpty(data []byte) []byte {
	if len(data) == 0 {
		return []byte("{}")
	}
	return data
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// deterministic SQL for statement caching
	sort.Strings(keys)
	return keys
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
