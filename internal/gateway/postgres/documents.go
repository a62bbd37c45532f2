// Package postgres stores gateway documents as jsonb rows in a single Postgres table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dabubble/internal/gateway"
	"dabubble/internal/gateway/postgres/zapadapter"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

const schema = `create table if not exists documents (
	seq bigserial not null,
	collection text not null,
	id text not null,
	data jsonb not null,
	created_at timestamptz not null default now(),
	primary key (collection, id)
)`

// Documents defines fields used in db interaction processes
type Documents struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

var (
	_ gateway.Documents    = (*Documents)(nil)
	_ gateway.ArrayMutator = (*Documents)(nil)
)

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Documents
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Documents, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Documents{
		logger: logger,
		db:     pool,
	}, nil
}

// Migrate creates the documents table if it does not exist
func (d *Documents) Migrate(ctx context.Context) error {
	d.logger.Debug("Migrating documents table")
	_, err := d.db.Exec(ctx, schema)
	return err
}

func (d *Documents) Close() {
	d.db.Close()
}

func (d *Documents) Create(ctx context.Context, collection string, data interface{}) (string, error) {
	payload, err := encode(data)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	d.logger.Debugf("Creating document in (%s)", collection)

	sql := "insert into documents (collection, id, data) values ($1, $2, $3)"
	_, err = d.db.Exec(ctx, sql, collection, id, payload)
	if err != nil {
		return "", mapError(err)
	}

	d.logger.Debugf("Created document in (%s) with id %s", collection, id)

	return id, nil
}

func (d *Documents) Set(ctx context.Context, collection, id string, data interface{}) error {
	payload, err := encode(data)
	if err != nil {
		return err
	}

	d.logger.Debugf("Setting document (%s/%s)", collection, id)

	sql := `insert into documents (collection, id, data) values ($1, $2, $3)
		on conflict (collection, id) do update set data = excluded.data`
	_, err = d.db.Exec(ctx, sql, collection, id, payload)
	return mapError(err)
}

func (d *Documents) Get(ctx context.Context, collection, id string) (gateway.Document, error) {
	var data pgtype.JSONB
	sql := "select data from documents where collection = $1 and id = $2"
	err := d.db.QueryRow(ctx, sql, collection, id).Scan(&data)
	if err != nil {
		return gateway.Document{}, mapError(err)
	}
	return gateway.Document{ID: id, Data: data.Bytes}, nil
}

func (d *Documents) Update(ctx context.Context, collection, id string, fields gateway.Fields) error {
	payload, err := encode(map[string]interface{}(fields))
	if err != nil {
		return err
	}

	d.logger.Debugf("Updating document (%s/%s)", collection, id)

	sql := "update documents set data = data || $3 where collection = $1 and id = $2"
	tag, err := d.db.Exec(ctx, sql, collection, id, payload)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

func (d *Documents) Delete(ctx context.Context, collection, id string) error {
	d.logger.Debugf("Deleting document (%s/%s)", collection, id)

	sql := "delete from documents where collection = $1 and id = $2"
	tag, err := d.db.Exec(ctx, sql, collection, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

func (d *Documents) Query(ctx context.Context, collection string, q gateway.Query) ([]gateway.Document, error) {
	sql, args, err := buildQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var docs []gateway.Document
	for rows.Next() {
		var id string
		var data pgtype.JSONB
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		docs = append(docs, gateway.Document{ID: id, Data: data.Bytes})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return docs, nil
}

// ArrayUnion appends the values missing from the array field in a single statement
func (d *Documents) ArrayUnion(ctx context.Context, collection, id, field string, values ...string) error {
	d.logger.Debugf("Adding %v to (%s/%s).%s", values, collection, id, field)

	sql := `update documents set data = jsonb_set(data, array[$3::text], (
			select coalesce(jsonb_agg(e order by src, ord), '[]'::jsonb) from (
				select e, 0 as src, ord
				from jsonb_array_elements(coalesce(data -> $3::text, '[]'::jsonb)) with ordinality as t(e, ord)
				union all
				select to_jsonb(v), 1, vord
				from unnest($4::text[]) with ordinality as u(v, vord)
				where not coalesce(data -> $3::text, '[]'::jsonb) @> jsonb_build_array(v)
			) merged
		), true) || jsonb_build_object('updatedAt', now())
		where collection = $1 and id = $2`
	return d.execArray(ctx, sql, collection, id, field, dedupe(values))
}

// ArrayRemove drops every occurrence of the values from the array field in a single statement
func (d *Documents) ArrayRemove(ctx context.Context, collection, id, field string, values ...string) error {
	d.logger.Debugf("Removing %v from (%s/%s).%s", values, collection, id, field)

	sql := `update documents set data = jsonb_set(data, array[$3::text], (
			select coalesce(jsonb_agg(e order by ord), '[]'::jsonb)
			from jsonb_array_elements(coalesce(data -> $3::text, '[]'::jsonb)) with ordinality as t(e, ord)
			where not (e #>> '{}') = any($4::text[])
		), true) || jsonb_build_object('updatedAt', now())
		where collection = $1 and id = $2`
	return d.execArray(ctx, sql, collection, id, field, values)
}

func (d *Documents) execArray(ctx context.Context, sql, collection, id, field string, values []string) error {
	tag, err := d.db.Exec(ctx, sql, collection, id, field, values)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// buildQuery renders q as a select over the documents table. Field names are always
// passed as parameters, never interpolated.
func buildQuery(collection string, q gateway.Query) (string, []interface{}, error) {
	var sb strings.Builder
	args := []interface{}{collection}
	sb.WriteString("select id, data from documents where collection = $1")

	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, f := range q.Filters {
		value, err := encode(f.Value)
		if err != nil {
			return "", nil, err
		}
		switch f.Op {
		case gateway.OpEqual:
			fmt.Fprintf(&sb, " and data -> %s::text = %s::jsonb", next(f.Field), next(value))
		case gateway.OpIn:
			fmt.Fprintf(&sb, " and %s::jsonb @> jsonb_build_array(data -> %s::text)", next(value), next(f.Field))
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
	}

	// missing values sort first in ascending order
	dir, nulls := "asc", "first"
	if q.OrderBy != nil && q.OrderBy.Desc {
		dir, nulls = "desc", "last"
	}
	if q.OrderBy != nil {
		if q.OrderBy.Time {
			fmt.Fprintf(&sb, " order by (data ->> %s::text)::timestamptz %s nulls %s, seq %s", next(q.OrderBy.Field), dir, nulls, dir)
		} else {
			fmt.Fprintf(&sb, " order by data -> %s::text %s nulls %s, seq %s", next(q.OrderBy.Field), dir, nulls, dir)
		}
	} else {
		sb.WriteString(" order by seq asc")
	}

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " limit %s", next(q.Limit))
	}
	return sb.String(), args, nil
}

func encode(v interface{}) (pgtype.JSONB, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return pgtype.JSONB{}, fmt.Errorf("marshaling document: %w", err)
	}
	return pgtype.JSONB{Bytes: b, Status: pgtype.Present}, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return gateway.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return gateway.ErrAlreadyExists
		case pgerrcode.InvalidTextRepresentation, pgerrcode.InvalidDatetimeFormat:
			return fmt.Errorf("bad query value: %w", err)
		}
	}
	return err
}
