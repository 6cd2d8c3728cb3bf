// Package postgres 将每个已落盘的批次镜像到 Postgres（按 subreddit 幂等 upsert）。
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"submeta/pkg/contract"
)

// Options 连接参数。
type Options struct {
	DSN    string
	Schema string // 默认 public
	Table  string // 默认 subreddit_meta
	// BatchSize: 单次 SendBatch 的语句数；<=0 使用 200。
	BatchSize int
	MaxConns  int
	// ViaBouncer: 经由 pgbouncer 时使用简单协议。
	ViaBouncer bool
}

// db 为 *pgxpool.Pool 的最小子集，便于测试替换。
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// Store 实现 contract.ResultStore。
type Store struct {
	db     db
	schema string
	table  string
	batch  int
}

var _ contract.ResultStore = (*Store)(nil)

// Open 建立连接池并确保表存在。
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("%w: postgres dsn empty", contract.ErrInvalidInput)
	}
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: PG_DSN parse: %v", contract.ErrInvalidInput, err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 2
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.ViaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	s := newStore(pool, opts)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newStore(d db, opts Options) *Store {
	schema := strings.TrimSpace(opts.Schema)
	if schema == "" {
		schema = "public"
	}
	table := strings.TrimSpace(opts.Table)
	if table == "" {
		table = "subreddit_meta"
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &Store{
		db:     d,
		schema: pgx.Identifier{schema}.Sanitize(),
		table:  pgx.Identifier{schema, table}.Sanitize(),
		batch:  batch,
	}
}

// EnsureSchema 创建 schema 与结果表（若不存在）。
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+s.schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		subreddit   text PRIMARY KEY,
		nsfw        boolean,
		name        text,
		subscribers bigint,
		available   boolean NOT NULL,
		fetched_at  timestamptz NOT NULL DEFAULT now()
	)`
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *Store) upsertSQL() string {
	return `INSERT INTO ` + s.table + `
		(subreddit, nsfw, name, subscribers, available, fetched_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (subreddit) DO UPDATE SET
			nsfw = EXCLUDED.nsfw,
			name = EXCLUDED.name,
			subscribers = EXCLUDED.subscribers,
			available = EXCLUDED.available,
			fetched_at = EXCLUDED.fetched_at`
}

// SaveResults 分批 upsert；返回受影响行数。
func (s *Store) SaveResults(ctx context.Context, rs []contract.LookupResult) (int, error) {
	if len(rs) == 0 {
		return 0, nil
	}
	q := s.upsertSQL()
	total := 0
	for i := 0; i < len(rs); i += s.batch {
		j := min(i+s.batch, len(rs))
		b := &pgx.Batch{}
		for _, r := range rs[i:j] {
			if strings.TrimSpace(r.Name) == "" {
				continue
			}
			b.Queue(q, r.Name, r.NSFW, r.CanonicalName, r.Subscribers, r.Available)
		}
		n := b.Len()
		if n == 0 {
			continue
		}
		br := s.db.SendBatch(ctx, b)
		for k := 0; k < n; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("upsert: %w", err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close 关闭连接池。
func (s *Store) Close() {
	if s != nil && s.db != nil {
		s.db.Close()
	}
}
