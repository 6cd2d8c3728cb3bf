package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submeta/pkg/contract"
)

type fakeResults struct {
	n      int
	failAt int
	calls  *int
}

func (f *fakeResults) Exec() (pgconn.CommandTag, error) {
	*f.calls++
	if f.failAt > 0 && *f.calls == f.failAt {
		return pgconn.CommandTag{}, errors.New("unique violation")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}
func (f *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (f *fakeResults) QueryRow() pgx.Row        { return nil }
func (f *fakeResults) Close() error             { return nil }

type fakeDB struct {
	execs   []string
	batches []*pgx.Batch
	failAt  int
	calls   int
	closed  bool
}

func (d *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (d *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.batches = append(d.batches, b)
	return &fakeResults{n: b.Len(), failAt: d.failAt, calls: &d.calls}
}

func (d *fakeDB) Close() { d.closed = true }

func results(n int) []contract.LookupResult {
	out := make([]contract.LookupResult, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, contract.Found("s"+strings.Repeat("x", i), contract.About{Name: "t5_a", Subscribers: int64(i)}))
		} else {
			out = append(out, contract.Unavailable("u"+strings.Repeat("y", i)))
		}
	}
	return out
}

func TestEnsureSchemaQuotesIdentifiers(t *testing.T) {
	d := &fakeDB{}
	s := newStore(d, Options{Schema: "meta"})
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, d.execs, 2)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "meta"`, d.execs[0])
	assert.Contains(t, d.execs[1], `"meta"."subreddit_meta"`)
	assert.Contains(t, d.execs[1], "subreddit   text PRIMARY KEY")
}

// SaveResults 按批大小切分，并对空名跳过
func TestSaveResultsBatches(t *testing.T) {
	d := &fakeDB{}
	s := newStore(d, Options{BatchSize: 2})
	rs := append(results(5), contract.LookupResult{Name: " "})
	n, err := s.SaveResults(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, d.batches, 3)
	assert.Equal(t, 2, d.batches[0].Len())
	assert.Equal(t, 1, d.batches[2].Len())

	q := d.batches[0].QueuedQueries[0]
	assert.Contains(t, q.SQL, "ON CONFLICT (subreddit) DO UPDATE")
	require.Len(t, q.Arguments, 5)
	assert.Equal(t, rs[0].Name, q.Arguments[0])
	// 不可用结果以 NULL 指针写入
	q = d.batches[0].QueuedQueries[1]
	assert.Nil(t, q.Arguments[1].(*bool))
	assert.Equal(t, false, q.Arguments[4])

	n, err = s.SaveResults(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	s.Close()
	assert.True(t, d.closed)
}

func TestSaveResultsExecError(t *testing.T) {
	d := &fakeDB{failAt: 2}
	s := newStore(d, Options{})
	n, err := s.SaveResults(context.Background(), results(3))
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenInvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = Open(context.Background(), Options{DSN: "://bad"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// TestStore_Integration requires PG_TEST_DSN pointing at a disposable database.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, Options{DSN: dsn, Table: "subreddit_meta_it"})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer s.Close()
	rs := results(3)
	n, err := s.SaveResults(ctx, rs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	// 重复写入为 upsert
	n, err = s.SaveResults(ctx, rs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
