package sqlsource

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
	"github.com/utkarsh5026/fetchpool/pool"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE people (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			active INTEGER NOT NULL
		);
	`)
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	stmt, err := tx.Prepare(`INSERT INTO people (id, name, active) VALUES (?, ?, ?)`)
	require.NoError(t, err)
	for i := 1; i <= 100; i++ {
		_, err := stmt.Exec(i, "person", i%2)
		require.NoError(t, err)
	}
	require.NoError(t, stmt.Close())
	require.NoError(t, tx.Commit())
	return db
}

func TestQuery_Each(t *testing.T) {
	db := openDB(t)
	src := New[int](db, `SELECT id FROM people WHERE active = ? ORDER BY id`, 1)

	var got []int
	err := src.Each(context.Background(), func(id int) bool {
		got = append(got, id)
		return true
	})
	require.NoError(t, err)
	require.Len(t, got, 50)
	require.Equal(t, 1, got[0])
	require.Equal(t, 99, got[49])
}

func TestQuery_StopsEarly(t *testing.T) {
	db := openDB(t)
	src := New[int](db, `SELECT id FROM people ORDER BY id`)

	n := 0
	err := src.Each(context.Background(), func(int) bool {
		n++
		return n < 10
	})
	require.NoError(t, err)
	require.Equal(t, 10, n)
}

func TestQuery_Errors(t *testing.T) {
	db := openDB(t)

	err := New[int](db, `SELECT id FROM missing_table`).Each(context.Background(), func(int) bool { return true })
	require.Error(t, err)

	err = New[int](db, `SELECT name FROM people`).Each(context.Background(), func(int) bool { return true })
	require.ErrorContains(t, err, "scan row 0")

	err = New[int](nil, `SELECT 1`).Each(context.Background(), func(int) bool { return true })
	require.ErrorIs(t, err, ErrNoQuery)
}

func TestQuery_FeedsPool(t *testing.T) {
	db := openDB(t)
	src := New[int](db, `SELECT id FROM people`)

	client := pool.ClientFunc[int, int](func(ctx context.Context, id int) (int, error) {
		return id * 2, nil
	})
	report, err := pool.Run[int, int](context.Background(), src, client,
		pool.WithWorkerCount(4),
		pool.WithQueueCapacity(8),
	)
	require.NoError(t, err)
	require.Equal(t, 100, report.Succeeded())
}
