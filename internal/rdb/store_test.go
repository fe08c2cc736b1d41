package rdb

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datakit/internal/async"
	"github.com/roach88/datakit/internal/predicate"
	"github.com/roach88/datakit/internal/storeerr"
	"github.com/roach88/datakit/internal/testutil"
	"github.com/roach88/datakit/internal/value"
)

const createTableTest = "CREATE TABLE IF NOT EXISTS test (" +
	"id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, age INTEGER, salary REAL, blobType BLOB)"

var drivers = []string{DriverCgo, DriverPure}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(testutil.NewSequenceIDGenerator("tmp")),
	}, opts...)
	m := NewManager(t.TempDir(), opts...)
	t.Cleanup(func() { m.Close() })
	return m
}

func await[T any](t *testing.T, f *async.Future[T]) T {
	t.Helper()
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	return v
}

func awaitErr[T any](t *testing.T, f *async.Future[T]) error {
	t.Helper()
	_, err := f.Await(context.Background())
	require.Error(t, err)
	return err
}

func openTestStore(t *testing.T, m *Manager) *Store {
	t.Helper()
	s := await(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S1}))
	await(t, s.ExecuteSQL(createTableTest))
	return s
}

func insertPeople(t *testing.T, s *Store) {
	t.Helper()
	rows := []map[string]any{
		{"name": "zhangsan", "age": 18, "salary": 100.5, "blobType": []byte{1, 2, 3}},
		{"name": "lisi", "age": 28, "salary": 200.5, "blobType": []byte{4, 5, 6}},
		{"name": "wangwu", "age": 38, "salary": 300.5, "blobType": nil},
	}
	n := await(t, s.BatchInsert("test", rows))
	require.EqualValues(t, 3, n)
}

func TestStore_InsertAndQuery(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openTestStore(t, newTestManager(t, WithDriver(driver)))

			id := await(t, s.Insert("test", map[string]any{
				"name":     "zhangsan",
				"age":      value.NewInt32(18),
				"salary":   100.5,
				"blobType": value.NewBlob([]byte{1, 2, 3}),
			}))
			assert.EqualValues(t, 1, id)

			rs := await(t, s.Query(predicate.New("test").EqualTo("name", "zhangsan"), nil))
			defer rs.Close()
			require.Equal(t, 1, rs.RowCount())
			require.NoError(t, rs.GoToFirstRow())
			assert.True(t, rs.IsAtFirstRow())

			nameIdx, err := rs.ColumnIndex("name")
			require.NoError(t, err)
			name, err := rs.GetString(nameIdx)
			require.NoError(t, err)
			assert.Equal(t, "zhangsan", name)

			age, err := rs.GetInt32(2)
			require.NoError(t, err)
			assert.EqualValues(t, 18, age)

			salary, err := rs.GetFloat64(3)
			require.NoError(t, err)
			assert.InDelta(t, 100.5, salary, 1e-9)

			blob, err := rs.GetBlob(4)
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3}, blob)

			assert.False(t, rs.GoToNextRow())
			assert.True(t, rs.IsEnded())
		})
	}
}

func TestStore_OpenMissingDirectory(t *testing.T) {
	m := newTestManager(t)

	err := awaitErr(t, m.GetStore(Config{Path: "/wrong/rdbstore.db", SecurityLevel: S1}))
	assert.True(t, storeerr.IsPathUnavailable(err), "got %v", err)
	var se *storeerr.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 14800011, se.Number())

	_, statErr := os.Stat("/wrong/rdbstore.db")
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, StateFailed, m.State(Config{Path: "/wrong/rdbstore.db", SecurityLevel: S1}))
}

func TestStore_InvalidConfigFailsImmediately(t *testing.T) {
	m := newTestManager(t)

	f := m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: 8})
	select {
	case <-f.Done():
	default:
		t.Fatal("future for an invalid config should already be resolved")
	}
	err := awaitErr(t, f)
	assert.True(t, storeerr.IsInvalidConfig(err))

	_, statErr := os.Stat(filepath.Join(m.Dir(), "rdbstore.db"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_SecurityLevelS3Opens(t *testing.T) {
	m := newTestManager(t)
	s := await(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S3}))
	assert.Equal(t, StateOpen, s.State())
	assert.Equal(t, S3, s.Config().SecurityLevel)
}

func TestStore_SamePathSameHandle(t *testing.T) {
	m := newTestManager(t)
	cfg := Config{Name: "rdbstore.db", SecurityLevel: S1}

	var wg sync.WaitGroup
	handles := make([]*Store, 8)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i] = await(t, m.GetStore(cfg))
		}()
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Same(t, handles[0], await(t, m.GetStore(cfg)))
}

func TestStore_IncompatibleReopen(t *testing.T) {
	m := newTestManager(t)
	await(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S1}))

	err := awaitErr(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S2}))
	assert.True(t, storeerr.IsInvalidConfig(err))
}

func TestStore_ConcurrentIncompatibleOpens(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := newTestManager(t)
		plain := m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S1})
		secure := m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S4, Encrypted: true})

		s1, err1 := plain.Await(context.Background())
		s4, err4 := secure.Await(context.Background())

		failures := 0
		for _, err := range []error{err1, err4} {
			if err != nil {
				assert.True(t, storeerr.IsInvalidConfig(err), "iteration %d: %v", i, err)
				failures++
			}
		}
		require.Equal(t, 1, failures, "iteration %d", i)
		if err1 == nil {
			assert.Equal(t, S1, s1.Config().SecurityLevel)
			assert.False(t, s1.Encrypted())
		} else {
			assert.Equal(t, S4, s4.Config().SecurityLevel)
			assert.True(t, s4.Encrypted())
		}
		require.NoError(t, m.Close())
	}
}

func TestStore_SetVersionWrapsTo32Bits(t *testing.T) {
	testCases := []struct {
		in   int64
		want int32
	}{
		{1, 1},
		{5, 5},
		{2147483647, 2147483647},
		{-2147483648, -2147483648},
		{2147483647000, -1000},
		{-2147483648100, -100},
	}

	s := openTestStore(t, newTestManager(t))
	for _, tc := range testCases {
		await(t, s.SetVersion(tc.in))
		assert.Equal(t, tc.want, await(t, s.GetVersion()), "SetVersion(%d)", tc.in)
		assert.Equal(t, tc.want, s.Config().Version)
	}
}

func TestStore_VersionAppliedOnOpen(t *testing.T) {
	var calls [][2]int32
	m := newTestManager(t, WithUpgradeHook(func(tx *Tx, oldVersion, newVersion int32) error {
		calls = append(calls, [2]int32{oldVersion, newVersion})
		return tx.ExecuteSQL(createTableTest)
	}))
	cfg := Config{Name: "rdbstore.db", SecurityLevel: S1, Version: 1}

	s := await(t, m.GetStore(cfg))
	assert.EqualValues(t, 1, await(t, s.GetVersion()))
	require.NoError(t, s.Close())

	cfg.Version = 2
	s = await(t, m.GetStore(cfg))
	assert.EqualValues(t, 2, await(t, s.GetVersion()))
	assert.Equal(t, [][2]int32{{0, 1}, {1, 2}}, calls)

	cfg.Version = 0
	s = await(t, m.GetStore(cfg))
	assert.EqualValues(t, 2, s.Config().Version)
}

func TestStore_FailedUpgradeKeepsVersion(t *testing.T) {
	m := newTestManager(t, WithUpgradeHook(func(tx *Tx, oldVersion, newVersion int32) error {
		if newVersion == 3 {
			return assert.AnError
		}
		return nil
	}))
	s := await(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S1, Version: 2}))
	require.NoError(t, s.Close())

	awaitErr(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S1, Version: 3}))

	s = await(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S1}))
	assert.EqualValues(t, 2, await(t, s.GetVersion()))
}

func TestStore_InsertErrors(t *testing.T) {
	s := openTestStore(t, newTestManager(t))

	err := awaitErr(t, s.Insert("", map[string]any{"name": "a"}))
	assert.True(t, storeerr.IsInvalidArgument(err))

	err = awaitErr(t, s.Insert("test", map[string]any{}))
	assert.True(t, storeerr.IsInvalidArgument(err))

	err = awaitErr(t, s.Insert("test", map[string]any{"age": 1}))
	assert.True(t, storeerr.IsEngine(err), "NOT NULL violation: %v", err)
	var se *storeerr.Error
	require.ErrorAs(t, err, &se)
	assert.NotEmpty(t, se.EngineMessage)
}

func TestStore_UpdateDeleteCount(t *testing.T) {
	s := openTestStore(t, newTestManager(t))
	insertPeople(t, s)

	n := await(t, s.Update(map[string]any{"salary": 500.0}, predicate.New("test").GreaterThan("age", 20)))
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 2, await(t, s.Count(predicate.New("test").EqualTo("salary", 500.0))))

	n = await(t, s.Delete(predicate.New("test").EqualTo("name", "lisi").Or().EqualTo("name", "wangwu")))
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 1, await(t, s.Count(predicate.New("test"))))

	n = await(t, s.Delete(predicate.New("test")))
	assert.EqualValues(t, 1, n)
}

func TestStore_QueryOrderingAndPaging(t *testing.T) {
	s := openTestStore(t, newTestManager(t))
	insertPeople(t, s)

	rs := await(t, s.Query(predicate.New("test").OrderByDesc("age").LimitAs(2).OffsetAs(1), []string{"name", "age"}))
	assert.Equal(t, []string{"name", "age"}, rs.ColumnNames())

	var names []string
	for rs.GoToNextRow() {
		name, err := rs.GetString(0)
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.Equal(t, []string{"lisi", "zhangsan"}, names)
	assert.EqualValues(t, 3, await(t, s.Count(predicate.New("test").LimitAs(1))))
}

func TestStore_StrictPredicate(t *testing.T) {
	s := openTestStore(t, newTestManager(t))
	insertPeople(t, s)

	p := predicate.New("other").EqualTo("name", "zhangsan")
	err := awaitErr(t, s.Delete(p, Strict("test")))
	assert.True(t, storeerr.IsPredicateMismatch(err))
	assert.EqualValues(t, 3, await(t, s.Count(predicate.New("test"))))

	n := await(t, s.Count(predicate.New("test").EqualTo("name", "zhangsan"), Strict("test")))
	assert.EqualValues(t, 1, n)
}

func TestStore_BatchInsertIsAtomic(t *testing.T) {
	s := openTestStore(t, newTestManager(t))

	err := awaitErr(t, s.BatchInsert("test", []map[string]any{
		{"name": "ok", "age": 1},
		{"age": 2},
	}))
	assert.True(t, storeerr.IsEngine(err))
	assert.EqualValues(t, 0, await(t, s.Count(predicate.New("test"))))
}

func TestStore_TransactionRollback(t *testing.T) {
	s := openTestStore(t, newTestManager(t))

	err := awaitErr(t, s.Transaction(func(tx *Tx) error {
		if _, err := tx.Insert("test", map[string]any{"name": "a"}); err != nil {
			return err
		}
		return assert.AnError
	}))
	assert.ErrorIs(t, err, assert.AnError)
	assert.EqualValues(t, 0, await(t, s.Count(predicate.New("test"))))

	await(t, s.Transaction(func(tx *Tx) error {
		_, err := tx.Insert("test", map[string]any{"name": "b"})
		if err != nil {
			return err
		}
		rs, err := tx.Query(predicate.New("test"), []string{"name"})
		if err != nil {
			return err
		}
		assert.Equal(t, 1, rs.RowCount())
		return nil
	}))
	assert.EqualValues(t, 1, await(t, s.Count(predicate.New("test"))))
}

func TestStore_OperationsRunInSubmissionOrder(t *testing.T) {
	s := openTestStore(t, newTestManager(t))

	var futures []*async.Future[int64]
	for i := 0; i < 50; i++ {
		futures = append(futures, s.Insert("test", map[string]any{"name": "n", "age": i}))
	}
	counted := s.Count(predicate.New("test"))
	for i, f := range futures {
		assert.EqualValues(t, i+1, await(t, f))
	}
	assert.EqualValues(t, 50, await(t, counted))
}

func TestStore_ExecuteSQLEngineError(t *testing.T) {
	s := openTestStore(t, newTestManager(t))

	err := awaitErr(t, s.ExecuteSQL("SELEC nonsense"))
	assert.True(t, storeerr.IsEngine(err))

	err = awaitErr(t, s.ExecuteSQL(""))
	assert.True(t, storeerr.IsInvalidArgument(err))
}

func TestStore_QuerySQLArgs(t *testing.T) {
	s := openTestStore(t, newTestManager(t))
	insertPeople(t, s)

	rs := await(t, s.QuerySQL("SELECT name, blobType FROM test WHERE age >= ? ORDER BY age", value.NewInt64(28)))
	require.Equal(t, 2, rs.RowCount())
	require.NoError(t, rs.GoToFirstRow())
	row, err := rs.Row()
	require.NoError(t, err)
	assert.Equal(t, value.NewString("lisi"), row["name"])

	require.True(t, rs.GoToNextRow())
	isNull, err := rs.IsNull(1)
	require.NoError(t, err)
	assert.True(t, isNull)
	assert.Error(t, rs.GoToFirstRow(), "cursor is forward-only")
}

func TestStore_CloseRejectsLaterOperations(t *testing.T) {
	m := newTestManager(t)
	s := openTestStore(t, m)
	pending := s.Insert("test", map[string]any{"name": "queued"})

	require.NoError(t, s.Close())
	assert.EqualValues(t, 1, await(t, pending))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, StateClosed, m.State(Config{Name: "rdbstore.db", SecurityLevel: S1}))

	err := awaitErr(t, s.Count(predicate.New("test")))
	assert.True(t, storeerr.IsStoreClosed(err))
	assert.NoError(t, s.Close())

	reopened := await(t, m.GetStore(Config{Name: "rdbstore.db", SecurityLevel: S1}))
	assert.NotSame(t, s, reopened)
	assert.EqualValues(t, 1, await(t, reopened.Count(predicate.New("test"))))
}

func TestStore_BackupAndRestore(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := openTestStore(t, newTestManager(t, WithDriver(driver)))
			insertPeople(t, s)
			await(t, s.SetVersion(7))

			await(t, s.Backup("backup.db"))
			backup := filepath.Join(filepath.Dir(s.Path()), "backup.db")
			require.FileExists(t, backup)

			await(t, s.Delete(predicate.New("test")))
			await(t, s.SetVersion(8))
			assert.EqualValues(t, 0, await(t, s.Count(predicate.New("test"))))

			await(t, s.Restore("backup.db"))
			assert.EqualValues(t, 3, await(t, s.Count(predicate.New("test"))))
			assert.EqualValues(t, 7, await(t, s.GetVersion()))
			assert.Equal(t, StateOpen, s.State())

			matches, err := filepath.Glob(s.Path() + ".restore-*")
			require.NoError(t, err)
			assert.Empty(t, matches, "rollback files are removed after a restore")
		})
	}
}

func TestStore_BackupReplacesExistingFile(t *testing.T) {
	s := openTestStore(t, newTestManager(t))
	insertPeople(t, s)
	dest := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	await(t, s.Backup(dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
	assert.NoFileExists(t, dest+".temp")
}

func TestStore_BackupErrors(t *testing.T) {
	s := openTestStore(t, newTestManager(t))

	err := awaitErr(t, s.Backup(""))
	assert.True(t, storeerr.IsInvalidArgument(err))

	err = awaitErr(t, s.Backup(s.Path()))
	assert.True(t, storeerr.IsInvalidArgument(err))

	err = awaitErr(t, s.Backup("/wrong/backup.db"))
	assert.True(t, storeerr.IsPathUnavailable(err))
}

func TestStore_RestoreErrors(t *testing.T) {
	s := openTestStore(t, newTestManager(t))
	insertPeople(t, s)

	err := awaitErr(t, s.Restore("missing.db"))
	assert.True(t, storeerr.IsInvalidArgument(err))

	err = awaitErr(t, s.Restore(filepath.Base(s.Path())))
	assert.True(t, storeerr.IsInvalidArgument(err))

	corrupt := filepath.Join(filepath.Dir(s.Path()), "corrupt.db")
	require.NoError(t, os.WriteFile(corrupt, bytes.Repeat([]byte("garbage!"), 512), 0o644))
	awaitErr(t, s.Restore("corrupt.db"))

	assert.Equal(t, StateOpen, s.State())
	assert.EqualValues(t, 3, await(t, s.Count(predicate.New("test"))), "failed restore keeps the original data")
}

func TestStore_EncryptedKeyFile(t *testing.T) {
	m := newTestManager(t)
	cfg := Config{Name: "secure.db", SecurityLevel: S2, Encrypted: true}

	s := await(t, m.GetStore(cfg))
	assert.True(t, s.Encrypted())
	key, err := os.ReadFile(keyPath(s.Path()))
	require.NoError(t, err)
	assert.Len(t, key, keySize)
	require.NoError(t, s.Close())

	s = await(t, m.GetStore(cfg))
	assert.Equal(t, key, s.key, "reopen reuses the stored key")

	await(t, s.Backup("secure-backup.db"))
	assert.FileExists(t, keyPath(filepath.Join(m.Dir(), "secure-backup.db")))
}

func TestManager_DeleteStore(t *testing.T) {
	m := newTestManager(t)
	s := await(t, m.GetStore(Config{Name: "gone.db", SecurityLevel: S1, Encrypted: true}))
	await(t, s.ExecuteSQL(createTableTest))
	path := s.Path()

	await(t, m.DeleteStore("gone.db"))
	assert.Equal(t, StateClosed, s.State())
	for _, p := range companionFiles(path) {
		assert.NoFileExists(t, p)
	}
	err := awaitErr(t, s.Count(predicate.New("test")))
	assert.True(t, storeerr.IsStoreClosed(err))

	await(t, m.DeleteStore(path))
	err = awaitErr(t, m.DeleteStore(""))
	assert.True(t, storeerr.IsInvalidArgument(err))
}

func TestManager_UnknownDriver(t *testing.T) {
	m := newTestManager(t, WithDriver("postgres"))
	err := awaitErr(t, m.GetStore(Config{Name: "a.db", SecurityLevel: S1}))
	assert.True(t, storeerr.IsInvalidConfig(err))
}

func TestResultSet_Accessors(t *testing.T) {
	rs := newResultSet([]string{"a", "b"}, [][]any{
		{int64(1), "x"},
		{nil, []byte("7")},
	})

	_, err := rs.GetString(0)
	assert.True(t, storeerr.IsInvalidArgument(err), "before the first row")

	name, err := rs.ColumnName(1)
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	_, err = rs.ColumnName(2)
	assert.Error(t, err)
	_, err = rs.ColumnIndex("missing")
	assert.Error(t, err)

	require.True(t, rs.GoToNextRow())
	s, err := rs.GetString(0)
	require.NoError(t, err)
	assert.Equal(t, "1", s)
	_, err = rs.GetInt64(1)
	assert.True(t, storeerr.IsInvalidArgument(err), "x is not an integer")

	require.True(t, rs.GoToNextRow())
	n, err := rs.GetInt64(1)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	isNull, err := rs.IsNull(0)
	require.NoError(t, err)
	assert.True(t, isNull)
	_, err = rs.GetInt64(5)
	assert.Error(t, err)

	assert.False(t, rs.GoToNextRow())
	assert.True(t, rs.IsEnded())

	require.NoError(t, rs.Close())
	assert.Error(t, rs.GoToFirstRow())
}
