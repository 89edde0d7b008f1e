package appendkv

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appendkv/internal/metrics"
	"appendkv/logfile"
)

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data.akv"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func reopen(t *testing.T, db *DB, opts ...Option) *DB {
	t.Helper()
	require.NoError(t, db.Close())
	db2, err := Open(db.Path(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })
	return db2
}

func mustGet(t *testing.T, db *DB, key string) (string, bool) {
	t.Helper()
	v, found, err := db.Get([]byte(key))
	require.NoError(t, err)
	return string(v), found
}

func TestDB_Example(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("b"), []byte("2")))
	require.NoError(t, db.Insert([]byte("a"), []byte("3")))

	check := func(db *DB) {
		v, found := mustGet(t, db, "a")
		assert.True(t, found)
		assert.Equal(t, "3", v)
		v, found = mustGet(t, db, "b")
		assert.True(t, found)
		assert.Equal(t, "2", v)
		_, found = mustGet(t, db, "c")
		assert.False(t, found)
	}
	check(db)

	db = reopen(t, db)
	require.NoError(t, db.Load())
	check(db)
}

func TestDB_OpenDoesNotLoad(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("k"), []byte("v")))
	db = reopen(t, db)

	_, found := mustGet(t, db, "k")
	assert.False(t, found)
	assert.Zero(t, db.Count())

	v, found, err := db.Find([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, db.Load())
	_, found = mustGet(t, db, "k")
	assert.True(t, found)
}

func TestDB_OpenInvalidDir(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "data.akv"))
	assert.ErrorIs(t, err, logfile.ErrInvalidDir)

	_, err = Open("")
	assert.Error(t, err)
}

func TestDB_GetIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("k"), []byte("v")))

	v1, f1, err1 := db.Get([]byte("k"))
	v2, f2, err2 := db.Get([]byte("k"))
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, f1, f2)
	assert.Equal(t, v1, v2)
}

func TestDB_LastWriteWins(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("k"), []byte("v1")))
	require.NoError(t, db.Update([]byte("k"), []byte("v2")))

	v, _ := mustGet(t, db, "k")
	assert.Equal(t, "v2", v)

	off, fv, found, err := db.FindAt([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), fv)

	// the v1 record is still physically first in the file
	key, old, err := db.GetAt(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), key)
	assert.Equal(t, []byte("v1"), old)
	assert.Equal(t, int64(logfile.HeaderSize+3), off)
}

func TestDB_DeleteLeavesEmptyValue(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("k"), []byte("v")))
	require.NoError(t, db.Delete([]byte("k")))

	v, found, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, v)
	assert.Empty(t, v)
	assert.Equal(t, 1, db.Count())

	v, found, err = db.Find([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)

	db = reopen(t, db)
	require.NoError(t, db.Load())
	sv, found := mustGet(t, db, "k")
	assert.True(t, found)
	assert.Equal(t, "", sv)
}

func TestDB_KeysWithSharedPrefixes(t *testing.T) {
	keys := []string{"a", "a\x00", "\x00", "\x00\x00", "\xff", "ab", "abc", "abcd", "abd", "b"}
	want := []string{"\x00", "\x00\x00", "a", "a\x00", "ab", "abc", "abcd", "abd", "b", "\xff"}

	db := openTestDB(t)
	for _, k := range keys {
		require.NoError(t, db.Insert([]byte(k), []byte("v-"+k)))
	}
	check := func(db *DB) {
		got := make([]string, 0, len(want))
		for _, k := range db.Keys() {
			got = append(got, string(k))
		}
		assert.Equal(t, want, got)
		for _, k := range keys {
			v, found := mustGet(t, db, k)
			assert.True(t, found, "%q", k)
			assert.Equal(t, "v-"+k, v)
		}
	}
	check(db)

	db = reopen(t, db)
	require.NoError(t, db.Load())
	check(db)
}

func TestDB_EmptyKeyAndBinaryData(t *testing.T) {
	db := openTestDB(t)
	bin := []byte{0x00, 0xff, 0x00}
	require.NoError(t, db.Insert(nil, []byte("empty-key")))
	require.NoError(t, db.Insert(bin, bin))

	v, found, err := db.Get([]byte{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("empty-key"), v)

	db = reopen(t, db)
	require.NoError(t, db.Load())
	v, found, err = db.Get(bin)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, bin, v)
	assert.Equal(t, 2, db.Count())
}

func TestDB_LoadEquivalence(t *testing.T) {
	for _, mmap := range []bool{false, true} {
		if mmap && runtime.GOOS == "windows" {
			continue
		}
		t.Run(fmt.Sprintf("mmap=%v", mmap), func(t *testing.T) {
			db := openTestDB(t, WithMMap(mmap))
			rnd := rand.New(rand.NewSource(42))
			written := map[string]bool{}
			for i := 0; i < 500; i++ {
				key := []byte(fmt.Sprintf("key-%03d", rnd.Intn(60)))
				written[string(key)] = true
				switch rnd.Intn(3) {
				case 0:
					require.NoError(t, db.Insert(key, []byte(fmt.Sprintf("v%d", i))))
				case 1:
					require.NoError(t, db.Update(key, []byte(fmt.Sprintf("u%d", i))))
				default:
					require.NoError(t, db.Delete(key))
				}
			}

			db = reopen(t, db, WithMMap(mmap))
			require.NoError(t, db.Load())
			assert.Equal(t, len(written), db.Count())
			for k := range written {
				got, gFound, err := db.Get([]byte(k))
				require.NoError(t, err)
				want, fFound, err := db.Find([]byte(k))
				require.NoError(t, err)
				assert.True(t, gFound)
				assert.True(t, fFound)
				assert.Equal(t, want, got, k)
			}
		})
	}
}

func TestDB_LoadEmptyFile(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Load())
	assert.Zero(t, db.Count())

	_, found, err := db.Find([]byte("x"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDB_TruncatedTail(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("b"), []byte("2")))
	path := db.Path()
	require.NoError(t, db.Close())

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, stat.Size()-1))

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Load())

	_, found := mustGet(t, db, "a")
	assert.True(t, found)
	_, found = mustGet(t, db, "b")
	assert.False(t, found)
}

func TestDB_CorruptionIsFatal(t *testing.T) {
	reg := prometheus.NewRegistry()
	db := openTestDB(t, WithRegisterer(reg))
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("b"), []byte("2")))
	require.NoError(t, db.Insert([]byte("c"), []byte("3")))

	// corrupt the value of "b", the middle record
	f, err := os.OpenFile(db.Path(), os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("X"), 2*logfile.HeaderSize+2+1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, _, err = db.Get([]byte("b"))
	assert.ErrorIs(t, err, ErrCorrupt)

	// the index built before the damage still serves the others
	v, _ := mustGet(t, db, "c")
	assert.Equal(t, "3", v)

	_, _, err = db.Find([]byte("a"))
	assert.ErrorIs(t, err, ErrCorrupt)

	err = db.Load()
	require.ErrorIs(t, err, ErrCorrupt)
	// a failed load keeps the previous index
	assert.Equal(t, 3, db.Count())

	var ce *logfile.CorruptEntryError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(logfile.HeaderSize+2), ce.Offset)

	m := metrics.New(reg, "appendkv", db.Path())
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CorruptRecords))
}

func TestDB_GetAtBadOffset(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))

	_, _, err := db.GetAt(1000)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, logfile.ErrEndOfEntry)
}

func TestDB_KeysAndForget(t *testing.T) {
	db := openTestDB(t)
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, db.Insert([]byte(k), []byte(k)))
	}
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, db.Keys())

	db.Forget([]byte("b"))
	_, found := mustGet(t, db, "b")
	assert.False(t, found)
	assert.Equal(t, 2, db.Count())

	// the record is still on disk
	_, found, err := db.Find([]byte("b"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDB_RestoreIndex(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("b"), []byte("2")))
	entries := db.IndexEntries()
	require.Len(t, entries, 2)

	db = reopen(t, db)
	require.NoError(t, db.RestoreIndex(entries))
	v, found := mustGet(t, db, "b")
	assert.True(t, found)
	assert.Equal(t, "2", v)

	err := db.RestoreIndex([]IndexEntry{{Key: []byte("x"), Offset: 1 << 20}})
	assert.ErrorIs(t, err, ErrInvalidOffset)
	// the old index is kept
	assert.Equal(t, 2, db.Count())
}

func TestDB_Closed(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Insert([]byte("k"), []byte("v")), ErrClosed)
	assert.ErrorIs(t, db.Load(), ErrClosed)
	assert.ErrorIs(t, db.Sync(), ErrClosed)
	_, _, err := db.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = db.Find([]byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = db.GetAt(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.RestoreIndex(nil), ErrClosed)
	assert.Zero(t, db.Count())
	assert.Nil(t, db.Keys())
	assert.Nil(t, db.IndexEntries())
}

func TestDB_FileLock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("advisory locks are unix only")
	}
	db := openTestDB(t, WithFileLock(true))

	_, err := Open(db.Path(), WithFileLock(true))
	assert.ErrorIs(t, err, ErrFileLocked)

	// without the option nothing is checked
	other, err := Open(db.Path())
	require.NoError(t, err)
	require.NoError(t, other.Close())

	require.NoError(t, db.Close())
	again, err := Open(db.Path(), WithFileLock(true))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestDB_SyncWrites(t *testing.T) {
	db := openTestDB(t, WithSync(true))
	require.NoError(t, db.Insert([]byte("k"), []byte("v")))
	require.NoError(t, db.Sync())

	stat, err := os.Stat(db.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(logfile.HeaderSize+2), stat.Size())
}

func TestDB_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	db := openTestDB(t, WithRegisterer(reg))
	m := metrics.New(reg, "appendkv", db.Path())

	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("bb"), []byte("22")))
	_, _, err := db.Get([]byte("a"))
	require.NoError(t, err)
	_, _, err = db.Find([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, db.Load())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RecordsAppended))
	assert.Equal(t, float64(2*logfile.HeaderSize+6), testutil.ToFloat64(m.BytesAppended))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PointReads))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Scans.WithLabelValues(metrics.ScanFind)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Scans.WithLabelValues(metrics.ScanLoad)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.IndexKeys))
}

func TestOpenWithOptions(t *testing.T) {
	opts := DefaultOptions(filepath.Join(t.TempDir(), "data.akv"))
	opts.IOType = "tape"
	_, err := OpenWithOptions(opts)
	assert.Error(t, err)

	opts.IOType = "mmap"
	db, err := OpenWithOptions(opts, WithMMap(false))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Insert([]byte("k"), []byte("v")))
	require.NoError(t, db.Load())
	assert.Equal(t, 1, db.Count())
}
