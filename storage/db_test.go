package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
	require.NoError(t, db.Put([]byte("a/3"), []byte("three")))
	require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

	value, err := db.Get([]byte("a/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	ok, err := db.Has([]byte("b/1"))
	require.NoError(t, err)
	require.True(t, ok)

	var keys []string
	require.NoError(t, db.Iterate([]byte("a/"), nil, func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Equal(t, []string{"a/1", "a/2", "a/3"}, keys)

	keys = nil
	require.NoError(t, db.Iterate([]byte("a/"), []byte("a/2"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return len(keys) < 1
	}))
	require.Equal(t, []string{"a/2"}, keys)

	require.NoError(t, db.Delete([]byte("a/1")))
	ok, err = db.Has([]byte("a/1"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)

	value := []byte("x")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'y'
	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), stored)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}
