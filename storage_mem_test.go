package docdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func memPut(t *testing.T, st storage, bucket, key, value string) {
	t.Helper()
	tx, err := st.BeginTx(true)
	require.NoError(t, err)
	b, err := tx.CreateBucket(bucket, "")
	require.NoError(t, err)
	require.NoError(t, b.Put([]byte(key), []byte(value)))
	require.NoError(t, tx.Commit())
}

func TestMemStorage_Snapshots(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	memPut(t, st, "b", "k1", "v1")

	rtx, err := st.BeginTx(false)
	require.NoError(t, err)
	defer rtx.Rollback()

	memPut(t, st, "b", "k1", "v2")
	memPut(t, st, "b", "k2", "x")

	require.Equal(t, []byte("v1"), rtx.Bucket("b", "").Get([]byte("k1")))
	require.Nil(t, rtx.Bucket("b", "").Get([]byte("k2")))

	rtx2, err := st.BeginTx(false)
	require.NoError(t, err)
	defer rtx2.Rollback()
	require.Equal(t, []byte("v2"), rtx2.Bucket("b", "").Get([]byte("k1")))
}

func TestMemStorage_Rollback(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	memPut(t, st, "b", "k1", "v1")

	tx, err := st.BeginTx(true)
	require.NoError(t, err)
	require.NoError(t, tx.Bucket("b", "").Put([]byte("k1"), []byte("changed")))
	require.NoError(t, tx.Bucket("b", "").Delete([]byte("missing")))
	_, err = tx.CreateBucket("other", "sub")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rtx, err := st.BeginTx(false)
	require.NoError(t, err)
	defer rtx.Rollback()
	require.Equal(t, []byte("v1"), rtx.Bucket("b", "").Get([]byte("k1")))
	require.Nil(t, rtx.Bucket("other", ""))
	require.Nil(t, rtx.Bucket("other", "sub"))
}

func TestMemStorage_ReadOnly(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	memPut(t, st, "b", "k", "v")

	tx, err := st.BeginTx(false)
	require.NoError(t, err)
	defer tx.Rollback()
	require.Error(t, tx.Bucket("b", "").Put([]byte("k"), []byte("x")))
	_, err = tx.CreateBucket("c", "")
	require.Error(t, err)
}

func TestMemStorage_Cursor(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	for _, k := range []string{"c", "a", "e", "b"} {
		memPut(t, st, "b", k, "v"+k)
	}

	tx, err := st.BeginTx(true)
	require.NoError(t, err)
	defer tx.Rollback()
	b := tx.Bucket("b", "")

	var keys []string
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, string(k))
		if string(k) == "b" {
			// deleting the current key and inserting ahead of the cursor
			require.NoError(t, b.Delete(k))
			require.NoError(t, b.Put([]byte("d"), []byte("vd")))
		}
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)

	k, v := c.Seek([]byte("bb"))
	require.Equal(t, "c", string(k))
	require.Equal(t, "vc", string(v))
	k, _ = c.Seek([]byte("z"))
	require.Nil(t, k)

	st2 := b.Stats()
	require.Equal(t, 4, st2.KeyN)
}

func TestMemStorage_Closed(t *testing.T) {
	st := newMemStorage()
	require.NoError(t, st.Close())
	_, err := st.BeginTx(false)
	require.ErrorIs(t, err, ErrClosed)
}
