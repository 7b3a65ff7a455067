package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStorage(t *testing.T) *DefaultStorage {
	t.Helper()
	s, err := NewDefaultStorage(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorage_PutGetRemove(t *testing.T) {
	s := openTestStorage(t)

	require.NoError(t, s.Put(NamespaceSnapshots, []byte("k1"), []byte("v1")))
	got, err := s.Get(NamespaceSnapshots, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	_, err = s.Get(NamespaceLogs, []byte("k1"))
	assert.ErrorIs(t, err, ErrNotFound, "namespaces are separate")

	require.NoError(t, s.Remove(NamespaceSnapshots, []byte("k1")))
	_, err = s.Get(NamespaceSnapshots, []byte("k1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Remove(NamespaceSnapshots, []byte("missing")))
}

func TestStorage_KSUIDRecords(t *testing.T) {
	s := openTestStorage(t)

	id, err := s.Create(NamespaceLogs, []byte(`{"path":"a"}`))
	require.NoError(t, err)
	assert.NotEqual(t, ksuid.Nil, id)

	data, err := s.Read(NamespaceLogs, id)
	require.NoError(t, err)
	assert.Equal(t, `{"path":"a"}`, string(data))

	require.NoError(t, s.Update(NamespaceLogs, id, []byte(`{"path":"b"}`)))
	data, err = s.Read(NamespaceLogs, id)
	require.NoError(t, err)
	assert.Equal(t, `{"path":"b"}`, string(data))

	require.NoError(t, s.Delete(NamespaceLogs, id))
	_, err = s.Read(NamespaceLogs, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_Each(t *testing.T) {
	s := openTestStorage(t)

	require.NoError(t, s.Put(NamespaceLogs, []byte("b"), []byte("2")))
	require.NoError(t, s.Put(NamespaceLogs, []byte("a"), []byte("1")))
	require.NoError(t, s.Put(NamespaceSnapshots, []byte("c"), []byte("3")))

	var keys []string
	require.NoError(t, s.Each(NamespaceLogs, func(k, v []byte) error {
		keys = append(keys, string(k)+"="+string(v))
		return nil
	}))
	assert.Equal(t, []string{"a=1", "b=2"}, keys)

	stop := errors.New("stop")
	n := 0
	err := s.Each(NamespaceLogs, func(k, v []byte) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}
