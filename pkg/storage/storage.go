// Package storage is a small pebble-backed key/value store used for index
// snapshots and the API's registry of opened logs.
package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("storage: not found")

// Namespaces keep unrelated records apart within one database.
const (
	NamespaceSnapshots = "snap"
	NamespaceLogs      = "log"
)

type DefaultStorage struct {
	db *pebble.DB
}

func NewDefaultStorage(path string) (*DefaultStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s: %w", path, err)
	}
	return &DefaultStorage{db: db}, nil
}

func nsKey(ns string, key []byte) []byte {
	k := make([]byte, 0, len(ns)+1+len(key))
	k = append(k, ns...)
	k = append(k, '/')
	return append(k, key...)
}

// Put stores data under ns/key, replacing any previous value.
func (s *DefaultStorage) Put(ns string, key, data []byte) error {
	return s.db.Set(nsKey(ns, key), data, pebble.Sync)
}

// Get returns a copy of the value stored under ns/key.
func (s *DefaultStorage) Get(ns string, key []byte) ([]byte, error) {
	data, closer, err := s.db.Get(nsKey(ns, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	return bytes.Clone(data), nil
}

// Remove deletes ns/key. Removing a missing key is not an error.
func (s *DefaultStorage) Remove(ns string, key []byte) error {
	return s.db.Delete(nsKey(ns, key), pebble.Sync)
}

// Each calls fn for every key in ns, in key order, with the namespace
// stripped. Returning an error from fn stops the iteration.
func (s *DefaultStorage) Each(ns string, fn func(key, value []byte) error) error {
	prefix := nsKey(ns, nil)
	upper := append(bytes.Clone(prefix[:len(prefix)-1]), '/'+1)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(bytes.Clone(iter.Key()[len(prefix):]), bytes.Clone(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Create stores data under a fresh KSUID in ns.
func (s *DefaultStorage) Create(ns string, data []byte) (ksuid.KSUID, error) {
	id := ksuid.New()
	if err := s.Put(ns, id.Bytes(), data); err != nil {
		return ksuid.Nil, err
	}
	return id, nil
}

func (s *DefaultStorage) Read(ns string, id ksuid.KSUID) ([]byte, error) {
	return s.Get(ns, id.Bytes())
}

func (s *DefaultStorage) Update(ns string, id ksuid.KSUID, data []byte) error {
	return s.Put(ns, id.Bytes(), data)
}

func (s *DefaultStorage) Delete(ns string, id ksuid.KSUID) error {
	return s.Remove(ns, id.Bytes())
}

func (s *DefaultStorage) Close() error {
	return s.db.Close()
}
