package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is the embedded cache backend. It serves single-process
// deployments and tests; the in-memory mode needs no Redis and no disk.
type BadgerStore struct {
	db     *badger.DB
	hits   atomic.Uint64
	misses atomic.Uint64
	stopGC chan struct{}
}

// BadgerOptions configures the embedded store.
type BadgerOptions struct {
	// Path is the directory for the database files. Ignored when InMemory.
	Path string
	// InMemory keeps everything in RAM, for tests and ephemeral deployments.
	InMemory bool
	// GCInterval is how often value-log garbage collection runs.
	// Zero means the 10 minute default; disk mode only.
	GCInterval time.Duration
}

// NewBadgerStore opens the embedded database and starts the GC loop
// for disk-backed instances.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{db: db, stopGC: make(chan struct{})}

	if !opts.InMemory {
		interval := opts.GCInterval
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		go store.gcLoop(interval)
	}

	return store, nil
}

func (s *BadgerStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.stopGC:
			return
		}
	}
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		s.misses.Add(1)
		return nil, false, err
	}
	s.hits.Add(1)
	return value, true, nil
}

func (s *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, keys ...string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePattern removes every key starting with prefix. Keys are collected
// first because deleting while iterating invalidates the iterator.
func (s *BadgerStore) DeletePattern(ctx context.Context, prefix string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = []byte(prefix)

		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) MSet(ctx context.Context, items []Item) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, item := range items {
			entry := badger.NewEntry([]byte(item.Key), item.Value)
			if item.TTL > 0 {
				entry = entry.WithTTL(item.TTL)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	var keys int64
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false

		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Backend: "badger",
		Keys:    keys,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}, nil
}

func (s *BadgerStore) Health(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}
