// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/babybridge/internal/clock"
)

// Key layout:
//
//	img:<name>  -> 8-byte big-endian unix nanos followed by the JPEG bytes
//
// Entries carry a TTL equal to the retention, so expiry is handled by badger
// and Cleanup only has to sweep entries written before a retention change.
const badgerPrefix = "img:"

// BadgerArchive stores frames in an embedded badger database.
type BadgerArchive struct {
	db    *badger.DB
	ttl   time.Duration
	clock clock.Clock
	mu    sync.Mutex
}

// OpenBadgerArchive opens (or creates) the database at path. inMemory is for tests.
func OpenBadgerArchive(path string, ttl time.Duration, inMemory bool, clk clock.Clock) (*BadgerArchive, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger archive: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &BadgerArchive{db: db, ttl: ttl, clock: clk}, nil
}

func (a *BadgerArchive) Close() error { return a.db.Close() }

func (a *BadgerArchive) Save(_ context.Context, at time.Time, data []byte) (ImageInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var info ImageInfo
	err := a.db.Update(func(txn *badger.Txn) error {
		var name string
		for seq := 0; ; seq++ {
			name = FileName(at, seq)
			_, err := txn.Get([]byte(badgerPrefix + name))
			if errors.Is(err, badger.ErrKeyNotFound) {
				break
			}
			if err != nil {
				return err
			}
		}

		val := make([]byte, 8+len(data))
		binary.BigEndian.PutUint64(val, uint64(at.UnixNano()))
		copy(val[8:], data)

		e := badger.NewEntry([]byte(badgerPrefix+name), val)
		if a.ttl > 0 {
			e = e.WithTTL(a.ttl)
		}
		info = ImageInfo{Name: name, SizeBytes: int64(len(data)), CreatedAt: at}
		return txn.SetEntry(e)
	})
	if err != nil {
		return ImageInfo{}, fmt.Errorf("save image: %w", err)
	}
	return info, nil
}

func (a *BadgerArchive) Get(_ context.Context, name string) ([]byte, ImageInfo, error) {
	if !ValidName(name) {
		return nil, ImageInfo{}, ErrInvalidName
	}
	var (
		data []byte
		info ImageInfo
	)
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			created, payload, err := splitValue(val)
			if err != nil {
				return err
			}
			data = bytes.Clone(payload)
			info = ImageInfo{Name: name, SizeBytes: int64(len(payload)), CreatedAt: created}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ImageInfo{}, ErrNotFound
	}
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("get image: %w", err)
	}
	return data, info, nil
}

func (a *BadgerArchive) List(_ context.Context, n int) ([]ImageInfo, error) {
	infos, err := a.scan()
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	if n > 0 && len(infos) > n {
		infos = infos[:n]
	}
	return infos, nil
}

func (a *BadgerArchive) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	infos, err := a.scan()
	if err != nil {
		return 0, err
	}
	cutoff := a.clock.Now().Add(-maxAge)
	deleted := 0
	err = a.db.Update(func(txn *badger.Txn) error {
		for _, info := range infos {
			if !info.CreatedAt.Before(cutoff) {
				continue
			}
			if err := txn.Delete([]byte(badgerPrefix + info.Name)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup images: %w", err)
	}
	return deleted, nil
}

func (a *BadgerArchive) scan() ([]ImageInfo, error) {
	var infos []ImageInfo
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(badgerPrefix):])
			err := item.Value(func(val []byte) error {
				created, payload, err := splitValue(val)
				if err != nil {
					return err
				}
				infos = append(infos, ImageInfo{Name: name, SizeBytes: int64(len(payload)), CreatedAt: created})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan images: %w", err)
	}
	return infos, nil
}

func splitValue(val []byte) (time.Time, []byte, error) {
	if len(val) < 8 {
		return time.Time{}, nil, errors.New("corrupt image entry")
	}
	ns := int64(binary.BigEndian.Uint64(val[:8]))
	return time.Unix(0, ns), val[8:], nil
}
