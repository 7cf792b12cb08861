// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package imaging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/babybridge/internal/clock"
)

// FSArchive stores frames as JPEG files in one directory. Writes are atomic
// so a reader never sees a partial frame.
type FSArchive struct {
	dir   string
	clock clock.Clock
	mu    sync.Mutex // serialises name allocation
}

// NewFSArchive creates dir if needed.
func NewFSArchive(dir string, clk clock.Clock) (*FSArchive, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &FSArchive{dir: dir, clock: clk}, nil
}

func (a *FSArchive) Save(_ context.Context, at time.Time, data []byte) (ImageInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var name string
	for seq := 0; ; seq++ {
		name = FileName(at, seq)
		if _, err := os.Stat(filepath.Join(a.dir, name)); errors.Is(err, fs.ErrNotExist) {
			break
		}
	}

	path := filepath.Join(a.dir, name)
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return ImageInfo{}, fmt.Errorf("write %s: %w", name, err)
	}
	return ImageInfo{Name: name, SizeBytes: int64(len(data)), CreatedAt: at}, nil
}

func (a *FSArchive) Get(_ context.Context, name string) ([]byte, ImageInfo, error) {
	if !ValidName(name) {
		return nil, ImageInfo{}, ErrInvalidName
	}
	path := filepath.Join(a.dir, name)
	// #nosec G304 -- name is validated against the archive pattern
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ImageInfo{}, ErrNotFound
	}
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("read %s: %w", name, err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return data, ImageInfo{Name: name, SizeBytes: st.Size(), CreatedAt: st.ModTime()}, nil
}

func (a *FSArchive) List(_ context.Context, n int) ([]ImageInfo, error) {
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

func (a *FSArchive) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	infos, err := a.scan()
	if err != nil {
		return 0, err
	}
	cutoff := a.clock.Now().Add(-maxAge)
	deleted := 0
	for _, info := range infos {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if !info.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.dir, info.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return deleted, fmt.Errorf("remove %s: %w", info.Name, err)
		}
		deleted++
	}
	return deleted, nil
}

func (a *FSArchive) Close() error { return nil }

func (a *FSArchive) scan() ([]ImageInfo, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	infos := make([]ImageInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, ImageInfo{Name: e.Name(), SizeBytes: st.Size(), CreatedAt: st.ModTime()})
	}
	return infos, nil
}
