// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package multiedit

import (
	"context"
	"sort"
	"sync"
)

// pathLocks hands out one mutual-exclusion section per file path. Each lock
// is a one-slot semaphore so waiting can be abandoned on context cancel.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sem  chan struct{}
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (l *pathLocks) ref(path string) *pathLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.locks[path]
	if !ok {
		pl = &pathLock{sem: make(chan struct{}, 1)}
		l.locks[path] = pl
	}
	pl.refs++
	return pl
}

func (l *pathLocks) unref(path string, pl *pathLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, path)
	}
}

// lock blocks until path is held or ctx is done.
func (l *pathLocks) lock(ctx context.Context, path string) (func(), error) {
	pl := l.ref(path)
	select {
	case pl.sem <- struct{}{}:
		return func() {
			<-pl.sem
			l.unref(path, pl)
		}, nil
	case <-ctx.Done():
		l.unref(path, pl)
		return nil, ctx.Err()
	}
}

// lockAll takes every path in sorted order so overlapping batches cannot
// deadlock. On error nothing is left held.
func (l *pathLocks) lockAll(ctx context.Context, paths []string) (func(), error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, p := range sorted {
		unlock, err := l.lock(ctx, p)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// held reports how many paths currently have a lock entry.
func (l *pathLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
