package file

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"apartment_finder/internal/domain"
)

// fileLock is an O_EXCL lock file. A lock whose mtime is older than ttl is
// considered abandoned and taken over; the holder refreshes it while alive.
type fileLock struct {
	path     string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func acquireLock(path string, ttl time.Duration) (*fileLock, error) {
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			_ = f.Close()

			l := &fileLock{path: path, stop: make(chan struct{}), done: make(chan struct{})}
			go l.heartbeat(ttl)
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if ttl <= 0 || time.Since(fi.ModTime()) < ttl {
			return nil, fmt.Errorf("%w: %s", domain.ErrStoreLocked, path)
		}
		if !removeStale(path, fi) {
			return nil, fmt.Errorf("%w: %s", domain.ErrStoreLocked, path)
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrStoreLocked, path)
}

// removeStale moves the lock aside and deletes it only if it is still the
// file that was judged stale. A lock another process created in between is
// put back untouched.
func removeStale(path string, stale os.FileInfo) bool {
	aside := fmt.Sprintf("%s.stale.%d.%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		// Someone else already took it over or removed it.
		return errors.Is(err, os.ErrNotExist)
	}

	moved, err := os.Stat(aside)
	if err == nil && os.SameFile(stale, moved) && moved.ModTime().Equal(stale.ModTime()) {
		_ = os.Remove(aside)
		return true
	}

	// Link fails if a newer lock already exists, so nothing is clobbered.
	_ = os.Link(aside, path)
	_ = os.Remove(aside)
	return false
}

func (l *fileLock) heartbeat(ttl time.Duration) {
	defer close(l.done)
	if ttl <= 0 {
		<-l.stop
		return
	}

	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			now := time.Now()
			_ = os.Chtimes(l.path, now, now)
		}
	}
}

func (l *fileLock) release() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
