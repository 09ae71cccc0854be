// Package file keeps the seen set in an append-only text file, one
// "<listing_id>\t<first_seen RFC3339>" line per record behind a version
// header. Every insert is fsynced before it is reported as committed.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"apartment_finder/internal/domain"
)

const header = "# apartment_finder seen listings v1"

// Store is not safe for concurrent use; a lock file keeps other processes
// out while it is open.
type Store struct {
	path    string
	lock    *fileLock
	records map[string]time.Time
	// size of the committed prefix. Bytes past it belong to an interrupted
	// write and are cut off before the next append.
	committed int64
	torn      bool
	logger    *slog.Logger
}

func Open(path string, lockTTL time.Duration, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	lock, err := acquireLock(path+".lock", lockTTL)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:    path,
		lock:    lock,
		records: make(map[string]time.Time),
		logger:  logger.With("store", "file", "path", path),
	}
	if err := s.load(); err != nil {
		_ = lock.release()
		return nil, err
	}

	s.logger.Debug("opened listing store", "records", len(s.records))
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}

	end := bytes.LastIndexByte(data, '\n') + 1
	if end == 0 && len(data) > 0 && !strings.HasPrefix(header, string(data)) {
		// Only an interrupted first write may lack a newline.
		return fmt.Errorf("%w: %s: no complete line in %d bytes", domain.ErrStoreCorrupt, s.path, len(data))
	}
	if end < len(data) {
		s.torn = true
		s.logger.Warn("ignoring incomplete trailing record", "bytes", len(data)-end)
	}
	s.committed = int64(end)
	if end == 0 {
		return nil
	}

	lines := strings.Split(string(data[:end-1]), "\n")
	if lines[0] != header {
		return fmt.Errorf("%w: %s: unexpected header %q", domain.ErrStoreCorrupt, s.path, truncate(lines[0], 40))
	}

	for n, line := range lines[1:] {
		if line == "" {
			continue
		}
		id, ts, ok := strings.Cut(line, "\t")
		if !ok || id == "" {
			return fmt.Errorf("%w: %s line %d: malformed record", domain.ErrStoreCorrupt, s.path, n+2)
		}
		seenAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("%w: %s line %d: bad timestamp: %v", domain.ErrStoreCorrupt, s.path, n+2, err)
		}
		if _, dup := s.records[id]; !dup {
			s.records[id] = seenAt
		}
	}
	return nil
}

func (s *Store) Contains(_ context.Context, id string) (bool, error) {
	_, ok := s.records[id]
	return ok, nil
}

func (s *Store) ContainsBatch(_ context.Context, ids []string) (map[string]struct{}, error) {
	present := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			present[id] = struct{}{}
		}
	}
	return present, nil
}

func (s *Store) Insert(_ context.Context, rec domain.SeenRecord) (bool, error) {
	if _, ok := s.records[rec.ListingID]; ok {
		return false, nil
	}
	if rec.ListingID == "" || strings.ContainsAny(rec.ListingID, "\t\n") {
		return false, fmt.Errorf("invalid listing id %q", rec.ListingID)
	}

	if s.torn {
		if err := os.Truncate(s.path, s.committed); err != nil {
			return false, fmt.Errorf("truncate incomplete record: %w", err)
		}
		s.torn = false
	}

	var buf bytes.Buffer
	if s.committed == 0 {
		buf.WriteString(header)
		buf.WriteByte('\n')
	}
	buf.WriteString(rec.ListingID)
	buf.WriteByte('\t')
	buf.WriteString(rec.FirstSeenAt.UTC().Format(time.RFC3339Nano))
	buf.WriteByte('\n')

	if err := appendSynced(s.path, buf.Bytes()); err != nil {
		// The file may now hold part of the line.
		s.torn = true
		return false, fmt.Errorf("append record: %w", err)
	}

	s.committed += int64(buf.Len())
	s.records[rec.ListingID] = rec.FirstSeenAt
	return true, nil
}

func (s *Store) AllIDs(_ context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(s.records))
	for id := range s.records {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// Reset deletes every record. It is an operator action, never part of a run.
func (s *Store) Reset(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove store: %w", err)
	}
	s.records = make(map[string]time.Time)
	s.committed = 0
	s.torn = false
	return nil
}

func (s *Store) Close() error {
	return s.lock.release()
}

func appendSynced(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
