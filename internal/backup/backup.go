package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Service snapshots the database file to compressed archives on an
// interval, retaining only the newest few. Failures are logged and never
// fatal.
type Service struct {
	dbPath   string
	dir      string
	interval time.Duration
	retain   int
}

// New creates a backup service. A nil service is returned when dir is empty
// (backups disabled).
func New(dbPath, dir string, interval time.Duration, retain int) *Service {
	if dir == "" {
		return nil
	}
	return &Service{
		dbPath:   dbPath,
		dir:      dir,
		interval: interval,
		retain:   retain,
	}
}

// Run takes snapshots on the configured interval until ctx is cancelled
func (s *Service) Run(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Snapshot(); err != nil {
				log.Printf("Database snapshot failed: %v", err)
			}
		}
	}
}

// Snapshot writes one compressed copy of the database file and prunes old
// snapshots beyond the retention count
func (s *Service) Snapshot() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}

	src, err := os.Open(s.dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("perkbridge-%s.db.zst", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(s.dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finishing snapshot: %w", err)
	}

	log.Printf("Database snapshot written to %s", path)
	return s.prune()
}

// prune removes the oldest snapshots beyond the retention count
func (s *Service) prune() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "perkbridge-*.db.zst"))
	if err != nil {
		return err
	}
	if len(matches) <= s.retain {
		return nil
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-s.retain] {
		if err := os.Remove(old); err != nil {
			log.Printf("Removing old snapshot %s: %v", old, err)
		}
	}
	return nil
}
