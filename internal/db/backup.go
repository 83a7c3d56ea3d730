package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backup writes a consistent snapshot of the database to dest.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup %s already exists", dest)
	}
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// CleanupBackups removes *.db files in dir older than retention and returns how many were deleted.
func CleanupBackups(dir string, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return deleted, fmt.Errorf("remove %s: %w", e.Name(), err)
			}
			deleted++
		}
	}
	return deleted, nil
}

// BackupConfig controls the periodic backup loop.
type BackupConfig struct {
	Dir       string
	Interval  time.Duration
	Retention time.Duration
	Delay     time.Duration // before the first run
}

// BackupService snapshots the database on an interval and prunes old snapshots.
type BackupService struct {
	db     *DB
	cfg    BackupConfig
	logger zerolog.Logger
}

func NewBackupService(db *DB, cfg BackupConfig, logger zerolog.Logger) *BackupService {
	if cfg.Dir == "" {
		cfg.Dir = "backups"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 14 * 24 * time.Hour
	}
	return &BackupService{db: db, cfg: cfg, logger: logger.With().Str("component", "backup").Logger()}
}

// Start blocks until ctx is done.
func (s *BackupService) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.cfg.Interval).Str("dir", s.cfg.Dir).Msg("backup service started")

	select {
	case <-time.After(s.cfg.Delay):
		s.RunOnce(ctx)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs one backup and cleanup pass and returns the snapshot path.
func (s *BackupService) RunOnce(ctx context.Context) string {
	timestamp := time.Now().Format("20060102_150405.000")
	dest := filepath.Join(s.cfg.Dir, fmt.Sprintf("agenda_%s.db", timestamp))

	s.logger.Info().Str("path", dest).Msg("starting database backup")
	if err := s.db.Backup(ctx, dest); err != nil {
		s.logger.Error().Err(err).Msg("backup failed")
		dest = ""
	} else {
		s.logger.Info().Msg("backup completed successfully")
	}

	deleted, err := CleanupBackups(s.cfg.Dir, s.cfg.Retention)
	if err != nil {
		s.logger.Error().Err(err).Msg("backup cleanup failed")
	} else if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("cleaned up old backups")
	}
	return dest
}
