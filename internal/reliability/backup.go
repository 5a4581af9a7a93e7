package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MRT0B13/novaos/internal/database"
)

const (
	backupPrefix          = "novaos-backup-"
	backupTimestampLayout = "2006-01-02-150405"

	// minBackupsToKeep survives rotation regardless of age.
	minBackupsToKeep = 3
)

// BackupService snapshots the SQLite databases, archives them with a
// checksum manifest, and uploads the archive to object storage.
type BackupService struct {
	databases map[string]*database.DB
	store     Store
	dataDir   string
	keyPrefix string
	log       zerolog.Logger
}

// BackupManifest describes one archive's contents.
type BackupManifest struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseSnapshot `json:"databases"`
}

// DatabaseSnapshot records one database file inside the archive.
type DatabaseSnapshot struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes one stored archive.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewBackupService creates a backup service over the given databases.
// keyPrefix namespaces the objects inside the bucket and may be empty.
func NewBackupService(databases map[string]*database.DB, store Store, dataDir, keyPrefix string, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		store:     store,
		dataDir:   dataDir,
		keyPrefix: keyPrefix,
		log:       log.With().Str("component", "backup").Logger(),
	}
}

// Run snapshots every database into a staging directory, archives the
// snapshots with a manifest, and uploads the archive. The staging directory
// is removed on exit.
func (s *BackupService) Run(ctx context.Context) error {
	started := time.Now()
	s.log.Info().Msg("Starting audit backup")

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	manifest := BackupManifest{Timestamp: started.UTC()}
	var files []string

	for name, db := range s.databases {
		snapPath := filepath.Join(stagingDir, name+".db")
		if err := s.snapshot(ctx, db, snapPath); err != nil {
			return fmt.Errorf("failed to snapshot %s: %w", name, err)
		}

		info, err := os.Stat(snapPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s snapshot: %w", name, err)
		}
		checksum, err := fileChecksum(snapPath)
		if err != nil {
			return fmt.Errorf("failed to checksum %s snapshot: %w", name, err)
		}

		manifest.Databases = append(manifest.Databases, DatabaseSnapshot{
			Name:      name,
			Filename:  name + ".db",
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, snapPath)
	}
	sort.Slice(manifest.Databases, func(i, j int) bool {
		return manifest.Databases[i].Name < manifest.Databases[j].Name
	})

	manifestPath := filepath.Join(stagingDir, "manifest.json")
	if err := writeManifest(manifestPath, &manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	files = append(files, manifestPath)

	archiveName := backupPrefix + started.Format(backupTimestampLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, s.key(archiveName), archive); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	info, _ := os.Stat(archivePath)
	var sizeKb int64
	if info != nil {
		sizeKb = info.Size() / 1024
	}
	s.log.Info().
		Dur("duration_ms", time.Since(started)).
		Str("archive", archiveName).
		Int64("size_kb", sizeKb).
		Int("databases", len(manifest.Databases)).
		Msg("Audit backup completed")
	return nil
}

// List returns stored archives newest first.
func (s *BackupService) List(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.key(backupPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.key(""))
		if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".tar.gz") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".tar.gz")
		ts, err := time.Parse(backupTimestampLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Unparseable backup timestamp; skipping")
			continue
		}
		backups = append(backups, BackupInfo{Key: obj.Key, Timestamp: ts, SizeBytes: obj.SizeBytes})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Rotate deletes archives older than retentionDays, always keeping the
// newest minBackupsToKeep. retentionDays 0 disables age-based deletion.
func (s *BackupService) Rotate(ctx context.Context, retentionDays int) (int, error) {
	backups, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep || retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	var deleted int
	for i, b := range backups {
		if i < minBackupsToKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Warn().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Time("timestamp", b.Timestamp).Msg("Deleted old backup")
		deleted++
	}
	return deleted, nil
}

// snapshot writes a consistent copy of the database with VACUUM INTO, which
// works while the source stays open under WAL.
func (s *BackupService) snapshot(ctx context.Context, db *database.DB, dest string) error {
	// VACUUM INTO refuses to overwrite.
	_ = os.Remove(dest)
	quoted := strings.ReplaceAll(dest, "'", "''")
	_, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted))
	return err
}

func (s *BackupService) key(name string) string {
	if s.keyPrefix == "" {
		return name
	}
	return strings.TrimSuffix(s.keyPrefix, "/") + "/" + name
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeManifest(path string, m *BackupManifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func createArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addFileToArchive(tw, path); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
