package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"

	"place-service/internal/extraction"
	"place-service/internal/objectstore"
)

const (
	backupPrefix    = "backups/"
	backupEntryName = "objects.db"
)

// BackupService ships consistent copies of the object store to MinIO.
type BackupService struct {
	store      *objectstore.DB
	minio      *minio.Client
	bucketName string
}

func NewBackupService(store *objectstore.DB, minioClient *minio.Client, bucketName string) *BackupService {
	return &BackupService{
		store:      store,
		minio:      minioClient,
		bucketName: bucketName,
	}
}

// BackupInfo describes one stored backup.
type BackupInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// BackupKey names a backup taken at t.
func BackupKey(t time.Time) string {
	return fmt.Sprintf("%sobjects-%s-%s.tar.gz", backupPrefix, t.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

// Backup snapshots the store, packs it as tar.gz and uploads it.
func (s *BackupService) Backup(ctx context.Context) (BackupInfo, error) {
	workDir, err := os.MkdirTemp("", "place-backup-*")
	if err != nil {
		return BackupInfo{}, err
	}
	defer os.RemoveAll(workDir)

	snapshotPath := filepath.Join(workDir, backupEntryName)
	if err := s.store.Snapshot(ctx, snapshotPath); err != nil {
		return BackupInfo{}, err
	}

	archivePath := filepath.Join(workDir, "backup.tar.gz")
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return BackupInfo{}, err
	}
	defer archiveFile.Close()
	if err := extraction.CreateArchive(ctx, archiveFile, map[string]string{snapshotPath: backupEntryName}); err != nil {
		return BackupInfo{}, errors.Wrap(err, "pack snapshot")
	}

	size, err := archiveFile.Seek(0, io.SeekCurrent)
	if err != nil {
		return BackupInfo{}, err
	}
	if _, err := archiveFile.Seek(0, io.SeekStart); err != nil {
		return BackupInfo{}, err
	}

	key := BackupKey(time.Now())
	_, err = s.minio.PutObject(ctx, s.bucketName, key, archiveFile, size, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return BackupInfo{}, errors.Wrapf(err, "upload backup %s", key)
	}

	log.Printf("Backup uploaded: Key=%s, Size=%d", key, size)
	return BackupInfo{Key: key, Size: size, LastModified: time.Now().UTC()}, nil
}

// List returns the stored backups, newest first.
func (s *BackupService) List(ctx context.Context) ([]BackupInfo, error) {
	var backups []BackupInfo
	for obj := range s.minio.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: backupPrefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}
		backups = append(backups, BackupInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].LastModified.After(backups[j].LastModified)
	})
	return backups, nil
}

// Restore downloads the backup under key and writes the store file it
// contains to destPath. destPath must not exist; restoring over a live store
// is left to the operator.
func (s *BackupService) Restore(ctx context.Context, key, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return errors.Errorf("restore target %s already exists", destPath)
	}

	obj, err := s.minio.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "fetch backup %s", key)
	}
	defer obj.Close()

	workDir, err := os.MkdirTemp("", "place-restore-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	archivePath := filepath.Join(workDir, "backup.tar.gz")
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	counter := newCountingReader(obj)
	if _, err := io.Copy(archiveFile, counter); err != nil {
		archiveFile.Close()
		return errors.Wrapf(err, "download backup %s", key)
	}
	if err := archiveFile.Close(); err != nil {
		return err
	}
	bytes, readMs := counter.Stats()
	log.Printf("Backup downloaded: Key=%s, Bytes=%d, ReadMs=%d", key, bytes, readMs)

	return restoreFromArchive(ctx, archivePath, destPath)
}

func restoreFromArchive(ctx context.Context, archivePath, destPath string) error {
	files, extractDir, err := extraction.ExtractArchive(ctx, archivePath)
	if err != nil {
		return errors.Wrap(err, "unpack backup")
	}
	defer os.RemoveAll(extractDir)

	for _, f := range files {
		if filepath.Base(f) != backupEntryName {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		if err := copyFile(f, destPath); err != nil {
			return err
		}
		log.Printf("Backup restored: Archive=%s, Dest=%s", archivePath, destPath)
		return nil
	}
	return errors.Errorf("backup %s holds no %s", archivePath, backupEntryName)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
