// Package reliability contains the operational safety nets around the
// ledger: off-site backups and their retention.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jhd66g/coinbase-systematic-trader/internal/config"
	"github.com/jhd66g/coinbase-systematic-trader/internal/database"
	"github.com/rs/zerolog"
)

const backupPrefix = "ledger-backup-"

// BackupMetadata describes the archived database for restore tooling.
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupService snapshots the ledger database and ships the archive to
// S3-compatible storage. The ledger is the only source of truth for
// trade history, so losing the host must not mean losing it.
type BackupService struct {
	db       *database.DB
	cfg      config.BackupConfig
	client   *s3.Client
	uploader *manager.Uploader
	log      zerolog.Logger
}

// NewBackupService builds the S3 client from static credentials and
// returns the backup service. A custom endpoint supports S3-compatible
// stores.
func NewBackupService(ctx context.Context, db *database.DB, cfg config.BackupConfig, log zerolog.Logger) (*BackupService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &BackupService{
		db:       db,
		cfg:      cfg,
		client:   client,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// Run creates one backup archive, uploads it, and prunes expired ones.
func (s *BackupService) Run(ctx context.Context) error {
	start := time.Now()
	s.log.Info().Msg("Starting ledger backup")

	staging, err := os.MkdirTemp("", "ledger-backup-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	// Fold the WAL into the main file so the copied database is complete
	// on its own.
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}

	dbCopy := filepath.Join(staging, "ledger.db")
	if err := copyFile(s.db.Path(), dbCopy); err != nil {
		return fmt.Errorf("failed to copy ledger database: %w", err)
	}

	checksum, size, err := fileChecksum(dbCopy)
	if err != nil {
		return fmt.Errorf("failed to checksum ledger copy: %w", err)
	}

	meta := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Filename:  "ledger.db",
		SizeBytes: size,
		Checksum:  checksum,
	}
	metaPath := filepath.Join(staging, "backup-metadata.json")
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}

	archiveName := backupPrefix + time.Now().UTC().Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(staging, archiveName)
	if err := createArchive(archivePath, []string{dbCopy, metaPath}); err != nil {
		return fmt.Errorf("failed to create backup archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open backup archive: %w", err)
	}
	defer archive.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(archiveName),
		Body:   archive,
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("db_size_bytes", size).
		Dur("duration", time.Since(start)).
		Msg("Ledger backup uploaded")

	if err := s.pruneExpired(ctx); err != nil {
		// The fresh backup is safe; stale extras only cost storage.
		s.log.Warn().Err(err).Msg("Backup retention pruning failed")
	}
	return nil
}

// pruneExpired deletes archives older than the retention window.
func (s *BackupService) pruneExpired(ctx context.Context) error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(backupPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.cfg.Bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("failed to delete expired backup %s: %w", *obj.Key, err)
			}
			s.log.Info().Str("archive", *obj.Key).Msg("Deleted expired backup")
		}
	}
	return nil
}

func createArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, path := range files {
		if err := addToArchive(tw, path); err != nil {
			return err
		}
	}
	return nil
}

func addToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// ParseBackupTimestamp extracts the creation time encoded in an archive
// name, for tooling that inspects buckets directly.
func ParseBackupTimestamp(key string) (time.Time, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), ".tar.gz")
	return time.Parse("2006-01-02-150405", name)
}
