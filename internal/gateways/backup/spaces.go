// Package backup uploads snapshots of the auction store to DigitalOcean
// Spaces or any other S3-compatible bucket.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gohye/auction-core/internal/clock"
)

const (
	DefaultInterval = 6 * time.Hour
	uploadTimeout   = 5 * time.Minute
	snapshotLayout  = "20060102T150405Z"
)

type Config struct {
	Key      string
	Secret   string
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string
	Interval time.Duration
}

// Uploader is the part of *s3.Client the service needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Snapshotter writes a consistent copy of the store to dest.
type Snapshotter interface {
	Snapshot(ctx context.Context, dest string) error
}

type SpacesService struct {
	client   Uploader
	store    Snapshotter
	bucket   string
	prefix   string
	interval time.Duration
	clock    clock.Clock
}

// NewSpacesClient builds an S3 client for cfg. An empty endpoint points at
// DigitalOcean Spaces in cfg.Region.
func NewSpacesClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.digitaloceanspaces.com", cfg.Region)
	}
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load Spaces config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

func NewSpacesService(client Uploader, store Snapshotter, cfg Config, clk clock.Clock) *SpacesService {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.System()
	}
	return &SpacesService{
		client:   client,
		store:    store,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		interval: cfg.Interval,
		clock:    clk,
	}
}

// ObjectKey names the snapshot taken at t.
func (s *SpacesService) ObjectKey(t time.Time) string {
	name := fmt.Sprintf("auctions-%s.db", t.UTC().Format(snapshotLayout))
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// BackupOnce snapshots the store and uploads it, returning the object key.
func (s *SpacesService) BackupOnce(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "auction-snapshot-*")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "auctions.db")
	if err := s.store.Snapshot(ctx, file); err != nil {
		return "", err
	}

	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat snapshot: %w", err)
	}

	key := s.ObjectKey(s.clock.Now())
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/vnd.sqlite3"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// Run uploads a snapshot every interval until ctx is cancelled.
func (s *SpacesService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Store backups scheduled",
		slog.String("type", "sys"),
		slog.String("bucket", s.bucket),
		slog.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			key, err := s.BackupOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("Store backup failed",
						slog.String("type", "sys"),
						slog.Any("error", err),
					)
				}
				continue
			}
			slog.Info("Store backup uploaded",
				slog.String("type", "sys"),
				slog.String("key", key),
				slog.Duration("took", time.Since(start)),
			)
		}
	}
}
