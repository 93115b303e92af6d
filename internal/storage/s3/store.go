package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/scanguard/scanguard/internal/cache"
	sgerrors "github.com/scanguard/scanguard/pkg/errors"
)

// Config represents remote cache store configuration.
type Config struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	// EnableOptimization routes uploads through the CargoShip
	// transporter.
	EnableOptimization bool `yaml:"enable_optimization"`

	MaxRetries int `yaml:"max_retries"`
}

// snapshot is the wire format for a pushed cache.
type snapshot struct {
	Version     int            `json:"version"`
	Fingerprint string         `json:"fingerprint"`
	CreatedAt   time.Time      `json:"created_at"`
	Entries     []*cache.Entry `json:"entries"`
}

const snapshotVersion = 1

// RemoteStore pushes and pulls cache snapshots to S3.
type RemoteStore struct {
	client      *s3.Client
	transporter *cargoships3.Transporter
	bucket      string
	prefix      string
	logger      *slog.Logger
}

// NewRemoteStore builds a store from the ambient AWS credential chain.
func NewRemoteStore(ctx context.Context, cfg Config) (*RemoteStore, error) {
	if cfg.Bucket == "" {
		return nil, sgerrors.NewError(sgerrors.ErrCodeInvalidConfig, "remote cache bucket cannot be empty")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeInvalidConfig, "failed to load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	logger := slog.Default().With("component", "remote-cache", "bucket", cfg.Bucket)

	var transporter *cargoships3.Transporter
	if cfg.EnableOptimization {
		cargoCfg := cargoconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        4,
		}
		transporter = cargoships3.NewTransporter(client, cargoCfg)
		logger.Info("CargoShip upload optimization enabled")
	}

	return &RemoteStore{
		client:      client,
		transporter: transporter,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		logger:      logger,
	}, nil
}

// objectKey names the snapshot object for a config fingerprint. One
// snapshot per fingerprint; a changed config writes alongside, never
// over, the old one.
func objectKey(prefix, fingerprint string) string {
	return path.Join(prefix, "snapshots", fingerprint+".json.gz")
}

// encodeSnapshot serializes and compresses a snapshot.
func encodeSnapshot(snap snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(snap); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeSnapshot inflates and parses a snapshot payload.
func decodeSnapshot(data []byte) (snapshot, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	defer func() { _ = gz.Close() }()

	var snap snapshot
	if err := json.NewDecoder(gz).Decode(&snap); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// Push uploads the entries as the shared snapshot for fingerprint.
func (s *RemoteStore) Push(ctx context.Context, fingerprint string, entries []*cache.Entry) error {
	data, err := encodeSnapshot(snapshot{
		Version:     snapshotVersion,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().UTC(),
		Entries:     entries,
	})
	if err != nil {
		return sgerrors.Wrap(err, sgerrors.ErrCodeStorageWrite, "failed to encode cache snapshot")
	}

	key := objectKey(s.prefix, fingerprint)

	if s.transporter != nil {
		archive := cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: cargoconfig.StorageClassStandard,
			Metadata: map[string]string{
				"scanguard-snapshot": "true",
				"fingerprint":        fingerprint,
			},
		}

		result, uploadErr := s.transporter.Upload(ctx, archive)
		if uploadErr == nil {
			s.logger.Debug("optimized snapshot upload completed",
				"key", key,
				"size", len(data),
				"throughput", result.Throughput,
				"duration", result.Duration)
			return nil
		}
		s.logger.Warn("optimized upload failed, falling back to PutObject",
			"key", key, "error", uploadErr)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return sgerrors.Wrap(err, sgerrors.ErrCodeStorageWrite,
			fmt.Sprintf("failed to upload snapshot %s", key))
	}

	s.logger.Info("cache snapshot pushed", "key", key, "entries", len(entries), "size", len(data))
	return nil
}

// Pull downloads the shared snapshot for fingerprint. A missing
// snapshot returns an ErrCodeObjectNotFound error; callers treat that
// as a cold remote cache, not a failure.
func (s *RemoteStore) Pull(ctx context.Context, fingerprint string) ([]*cache.Entry, error) {
	key := objectKey(s.prefix, fingerprint)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, sgerrors.NewError(sgerrors.ErrCodeObjectNotFound,
				fmt.Sprintf("no shared snapshot for fingerprint %s", fingerprint))
		}
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeStorageRead,
			fmt.Sprintf("failed to download snapshot %s", key))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeStorageRead,
			fmt.Sprintf("failed to read snapshot %s", key))
	}

	// A corrupt snapshot will not heal on retry.
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeCacheRestore,
			fmt.Sprintf("failed to decode snapshot %s", key))
	}
	if snap.Fingerprint != fingerprint {
		return nil, sgerrors.NewError(sgerrors.ErrCodeCacheRestore,
			fmt.Sprintf("snapshot fingerprint mismatch: stored %s, requested %s",
				snap.Fingerprint, fingerprint))
	}

	s.logger.Info("cache snapshot pulled", "key", key, "entries", len(snap.Entries))
	return snap.Entries, nil
}

// Delete removes the shared snapshot for fingerprint.
func (s *RemoteStore) Delete(ctx context.Context, fingerprint string) error {
	key := objectKey(s.prefix, fingerprint)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return sgerrors.Wrap(err, sgerrors.ErrCodeStorageWrite,
			fmt.Sprintf("failed to delete snapshot %s", key))
	}
	return nil
}
