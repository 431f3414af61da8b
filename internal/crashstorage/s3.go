package crashstorage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"crashproc/internal/config"
	"crashproc/internal/models"
)

var _ Store = (*S3Store)(nil)

// Object key layout.
const (
	rawCrashPrefix  = "v1/raw_crash/"
	dumpPrefix      = "v1/dump/"
	dumpNamesPrefix = "v1/dump_names/"
	processedPrefix = "v1/processed_crash/"
)

// RawCrashKey returns the object key of a raw crash.
func RawCrashKey(crashID string) string { return rawCrashPrefix + crashID }

// DumpKey returns the object key of one dump of a crash.
func DumpKey(name, crashID string) string { return dumpPrefix + name + "/" + crashID }

// DumpNamesKey returns the object key of the JSON list of dump names.
func DumpNamesKey(crashID string) string { return dumpNamesPrefix + crashID }

// ProcessedKey returns the object key of a processed crash.
func ProcessedKey(crashID string) string { return processedPrefix + crashID }

// S3Store keeps crashes in an S3 compatible bucket.
type S3Store struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// NewS3Store creates a store for cfg.Bucket. The bucket is created on
// first use when missing.
func NewS3Store(cfg config.S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		region: region,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}

		if exists {
			return
		}

		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})

	if s.initErr != nil {
		return fmt.Errorf("ensure bucket: %w", s.initErr)
	}

	return nil
}

// GetRawCrash implements Source.
func (s *S3Store) GetRawCrash(ctx context.Context, crashID string) (models.RawCrash, error) {
	if err := ValidateCrashID(crashID); err != nil {
		return nil, err
	}

	data, err := s.get(ctx, RawCrashKey(crashID))
	if err != nil {
		return nil, err
	}

	return DecodeRawCrash(data)
}

// GetDumps implements Source. Dumps are fetched eagerly; a crash without
// a dump names index has no dumps.
func (s *S3Store) GetDumps(ctx context.Context, crashID string) (models.RawDumps, error) {
	if err := ValidateCrashID(crashID); err != nil {
		return nil, err
	}

	data, err := s.get(ctx, DumpNamesKey(crashID))
	if errors.Is(err, ErrNotFound) {
		return models.MemoryDumps{}, nil
	}

	if err != nil {
		return nil, err
	}

	names, err := decodeDumpNames(data)
	if err != nil {
		return nil, fmt.Errorf("dump names of %s: %w", crashID, err)
	}

	dumps := make(models.MemoryDumps, len(names))
	for _, name := range names {
		content, err := s.get(ctx, DumpKey(name, crashID))
		if err != nil {
			return nil, fmt.Errorf("dump %s of %s: %w", name, crashID, err)
		}

		dumps[name] = content
	}

	return dumps, nil
}

// GetProcessed reads a processed crash saved by SaveProcessed.
func (s *S3Store) GetProcessed(ctx context.Context, crashID string) (models.ProcessedCrash, error) {
	if err := ValidateCrashID(crashID); err != nil {
		return nil, err
	}

	data, err := s.get(ctx, ProcessedKey(crashID))
	if err != nil {
		return nil, err
	}

	return DecodeProcessed(data)
}

// SaveProcessed implements Destination.
func (s *S3Store) SaveProcessed(ctx context.Context, crashID string, processed models.ProcessedCrash) error {
	if err := ValidateCrashID(crashID); err != nil {
		return err
	}

	data, err := json.Marshal(processed)
	if err != nil {
		return fmt.Errorf("failed to encode processed crash %s: %w", crashID, err)
	}

	return s.put(ctx, ProcessedKey(crashID), data, "application/json")
}

// SaveRawCrash stores a raw crash, its dumps and the dump names index.
func (s *S3Store) SaveRawCrash(ctx context.Context, crashID string, raw models.RawCrash, dumps map[string][]byte) error {
	if err := ValidateCrashID(crashID); err != nil {
		return err
	}

	names := models.MemoryDumps(dumps).Names()
	for _, name := range names {
		if err := ValidateDumpName(name); err != nil {
			return err
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode raw crash %s: %w", crashID, err)
	}

	for _, name := range names {
		if err := s.put(ctx, DumpKey(name, crashID), dumps[name], "application/octet-stream"); err != nil {
			return err
		}
	}

	index, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to encode dump names: %w", err)
	}

	if err := s.put(ctx, DumpNamesKey(crashID), index, "application/json"); err != nil {
		return err
	}

	return s.put(ctx, RawCrashKey(crashID), data, "application/json")
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateS3Error(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateS3Error(key, err)
	}

	return data, nil
}

func (s *S3Store) put(ctx context.Context, key string, content []byte, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}

	return nil
}

func translateS3Error(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return fmt.Errorf("failed to get %s: %w", key, err)
}

// decodeDumpNames parses the dump names index and drops unusable names.
func decodeDumpNames(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse dump names: %w", err)
	}

	out := names[:0]
	for _, name := range names {
		if ValidateDumpName(name) == nil {
			out = append(out, name)
		}
	}

	return out, nil
}
