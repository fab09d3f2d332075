package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

const archiveTimeLayout = "20060102T1504Z"

// archiveKey places a quotation under tenant and window. The idempotency key
// names the object, so a resubmission overwrites the same object.
func archiveKey(prefix string, q *billing.Quotation) string {
	window := q.Window.Start.UTC().Format(archiveTimeLayout) + "-" + q.Window.End.UTC().Format(archiveTimeLayout)
	name := q.IdempotencyKey
	if name == "" {
		name = q.ContentHash
	}
	return path.Join(prefix, url.PathEscape(q.TenantID), window, name+".json")
}

func encodeQuotation(q *billing.Quotation) ([]byte, error) {
	data, err := json.MarshalIndent(q, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode quotation: %w", err)
	}
	return append(data, '\n'), nil
}

// ============================================================================
// S3
// ============================================================================

// S3Archiver stores quotations in an S3-compatible bucket (AWS S3, MinIO, etc.)
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3ArchiverOption is a functional option for configuring S3Archiver
type S3ArchiverOption func(*S3Archiver)

// WithArchiverLogger sets a custom logger
func WithArchiverLogger(logger *zap.Logger) S3ArchiverOption {
	return func(a *S3Archiver) {
		a.logger = logger
	}
}

// NewS3Archiver creates an archiver from the storage configuration
func NewS3Archiver(ctx context.Context, cfg *config.StorageConfig, opts ...S3ArchiverOption) (*S3Archiver, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	// without static keys the default chain applies (env, shared config, IAM role)
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// S3-compatible stores often reject the newer default checksums
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	a := &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var _ billing.QuotationArchiver = (*S3Archiver)(nil)

// EnsureBucket creates the bucket if it doesn't exist
func (a *S3Archiver) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating quotation archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Archive uploads the quotation as JSON and returns its s3:// location
func (a *S3Archiver) Archive(ctx context.Context, q *billing.Quotation) (string, error) {
	data, err := encodeQuotation(q)
	if err != nil {
		return "", err
	}
	key := archiveKey(a.prefix, q)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"tenant-id":    q.TenantID,
			"content-hash": q.ContentHash,
		},
	})
	if err != nil {
		a.logger.Error("Failed to archive quotation",
			zap.String("tenant_id", q.TenantID),
			zap.String("key", key),
			zap.Error(err))
		return "", transient("archive", err)
	}

	a.logger.Debug("Archived quotation",
		zap.String("tenant_id", q.TenantID),
		zap.String("key", key),
		zap.Int("size", len(data)))
	return "s3://" + a.bucket + "/" + key, nil
}

// ============================================================================
// Local directory
// ============================================================================

// DirArchiver writes quotations below a local directory
type DirArchiver struct {
	dir string
}

// NewDirArchiver creates an archiver rooted at dir
func NewDirArchiver(dir string) *DirArchiver {
	return &DirArchiver{dir: dir}
}

var _ billing.QuotationArchiver = (*DirArchiver)(nil)

// Archive writes the quotation through a temporary file so readers never see
// a partial document
func (a *DirArchiver) Archive(_ context.Context, q *billing.Quotation) (string, error) {
	data, err := encodeQuotation(q)
	if err != nil {
		return "", err
	}
	target := filepath.Join(a.dir, filepath.FromSlash(archiveKey("", q)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".quotation-*")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}
	return target, nil
}
