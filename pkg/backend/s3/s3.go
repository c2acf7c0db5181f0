// Package s3 is a vfs.FileSystem stored in an S3 bucket.
//
// Object Layout:
// A file at /a/b.txt is the object "<prefix>a/b.txt". A directory at /a/d is
// an empty marker object "<prefix>a/d/"; the root is the prefix itself and
// has no marker. Only marked directories exist, so objects written by other
// tools under an unmarked key prefix are not visible.
//
// Node attributes live in user metadata:
//
//	fsf-version   content generation (decimal)
//	fsf-modified  last-modified time (Unix nanoseconds)
//	fsf-created   creation time (Unix nanoseconds)
//
// Objects without these keys report InitialVersion and the object's S3
// LastModified time.
//
// Consistency:
// Versioned writes use S3 conditional requests (If-None-Match: * for new
// files, If-Match: <etag> for existing ones), so the precondition holds
// across processes. Namespace operations (move, remove-all) are sequences of
// object requests and are not atomic.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// API is the subset of the S3 client the backend uses. *s3.Client
// satisfies it.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures the S3 backend.
type Config struct {
	// Client is the S3 client. See NewClient.
	Client API

	// Bucket must exist; it is not created.
	Bucket string

	// KeyPrefix scopes the filesystem to a key prefix inside the bucket.
	KeyPrefix string

	// MaxConflictRetries bounds the retries of an unconditional write that
	// raced with another writer (default: 5)
	MaxConflictRetries uint64

	// Clock supplies timestamps. Defaults to the real clock.
	Clock clock.Clock
}

// ClientConfig holds the connection settings used by NewClient.
type ClientConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// NewClient builds an S3 client. A custom endpoint (MinIO, Localstack)
// switches to path-style addressing; without static credentials the
// default AWS credential chain is used.
func NewClient(ctx context.Context, cc ClientConfig) (*s3.Client, error) {
	if cc.Region == "" {
		return nil, errors.New("s3: region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(cc.Region))

	if cc.AccessKeyID != "" && cc.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cc.AccessKeyID, cc.SecretAccessKey, ""),
		))
	}

	maxRetries := cc.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// FileSystem is a vfs.FileSystem stored in an S3 bucket.
type FileSystem struct {
	client  API
	bucket  string
	prefix  string
	clock   clock.Clock
	retries uint64
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
)

// New verifies bucket access and returns the backend.
func New(ctx context.Context, cfg Config) (*FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("s3: failed to access bucket %s: %w", cfg.Bucket, err)
	}

	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	retries := cfg.MaxConflictRetries
	if retries == 0 {
		retries = 5
	}

	logger.Info("s3 backend initialized: bucket=%s, prefix=%s", cfg.Bucket, prefix)
	return &FileSystem{
		client:  cfg.Client,
		bucket:  cfg.Bucket,
		prefix:  prefix,
		clock:   clock.Or(cfg.Clock),
		retries: retries,
	}, nil
}

// Name implements vfs.FileSystem.
func (fs *FileSystem) Name() string { return "s3(" + fs.bucket + "/" + fs.prefix + ")" }

// Separator implements vfs.FileSystem.
func (fs *FileSystem) Separator() string { return vfs.Separator }

// Roots implements vfs.FileSystem.
func (fs *FileSystem) Roots(ctx context.Context) ([]vfs.Path, error) {
	return []vfs.Path{vfs.Root}, nil
}

// Resolve implements vfs.FileSystem. S3 keys are limited to 1024 bytes.
func (fs *FileSystem) Resolve(raw string) (vfs.Path, error) {
	p, err := vfs.ParsePath(raw)
	if err != nil {
		return vfs.Path{}, err
	}
	if len(fs.dirKey(p)) > maxKeyLength {
		return vfs.Path{}, vfs.NewError(vfs.ErrIllegalPath, "resolve", p, "object key too long")
	}
	return p, nil
}

const maxKeyLength = 1024

// ============================================================================
// Keys and Errors
// ============================================================================

// fileKey is the object key of a file at p.
func (fs *FileSystem) fileKey(p vfs.Path) string {
	return fs.prefix + strings.TrimPrefix(p.String(), vfs.Separator)
}

// dirKey is the marker key of a directory at p, which is also the listing
// prefix of its children.
func (fs *FileSystem) dirKey(p vfs.Path) string {
	if p.IsRoot() {
		return fs.prefix
	}
	return fs.fileKey(p) + "/"
}

func apiCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	switch apiCode(err) {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}

// isPreconditionFailed reports a lost conditional write. S3 answers 409
// ConditionalRequestConflict when two conditional writes overlap.
func isPreconditionFailed(err error) bool {
	switch apiCode(err) {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
