package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Compile-time checks.
var (
	_ Storage  = (*S3Storage)(nil)
	_ Artifact = (*S3Artifact)(nil)
)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string // Optional: key prefix for every artifact
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// objectAPI is the subset of the S3 client used by this package.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage wraps LocalStorage and publishes artifacts to S3.
// It uses LocalStorage for downloads and renders, uploads each rendered file
// and removes the local copy.
type S3Storage struct {
	*LocalStorage
	client objectAPI
	bucket string
	prefix string
}

// NewS3Storage creates a new S3Storage instance.
// The tempDir parameter specifies where temporary files are stored.
// The cfg parameter contains S3 configuration.
func NewS3Storage(tempDir string, cfg S3Config) (*S3Storage, error) {
	local, err := NewLocalStorage(tempDir)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		LocalStorage: local,
		client:       s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:       cfg.Bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Publish uploads the rendered file and removes the local copy. The object
// key mirrors the file's path relative to the temp directory.
func (s *S3Storage) Publish(ctx context.Context, localPath string) (Artifact, error) {
	key, err := s.keyFor(localPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(localPath) // #nosec G304 - path is produced by this package
	if err != nil {
		return nil, fmt.Errorf("open rendered file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat rendered file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return nil, fmt.Errorf("upload to S3: %w", err)
	}

	_ = f.Close()
	_ = os.Remove(localPath)

	return &S3Artifact{client: s.client, bucket: s.bucket, key: key}, nil
}

func (s *S3Storage) keyFor(localPath string) (string, error) {
	rel, err := filepath.Rel(s.tempDir, localPath)
	if err != nil || rel == "." || startsWithParent(rel) || rel == ".." {
		return "", fmt.Errorf("publish %s: not inside %s", localPath, s.tempDir)
	}
	return path.Join(s.prefix, filepath.ToSlash(rel)), nil
}

// S3Artifact is an artifact stored as an S3 object.
type S3Artifact struct {
	client objectAPI
	bucket string
	key    string
}

// Location returns the s3:// URI of the object.
func (a *S3Artifact) Location() string {
	return "s3://" + a.bucket + "/" + a.key
}

// Exists issues a HEAD request for the object.
func (a *S3Artifact) Exists(ctx context.Context) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head S3 object: %w", err)
}

// Open streams the object body.
func (a *S3Artifact) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, a.Location())
		}
		return nil, fmt.Errorf("get S3 object: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (a *S3Artifact) Delete(ctx context.Context) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete S3 object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
