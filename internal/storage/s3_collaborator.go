// Package storage implements the Storage Collaborator (§6): the external
// file store the Agent Runner and File Attachment Cache depend on for
// metadata lookup, download, and signed-URL generation.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/CoreSpeed-io/zypher-agent/internal/agent"
)

// S3Config configures the S3-backed storage collaborator, grounded on the
// teacher's artifact store configuration (internal/artifacts/s3_store.go)
// but trimmed to the three read-path operations §6 actually requires of the
// core: getFileMetadata, downloadFile, getSignedUrl.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Collaborator implements agent.StorageCollaborator against an
// S3-compatible bucket.
type S3Collaborator struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
}

// NewS3Collaborator builds a collaborator from cfg, loading AWS credentials
// the same way the teacher's S3Store does: static keys if both are set,
// otherwise the default provider chain.
func NewS3Collaborator(ctx context.Context, cfg S3Config) (*S3Collaborator, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Collaborator{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (c *S3Collaborator) objectKey(fileID string) string {
	if c.prefix == "" {
		return fileID
	}
	return path.Join(c.prefix, fileID)
}

// GetFileMetadata returns the file's size and content type via a HEAD
// request.
func (c *S3Collaborator) GetFileMetadata(ctx context.Context, fileID string) (agent.FileMetadata, error) {
	key := c.objectKey(fileID)
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		return agent.FileMetadata{}, fmt.Errorf("storage: head object %s: %w", fileID, err)
	}
	meta := agent.FileMetadata{FileID: fileID, Filename: path.Base(key)}
	if out.ContentType != nil {
		meta.MimeType = *out.ContentType
	}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	return meta, nil
}

// DownloadFile streams the object's body to localPath.
func (c *S3Collaborator) DownloadFile(ctx context.Context, fileID, localPath string) error {
	key := c.objectKey(fileID)
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &key})
	if err != nil {
		return fmt.Errorf("storage: get object %s: %w", fileID, err)
	}
	defer out.Body.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, out.Body); err != nil {
		return fmt.Errorf("storage: write %s: %w", localPath, err)
	}
	return nil
}

// GetSignedURL presigns a time-limited GET URL for fileID.
func (c *S3Collaborator) GetSignedURL(ctx context.Context, fileID string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	key := c.objectKey(fileID)
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &c.bucket, Key: &key}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", fileID, err)
	}
	return req.URL, nil
}

// UploadFile uploads localPath's content as fileID, for the upload-path
// variants §6 mentions but the core task algorithm never calls.
func (c *S3Collaborator) UploadFile(ctx context.Context, fileID, localPath, mimeType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", localPath, err)
	}
	defer f.Close()

	key := c.objectKey(fileID)
	input := &s3.PutObjectInput{Bucket: &c.bucket, Key: &key, Body: f}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := c.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("storage: put object %s: %w", fileID, err)
	}
	return nil
}

var _ agent.StorageCollaborator = (*S3Collaborator)(nil)
