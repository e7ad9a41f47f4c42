package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/isoflash/isoflash/pkg/errors"
)

// Client reads installer images from a public S3 bucket.
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// Options tune the S3 client. Endpoint points at an S3-compatible mirror and
// switches to path-style addressing.
type Options struct {
	Region   string
	Endpoint string
}

// NewClient creates a client with anonymous credentials.
func NewClient(ctx context.Context, bucket string, opts Options) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", opts.Region, "endpoint", opts.Endpoint)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3Client: s3Client,
		bucket:   bucket,
	}, nil
}

type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Bucket returns the bucket the client reads from.
func (c *Client) Bucket() string {
	return c.bucket
}

// Download streams an object to localPath, computing its SHA-256 on the fly.
// A partially written file is removed on failure.
func (c *Client) Download(ctx context.Context, s3Key, localPath string) (result *DownloadResult, err error) {
	slog.Info("s3_download_start", "bucket", c.bucket, "s3_key", s3Key)

	object, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", s3Key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer object.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close local file")
		}
		if err != nil {
			os.Remove(localPath)
		}
	}()

	hash := sha256.New()
	writer := io.MultiWriter(f, hash)

	size, err := io.Copy(writer, object.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", s3Key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", s3Key,
		"bytes", size,
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// Object is a listed bucket entry.
type Object struct {
	Key  string
	Size int64
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, Object{Key: *obj.Key, Size: aws.ToInt64(obj.Size)})
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(objects))

	return objects, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, s3Key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})

	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			slog.Info("s3_object_not_found", "s3_key", s3Key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", s3Key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	slog.Info("s3_object_exists", "s3_key", s3Key)
	return true, nil
}
