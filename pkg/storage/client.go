// Package storage provides the durable S3 store: raw payload objects, the
// last-known state record, published outputs, and the mirrored open-data
// files all live in one bucket under distinct prefixes.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// Client provides S3 storage operations
type Client struct {
	s3Client *s3.Client
	bucket   string
}

// NewClient creates an S3 client using the default credential chain
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, apperrors.Wrap(err, "failed to load AWS config")
	}

	return &Client{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
	}, nil
}

// Bucket returns the bucket this client operates on.
func (c *Client) Bucket() string { return c.bucket }

// Upload writes body to the given key with the given content type.
func (c *Client) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	slog.Info("s3_upload_start", "bucket", c.bucket, "key", key, "size_bytes", len(body))

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Error("s3_upload_failed", "key", key, "error", err)
		return apperrors.Wrap(err, "failed to upload object")
	}

	slog.Info("s3_upload_complete", "key", key, "size_bytes", len(body))
	return nil
}

// Get reads an object's full contents. Returns (nil, nil) if the key does
// not exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			slog.Info("s3_object_not_found", "key", key)
			return nil, nil
		}
		slog.Error("s3_get_object_failed", "key", key, "error", err)
		return nil, apperrors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		slog.Error("s3_read_body_failed", "key", key, "error", err)
		return nil, apperrors.Wrap(err, "failed to read object body")
	}

	slog.Info("s3_get_complete", "key", key, "size_bytes", len(body))
	return body, nil
}

// Copy performs a server-side copy within the configured bucket.
func (c *Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	slog.Info("s3_copy_start", "bucket", c.bucket, "src_key", srcKey, "dst_key", dstKey)

	_, err := c.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		CopySource: aws.String(c.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		slog.Error("s3_copy_failed", "src_key", srcKey, "dst_key", dstKey, "error", err)
		return apperrors.Wrap(err, "failed to copy object")
	}

	slog.Info("s3_copy_complete", "src_key", srcKey, "dst_key", dstKey)
	return nil
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_delete_failed", "key", key, "error", err)
		return apperrors.Wrap(err, "failed to delete object")
	}
	slog.Info("s3_delete_complete", "key", key)
	return nil
}

// ObjectInfo describes one stored object for listing callers.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ListObjects lists all objects in the bucket with a given prefix
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, apperrors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			info := ObjectInfo{Key: *obj.Key}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			objects = append(objects, info)
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(objects))
	return objects, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		slog.Error("s3_head_object_failed", "key", key, "error", err)
		return false, apperrors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

// LoadState reads the StoredState record. A missing record means no prior
// state (first-ever run) and returns (nil, nil).
func (c *Client) LoadState(ctx context.Context, stateKey string) (*StoredState, error) {
	body, err := c.Get(ctx, stateKey)
	if err != nil {
		return nil, err
	}
	if body == nil {
		slog.Info("state_absent", "state_key", stateKey)
		return nil, nil
	}

	var state StoredState
	if err := json.Unmarshal(body, &state); err != nil {
		slog.Error("state_unmarshal_failed", "state_key", stateKey, "error", err)
		return nil, apperrors.Wrap(err, "failed to unmarshal state record")
	}

	slog.Info("state_loaded", "state_key", stateKey, "storage_key", state.StorageKey)
	return &state, nil
}

// WriteState persists the StoredState record. Callers must have durably
// written the content at state.StorageKey first; see CommitSnapshot.
func (c *Client) WriteState(ctx context.Context, stateKey string, state *StoredState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal state record")
	}
	return c.Upload(ctx, stateKey, body, "application/json")
}

// isNotFound reports whether err is any S3 object-missing error.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
