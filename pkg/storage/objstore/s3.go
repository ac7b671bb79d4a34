package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/openmeasure/collector/internal/logger"
)

// defaultPartSize is the buffer threshold for one multipart part. S3
// requires every part except the last to be at least 5MB.
const defaultPartSize = 5 << 20

// defaultPagingSize bounds one ListObjectsV2 page during cleanup scans.
const defaultPagingSize = 1000

// S3Config configures the S3 bucket adapter.
type S3Config struct {
	// Endpoint overrides the S3 endpoint for S3-compatible storage
	// (MinIO, localstack). Empty uses the AWS default resolution.
	Endpoint string

	// Region is the bucket region.
	Region string

	// AccessKeyID and SecretAccessKey are static credentials. When both
	// are empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Bucket is the bucket name.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	KeyPrefix string

	// PartSize is the multipart part buffer threshold. Must be at least
	// 5MB; zero uses the default.
	PartSize uint64

	// PagingSize bounds one listing page during cleanup scans. Zero uses
	// the default of 1000.
	PagingSize int32

	// ForcePathStyle switches to path-style addressing, required by most
	// S3-compatible endpoints.
	ForcePathStyle bool
}

// S3Bucket implements Bucket over the AWS S3 multipart upload API.
type S3Bucket struct {
	client     *s3.Client
	bucket     string
	keyPrefix  string
	partSize   uint64
	pagingSize int32
}

// NewS3Bucket builds the S3 client from configuration and returns the
// bucket adapter.
func NewS3Bucket(ctx context.Context, cfg S3Config) (*S3Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket name is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	partSize := cfg.PartSize
	if partSize < defaultPartSize {
		partSize = defaultPartSize
	}
	pagingSize := cfg.PagingSize
	if pagingSize <= 0 {
		pagingSize = defaultPagingSize
	}

	return &S3Bucket{
		client:     client,
		bucket:     cfg.Bucket,
		keyPrefix:  cfg.KeyPrefix,
		partSize:   partSize,
		pagingSize: pagingSize,
	}, nil
}

func (b *S3Bucket) objectKey(object string) string {
	return b.keyPrefix + object
}

// NewResumableUpload opens a multipart upload for object.
func (b *S3Bucket) NewResumableUpload(ctx context.Context, object string) (ResumableUpload, error) {
	key := b.objectKey(object)
	result, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}

	return &s3ResumableUpload{
		bucket:   b,
		key:      key,
		uploadID: aws.ToString(result.UploadId),
	}, nil
}

// ObjectSize returns the size of a completed object.
func (b *S3Bucket) ObjectSize(ctx context.Context, object string) (int64, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(object)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("failed to head object %s: %w", object, err)
	}
	return aws.ToInt64(head.ContentLength), nil
}

// DeleteObject removes object from the bucket.
func (b *S3Bucket) DeleteObject(ctx context.Context, object string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(object)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", object, err)
	}
	return nil
}

// ListObjectsModifiedBefore pages through the bucket and returns the names
// of objects last modified before cutoff.
func (b *S3Bucket) ListObjectsModifiedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var names []string

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.keyPrefix),
		MaxKeys: aws.Int32(b.pagingSize),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", b.bucket, err)
		}
		for _, object := range page.Contents {
			if object.LastModified == nil || !object.LastModified.Before(cutoff) {
				continue
			}
			name := aws.ToString(object.Key)
			if b.keyPrefix != "" {
				name = name[len(b.keyPrefix):]
			}
			names = append(names, name)
		}
	}

	return names, nil
}

// s3ResumableUpload adapts the S3 multipart API to the contiguous-range
// resumable contract: incoming ranges are buffered until a full part is
// available, and the final short part is flushed on Complete.
type s3ResumableUpload struct {
	bucket   *S3Bucket
	key      string
	uploadID string

	buf       []byte
	offset    uint64
	partNum   int32
	completed []types.CompletedPart
}

// Append accepts the next contiguous byte range.
func (u *s3ResumableUpload) Append(ctx context.Context, p []byte) error {
	u.buf = append(u.buf, p...)
	u.offset += uint64(len(p))

	for uint64(len(u.buf)) >= u.bucket.partSize {
		if err := u.uploadPart(ctx, u.buf[:u.bucket.partSize]); err != nil {
			// Roll the accepted offset back past the buffered remainder so
			// the caller's range accounting matches what is durable.
			u.offset -= uint64(len(u.buf))
			u.buf = u.buf[:0]
			return err
		}
		u.buf = u.buf[u.bucket.partSize:]
	}
	return nil
}

func (u *s3ResumableUpload) uploadPart(ctx context.Context, data []byte) error {
	u.partNum++
	result, err := u.bucket.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(u.bucket.bucket),
		Key:        aws.String(u.key),
		UploadId:   aws.String(u.uploadID),
		PartNumber: aws.Int32(u.partNum),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		u.partNum--
		return fmt.Errorf("failed to upload part %d of %s: %w", u.partNum+1, u.key, err)
	}

	u.completed = append(u.completed, types.CompletedPart{
		ETag:       result.ETag,
		PartNumber: aws.Int32(u.partNum),
	})
	return nil
}

// Offset returns the number of bytes accepted so far, including the tail
// still buffered below the part-size threshold.
func (u *s3ResumableUpload) Offset() uint64 {
	return u.offset
}

// Complete flushes the buffered tail and assembles the object.
func (u *s3ResumableUpload) Complete(ctx context.Context) error {
	if len(u.buf) > 0 {
		if err := u.uploadPart(ctx, u.buf); err != nil {
			return err
		}
		u.buf = nil
	}

	if len(u.completed) == 0 {
		// Zero-byte object: multipart completion requires at least one
		// part, so fall back to a plain put.
		if _, err := u.bucket.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(u.bucket.bucket),
			Key:      aws.String(u.key),
			UploadId: aws.String(u.uploadID),
		}); err != nil {
			logger.Warn("failed to abort empty multipart upload",
				logger.KeyKey, u.key, logger.KeyError, err.Error())
		}
		_, err := u.bucket.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(u.bucket.bucket),
			Key:    aws.String(u.key),
			Body:   bytes.NewReader(nil),
		})
		if err != nil {
			return fmt.Errorf("failed to put empty object %s: %w", u.key, err)
		}
		return nil
	}

	parts := make([]types.CompletedPart, len(u.completed))
	copy(parts, u.completed)
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err := u.bucket.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(u.bucket.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload for %s: %w", u.key, err)
	}
	return nil
}

// Abort discards the multipart session.
func (u *s3ResumableUpload) Abort(ctx context.Context) error {
	_, err := u.bucket.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload for %s: %w", u.key, err)
	}
	u.buf = nil
	return nil
}
