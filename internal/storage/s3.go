package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/lo"

	appcfg "github.com/jorgepascosoto/json-s3-export/internal/config"
	"github.com/jorgepascosoto/json-s3-export/internal/errors"
)

// maxDeleteKeys is the DeleteObjects limit per request.
const maxDeleteKeys = 1000

type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

func NewS3Client(ctx context.Context, cfg *appcfg.Config) (*S3Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.S3Region),
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint == "" {
			return
		}
		// S3-compatible stores (MinIO, R2) want path-style addressing and
		// reject the newer default checksums.
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Client{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
	}, nil
}

// Upload stores body under key with AES256 server-side encryption.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(c.bucket),
		Key:                  aws.String(key),
		Body:                 body,
		ContentType:          aws.String(ContentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrUploadFailed, errors.NewStorageError("upload", c.bucket, key, err))
	}

	return nil
}

// List returns every object under prefix ordered by key.
func (c *S3Client) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewStorageError("list", c.bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})

	return objects, nil
}

// DeleteByPrefix removes every object whose key starts with prefix and
// returns how many were deleted.
func (c *S3Client) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: refusing to clear the whole bucket", errors.ErrClearFailed)
	}

	objects, err := c.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errors.ErrClearFailed, err)
	}

	keys := lo.Map(objects, func(o Object, _ int) string { return o.Key })
	deleted := 0
	for _, chunk := range lo.Chunk(keys, maxDeleteKeys) {
		out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{
				Objects: lo.Map(chunk, func(k string, _ int) types.ObjectIdentifier {
					return types.ObjectIdentifier{Key: aws.String(k)}
				}),
				Quiet: aws.Bool(true),
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: %w", errors.ErrClearFailed, errors.NewStorageError("delete", c.bucket, prefix, err))
		}

		deleted += len(chunk) - len(out.Errors)
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted, fmt.Errorf("%w: %w", errors.ErrClearFailed, errors.NewStorageError("delete", c.bucket,
				aws.ToString(first.Key), fmt.Errorf("%s: %s (%d keys failed)",
					aws.ToString(first.Code), aws.ToString(first.Message), len(out.Errors))))
		}
	}

	return deleted, nil
}

func (c *S3Client) Bucket() string {
	return c.bucket
}
