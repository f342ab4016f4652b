package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"groupdrive/internal/domain"
)

// Client бакет S3-совместимого хранилища для архива корзины
type Client struct {
	api    *s3.Client
	bucket string
}

// NewClient создаёт клиента и проверяет, что бакет доступен.
// Для собственного endpoint (MinIO, Yandex) включается path-style адресация.
func NewClient(ctx context.Context, conf *Config) (*Client, error) {
	if conf == nil {
		return nil, errors.New("archive configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	opts := s3.Options{
		Region: conf.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.SecretAccessKey, ""),
		),
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	}
	if conf.Endpoint != "" {
		opts.BaseEndpoint = aws.String(conf.Endpoint)
		opts.UsePathStyle = true
	}
	c := &Client{api: s3.New(opts), bucket: conf.Bucket}

	headCtx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	if _, err := c.api.HeadBucket(headCtx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", c.bucket, err)
	}
	return c, nil
}

// Put загружает объект целиком
func (c *Client) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if key == "" {
		return fmt.Errorf("%w: object key is required", domain.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Get открывает объект. Отсутствующий ключ даёт ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (*Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: archived object %s", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return &Object{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
		Body:        out.Body,
	}, nil
}

// Delete удаляет объект; S3 не считает отсутствие ключа ошибкой
func (c *Client) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: object key is required", domain.ErrInvalidArgument)
	}
	if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
