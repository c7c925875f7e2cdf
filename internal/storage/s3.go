package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config はS3互換ストレージの接続設定。
// EndpointはMinIO等のセルフホスト型ストレージ向けで、空の場合はAWS標準解決に従う。
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Backend はS3互換ストレージに対するObjectStorage実装。
type S3Backend struct {
	config S3Config
}

// NewS3Backend はS3Backendを生成する。
func NewS3Backend(config S3Config) *S3Backend {
	return &S3Backend{config: config}
}

// SignedGetURL はオブジェクト取得用の署名付きURLを発行する。
func (b *S3Backend) SignedGetURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	client, err := b.presignClient(ctx)
	if err != nil {
		return "", err
	}

	req, err := client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign GET for %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// SignedPutURL はオブジェクトアップロード用の署名付きURLを発行する。
func (b *S3Backend) SignedPutURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	client, err := b.presignClient(ctx)
	if err != nil {
		return "", err
	}

	req, err := client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign PUT for %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

func (b *S3Backend) presignClient(ctx context.Context) (*s3.PresignClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(b.config.Region),
	}
	if b.config.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.config.AccessKey, b.config.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if b.config.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.config.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3.NewPresignClient(client), nil
}
