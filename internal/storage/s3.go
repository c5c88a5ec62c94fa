package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/littlehero/api/internal/config"
)

// NewS3Client builds an S3 client for the configured provider. R2 derives
// its endpoint from the account id; S3 uses Endpoint when set (MinIO,
// localstack) and the AWS resolver otherwise.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("storage configuration incomplete: bucket name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	region := cfg.Region
	endpoint := cfg.Endpoint
	usePathStyle := cfg.UsePathStyle

	switch cfg.Provider {
	case "r2":
		if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("R2 configuration incomplete")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
		region = "auto"
	case "s3", "":
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}

	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	}), nil
}

// New connects a Gateway to the configured bucket.
func New(ctx context.Context, cfg config.StorageConfig) (*Gateway, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw := NewGateway(client, s3.NewPresignClient(client), cfg.BucketName)
	if !SupportsTagging(cfg.Provider) {
		gw.WithoutTagging()
	}
	return gw, nil
}

// SupportsTagging reports whether provider implements object tagging and
// tag-filtered lifecycle rules. R2 implements neither.
func SupportsTagging(provider string) bool {
	return provider != "r2"
}
