package storage

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/gophdrop/internal/server/config"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

// LoadAWSConfig resolves an aws.Config with the static credentials and
// region from cfg. Shared by every AWS client of the server.
func LoadAWSConfig(ctx context.Context, cfg *sc.Config) (aws.Config, error) {
	return loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,     // MINIO_ROOT_USER
			cfg.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
}

// NewFromConfig builds an S3Gateway from server configuration. A custom base
// endpoint (MinIO, LocalStack) is honoured, with optional path-style
// addressing.
func NewFromConfig(ctx context.Context, cfg *sc.Config, log logging.Logger) (*S3Gateway, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})

	base := cfg.PublicBaseURL
	if base == "" && cfg.S3BaseEndpoint != "" && cfg.S3UsePathStyle {
		base = strings.TrimRight(cfg.S3BaseEndpoint, "/") + "/" + cfg.S3Bucket
	}

	return NewS3Gateway(client, newS3PresignClient(client), Options{
		Bucket:        cfg.S3Bucket,
		KeyPrefix:     cfg.S3KeyPrefix,
		PartURLTTL:    cfg.PartURLTTL,
		PublicBaseURL: base,
	}, log), nil
}
