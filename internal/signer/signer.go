// Package signer issues short-lived presigned GET URLs for media objects.
// Works against AWS S3 or a MinIO endpoint via BaseEndpoint override.
package signer

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
)

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty for MinIO / custom S3
	AccessKey string
	SecretKey string
	TTL       time.Duration
}

// PresignAPI is the one s3.PresignClient method the signer calls.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Metrics is the slice of server metrics the signer touches.
type Metrics interface {
	IncSignedURLIssued()
}

type Signer struct {
	presign PresignAPI
	bucket  string
	ttl     time.Duration
	metrics Metrics
}

// New builds the AWS client stack once at startup.
func New(ctx context.Context, cfg Config, metrics Metrics) (*Signer, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperr.Internal(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(s3.NewPresignClient(client), cfg, metrics), nil
}

// NewWithClient wires an existing presign client; tests use this.
func NewWithClient(presign PresignAPI, cfg Config, metrics Metrics) *Signer {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{
		presign: presign,
		bucket:  cfg.Bucket,
		ttl:     ttl,
		metrics: metrics,
	}
}

// SignedGetURL resolves a storage key to a time-limited URL. An empty key
// means the content row has no media behind it.
func (s *Signer) SignedGetURL(ctx context.Context, storageKey string) (string, error) {
	if storageKey == "" {
		return "", apperr.New(apperr.CodeNotFound, "content has no media")
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", apperr.Internal(err, "presign get")
	}

	if s.metrics != nil {
		s.metrics.IncSignedURLIssued()
	}
	return req.URL, nil
}

func (s *Signer) TTL() time.Duration { return s.ttl }
