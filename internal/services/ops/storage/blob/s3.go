package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
)

// S3Config holds the parameters of an S3-compatible backend (AWS S3 or MinIO).
// Credentials fall back to the default AWS chain when the keys are blank.
type S3Config struct {
	Bucket          string `env:"FREIGHTDESK_BLOB_S3_BUCKET"`
	Region          string `env:"FREIGHTDESK_BLOB_S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"FREIGHTDESK_BLOB_S3_ENDPOINT"`
	PathStyle       bool   `env:"FREIGHTDESK_BLOB_S3_PATH_STYLE"`
	AccessKeyID     string `env:"FREIGHTDESK_BLOB_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"FREIGHTDESK_BLOB_S3_SECRET_ACCESS_KEY"`
}

// S3Option adjusts the S3 client.
type S3Option func(*s3.Options)

// WithHTTPClient routes S3 requests through client.
func WithHTTPClient(client *http.Client) S3Option {
	return func(o *s3.Options) { o.HTTPClient = client }
}

// S3 implements Store on a single bucket. Keys map to object keys directly.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 creates an S3 blob store from cfg.
func NewS3(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		// Checksums only when an operation requires them; no aws-chunked trailers.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, opt := range opts {
			if opt != nil {
				opt(o)
			}
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Driver reports DriverS3.
func (s *S3) Driver() Driver { return DriverS3 }

// Put uploads data under key.
func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (Info, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Info{}, apperrors.Wrap(apperrors.CodePersistence, "upload document", err)
	}
	return Info{Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: time.Now().UTC()}, nil
}

// Get downloads the object under key. The caller closes the body.
func (s *S3) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return Info{}, nil, ErrNotFound
		}
		return Info{}, nil, apperrors.Wrap(apperrors.CodePersistence, "download document", err)
	}
	info := Info{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}
	return info, out.Body, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	default:
		return false
	}
}
