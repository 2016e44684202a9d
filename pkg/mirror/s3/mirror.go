package s3

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/gnssops/rinextank/pkg/mirror"
)

// Mirror implements mirror.Provider over S3.
type Mirror struct {
	client  *awss3.Client
	bucket  string
	maxKeys int
}

var _ mirror.Provider = (*Mirror)(nil)

// New builds an S3 mirror from cfg, loading AWS configuration through the
// default chain with the overrides cfg specifies.
func New(ctx context.Context, cfg Config) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &mirror.Error{Op: "New", Mirror: mirror.S3, Bucket: cfg.Bucket, Err: err}
	}

	clientOpts := []func(*awss3.Options){
		func(o *awss3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		},
	}

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Mirror{
		client:  awss3.NewFromConfig(awsCfg, clientOpts...),
		bucket:  cfg.Bucket,
		maxKeys: maxKeys,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Default the region only for real AWS; compatible stores key off the
	// endpoint and may not want one.
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultRegion
	}

	return awsCfg, nil
}

// List returns one page of keys under the prefix.
func (m *Mirror) List(ctx context.Context, opts mirror.ListOptions) (*mirror.ListResult, error) {
	pageSize := opts.MaxKeys
	if pageSize <= 0 {
		pageSize = m.maxKeys
	}
	if pageSize > MaxAllowedKeys {
		pageSize = MaxAllowedKeys
	}

	input := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(m.bucket),
		MaxKeys: aws.Int32(int32(pageSize)),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := m.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, m.wrapError("List", "", err)
	}

	objects := make([]mirror.ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		objects = append(objects, mirror.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	result := &mirror.ListResult{
		Objects:     objects,
		IsTruncated: aws.ToBool(out.IsTruncated),
	}
	if out.NextContinuationToken != nil {
		result.ContinuationToken = *out.NextContinuationToken
	}
	return result, nil
}

// Head returns metadata for one key.
func (m *Mirror) Head(ctx context.Context, key string) (*mirror.ObjectInfo, error) {
	out, err := m.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, m.wrapError("Head", key, err)
	}

	return &mirror.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Close satisfies mirror.Provider; the S3 client needs no cleanup.
func (m *Mirror) Close() error {
	return nil
}

// wrapError maps SDK failures onto the mirror sentinel errors.
func (m *Mirror) wrapError(op, key string, err error) error {
	wrapped := &mirror.Error{Op: op, Mirror: mirror.S3, Bucket: m.bucket, Key: key, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = mirror.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = mirror.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = mirror.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = mirror.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = mirror.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = mirror.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = mirror.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = mirror.ErrUnavailable
		}
		return wrapped
	}

	// Some S3-compatible stores return bare HTTP errors.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404"):
		wrapped.Err = mirror.ErrNotFound
	case strings.Contains(msg, "403"):
		wrapped.Err = mirror.ErrAccessDenied
	case strings.Contains(msg, "429"):
		wrapped.Err = mirror.ErrThrottled
	case strings.Contains(msg, "503"):
		wrapped.Err = mirror.ErrUnavailable
	}
	return wrapped
}
