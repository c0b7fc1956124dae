package storage

import (
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/oops"
)

// S3Config selects the bucket instances are uploaded to.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the service endpoint, for S3 compatible stores.
	Endpoint     string
	UsePathStyle bool
}

// S3Sink uploads instances to an S3 bucket.
type S3Sink struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Sink loads the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, oops.In("storage").Errorf("s3 bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, oops.In("storage").Wrapf(err, "failed to load AWS configuration")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Sink{
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Sink) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	objectKey := path.Join(s.prefix, key)
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        r,
		ContentType: aws.String("application/dicom"),
	})
	if err != nil {
		return "", oops.In("storage").With("bucket", s.bucket, "key", objectKey).Wrapf(err, "failed to upload instance")
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}
