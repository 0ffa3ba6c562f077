package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"

	"github.com/mediaforge-io/mediaforge/internal/config"
)

// S3Store talks to any S3-compatible endpoint.
type S3Store struct {
	client *s3.S3
	bucket string
	logger zerolog.Logger
}

// NewS3Store builds an S3 store from config. Static credentials are
// optional; without them the default AWS credential chain applies.
func NewS3Store(cfg config.S3Config, logger zerolog.Logger) (*S3Store, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, storageErr("init", err)
	}

	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("endpoint", cfg.Endpoint).
		Msg("connected to object store")

	return &S3Store{client: s3.New(sess), bucket: cfg.Bucket, logger: logger}, nil
}

// Put uploads the object; S3 PUT is an atomic replace.
func (s *S3Store) Put(ctx context.Context, path string, body io.Reader, contentType string, metadata map[string]string) (PutResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return PutResult{}, storageErr("put", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if len(metadata) > 0 {
		input.Metadata = make(map[string]*string, len(metadata))
		for k, v := range metadata {
			input.Metadata[k] = aws.String(v)
		}
	}

	out, err := s.client.PutObjectWithContext(ctx, input)
	if err != nil {
		return PutResult{}, storageErr("put", err)
	}
	return PutResult{ETag: aws.StringValue(out.ETag)}, nil
}

// Get downloads the object bytes and content type.
func (s *S3Store) Get(ctx context.Context, path string) ([]byte, string, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", storageErr("get", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", storageErr("get", err)
	}
	return data, aws.StringValue(out.ContentType), nil
}

// Delete removes the object; S3 DELETE on a missing key succeeds.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return storageErr("delete", err)
	}
	return nil
}

// Head returns object metadata without the body.
func (s *S3Store) Head(ctx context.Context, path string) (ObjectInfo, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, storageErr("head", err)
	}

	info := ObjectInfo{
		Path:         path,
		SizeBytes:    aws.Int64Value(out.ContentLength),
		ContentType:  aws.StringValue(out.ContentType),
		ETag:         aws.StringValue(out.ETag),
		LastModified: aws.TimeValue(out.LastModified),
	}
	if len(out.Metadata) > 0 {
		info.UserMetadata = make(map[string]string, len(out.Metadata))
		for k, v := range out.Metadata {
			info.UserMetadata[k] = aws.StringValue(v)
		}
	}
	return info, nil
}

// PresignGet issues a time-limited download URL.
func (s *S3Store) PresignGet(ctx context.Context, path string, ttl time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	req.SetContext(ctx)
	url, err := req.Presign(ttl)
	if err != nil {
		return "", storageErr("presign", err)
	}
	return url, nil
}

// PresignPut issues a time-limited upload URL bound to a content type.
func (s *S3Store) PresignPut(ctx context.Context, path string, ttl time.Duration, contentType string) (string, error) {
	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		ContentType: aws.String(contentType),
	})
	req.SetContext(ctx)
	url, err := req.Presign(ttl)
	if err != nil {
		return "", storageErr("presign", err)
	}
	return url, nil
}

func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
