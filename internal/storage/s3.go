package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yairfalse/permitwatch/pkg/types"
)

// s3API is the subset of the S3 client used by S3Store
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the document in an S3 object. The endpoint query parameter
// points it at S3-compatible services such as R2 or MinIO.
type S3Store struct {
	client s3API
	bucket string
	key    string
}

// NewS3Store creates a store for s3://bucket/key?region=&endpoint=
func NewS3Store(ctx context.Context, loc Location) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := loc.Query.Get("region"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	// static keys for S3-compatible endpoints; otherwise the default chain
	accessKey := os.Getenv("PERMITWATCH_S3_ACCESS_KEY")
	secretKey := os.Getenv("PERMITWATCH_S3_SECRET_KEY")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := loc.Query.Get("endpoint")
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: loc.Host, key: loc.Path}, nil
}

func (s *S3Store) Load(ctx context.Context) (types.Store, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", s.Location(), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Location(), err)
	}
	return decodeStore(data)
}

func (s *S3Store) Save(ctx context.Context, store types.Store) error {
	data, err := encodeStore(store)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.Location(), err)
	}
	return nil
}

func (s *S3Store) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *S3Store) Close() error {
	return nil
}
