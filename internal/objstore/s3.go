package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the S3 backend.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// S3Store serves s3:// URIs through the MinIO SDK.
type S3Store struct {
	client *minio.Client
}

// NewS3Store creates an S3 client. Without static keys it falls back to the
// AWS environment and instance-role credential chain.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	useSSL := cfg.UseSSL
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.IAM{},
	})
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3Store{client: client}, nil
}

func (s *S3Store) List(ctx context.Context, prefixURI string) ([]string, error) {
	loc, err := Parse(prefixURI)
	if err != nil {
		return nil, err
	}
	var uris []string
	for obj := range s.client.ListObjects(ctx, loc.Bucket, minio.ListObjectsOptions{Prefix: loc.Key, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", loc.Bucket, loc.Key, obj.Err)
		}
		uris = append(uris, Location{Scheme: SchemeS3, Bucket: loc.Bucket, Key: obj.Key}.String())
	}
	return uris, nil
}

func (s *S3Store) Get(ctx context.Context, uri string) ([]byte, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, uri string, data []byte) error {
	loc, err := Parse(uri)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, loc.Bucket, loc.Key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", uri, err)
	}
	return nil
}
