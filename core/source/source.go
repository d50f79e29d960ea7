// Package source reads startup documents, the domain model description and
// the base API description, from the local filesystem or from AWS S3.
package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/itemsvc/core/logger"
)

// S3API is the part of the S3 client the reader needs
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Reader reads documents by location. Locations are either local paths or
// s3://bucket/key URIs.
type Reader struct {
	// Region is the AWS region used for s3 locations. Empty uses the default chain.
	Region string

	s3Client S3API
}

// WithS3Client returns a reader which uses client for s3 locations
func (r Reader) WithS3Client(client S3API) Reader {
	r.s3Client = client
	return r
}

// Read returns the content of the document at location
func (r Reader) Read(ctx context.Context, location string) ([]byte, error) {
	if bucket, key, ok := ParseS3(location); ok {
		return r.readS3(ctx, bucket, key)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return data, nil
}

// ParseS3 splits an s3://bucket/key location. ok is false for anything else.
func ParseS3(location string) (bucket string, key string, ok bool) {
	if !strings.HasPrefix(location, "s3://") {
		return "", "", false
	}
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}
	return u.Host, key, true
}

func (r Reader) client(ctx context.Context) (S3API, error) {
	if r.s3Client != nil {
		return r.s3Client, nil
	}
	var opts []func(*config.LoadOptions) error
	if r.Region != "" {
		opts = append(opts, config.WithRegion(r.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (r Reader) readS3(ctx context.Context, bucket, key string) ([]byte, error) {
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debugf("reading s3://%s/%s", bucket, key)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
