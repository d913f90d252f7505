/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package s3 keeps checkpoints and results in an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/llm-d-incubation/batch-dispatcher/internal/files_store/api"
)

const (
	DefaultTimeout = 30 * time.Second

	contentTypeJSON = "application/json"
	// returned by S3 when an If-None-Match: * write finds an existing object
	codePreconditionFailed = "PreconditionFailed"
)

var (
	ErrFileTooLarge = errors.New("file size exceeds limit")
	ErrFileExists   = errors.New("file already exists")
)

type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type uploaderAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Client stores checkpoints with conditional single PUTs, so a record is never overwritten,
// and streams the results document through the multipart uploader.
type Client struct {
	s3Client       s3API
	uploader       uploaderAPI
	bucket         string
	prefix         string
	defaultTimeout time.Duration
}

var _ api.FilesClient = (*Client)(nil)

type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // for MinIO and other compatible stores
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket cannot be empty")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Client{
		s3Client:       s3Client,
		uploader:       manager.NewUploader(s3Client),
		bucket:         cfg.Bucket,
		prefix:         strings.Trim(cfg.Prefix, "/"),
		defaultTimeout: DefaultTimeout,
	}, nil
}

func (c *Client) SetDefaultTimeout(timeout time.Duration) {
	c.defaultTimeout = timeout
}

func (c *Client) resolveKey(location string) string {
	if c.prefix == "" {
		return location
	}
	return c.prefix + "/" + location
}

// location is the inverse of resolveKey.
func (c *Client) location(key string) string {
	if c.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, c.prefix+"/")
}

type limitedCountingReader struct {
	reader    io.Reader
	limit     int64
	bytesRead int64
}

func (r *limitedCountingReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytesRead += int64(n)
	if r.bytesRead > r.limit {
		return n, ErrFileTooLarge
	}
	return n, err
}

// Store creates the object only if the key is free. The body is buffered because a
// conditional write has to be a single PUT.
func (c *Client) Store(ctx context.Context, location string, fileSizeLimit int64, reader io.Reader) (
	*api.FileMetadata, error,
) {
	data, err := io.ReadAll(&limitedCountingReader{reader: reader, limit: fileSizeLimit})
	if err != nil {
		return nil, err
	}

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.resolveKey(location)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentTypeJSON),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == codePreconditionFailed {
			return nil, ErrFileExists
		}
		return nil, fmt.Errorf("failed to put object: %w", err)
	}
	return &api.FileMetadata{Location: location, Size: int64(len(data)), ModTime: time.Now()}, nil
}

// Replace overwrites the object. Readers see either the old or the new content.
func (c *Client) Replace(ctx context.Context, location string, fileSizeLimit int64, reader io.Reader) (
	*api.FileMetadata, error,
) {
	counting := &limitedCountingReader{reader: reader, limit: fileSizeLimit}
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.resolveKey(location)),
		Body:        counting,
		ContentType: aws.String(contentTypeJSON),
	})
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("failed to upload object: %w", err)
	}
	return &api.FileMetadata{Location: location, Size: counting.bytesRead, ModTime: time.Now()}, nil
}

func (c *Client) Retrieve(ctx context.Context, location string) (io.ReadCloser, *api.FileMetadata, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.resolveKey(location)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil, os.ErrNotExist
		}
		return nil, nil, fmt.Errorf("failed to get object: %w", err)
	}

	return out.Body, &api.FileMetadata{
		Location: location,
		Size:     aws.ToInt64(out.ContentLength),
		ModTime:  aws.ToTime(out.LastModified),
	}, nil
}

// List returns the objects whose key starts with prefix, sorted by location.
func (c *Client) List(ctx context.Context, prefix string) ([]api.FileMetadata, error) {
	var files []api.FileMetadata
	pages := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.resolveKey(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			files = append(files, api.FileMetadata{
				Location: c.location(aws.ToString(obj.Key)),
				Size:     aws.ToInt64(obj.Size),
				ModTime:  aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Location < files[j].Location })
	return files, nil
}

func (c *Client) GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc) {
	if timeLimit == 0 {
		timeLimit = c.defaultTimeout
	}
	return context.WithTimeout(parentCtx, timeLimit)
}

func (c *Client) Close() error {
	return nil
}
