package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options mirrors the key/value settings of an S3 style secret.
type S3Options struct {
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	KeyID         string `yaml:"key_id"`
	Secret        string `yaml:"secret"`
	SessionToken  string `yaml:"session_token"`
	URLStyle      string `yaml:"url_style"`
	UseSSL        *bool  `yaml:"use_ssl"`
	SkipSignature bool   `yaml:"skip_signature"` // unsigned requests, for public buckets
}

// endpointURL normalises the configured endpoint: default AWS endpoints are
// left to the SDK, bare hosts get a scheme.
func (o S3Options) endpointURL(scheme string) string {
	endpoint := o.Endpoint
	if endpoint == "" || endpoint == "s3.amazonaws.com" {
		if scheme == "gs" || scheme == "gcs" {
			return "https://storage.googleapis.com"
		}
		return ""
	}
	if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
		if o.UseSSL == nil || *o.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return endpoint
}

// NewS3Client builds a client from static keys when configured, anonymous
// access when SkipSignature is set, and the default credential chain otherwise.
func NewS3Client(ctx context.Context, opts S3Options, scheme string) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	switch {
	case opts.KeyID != "" || opts.Secret != "":
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.KeyID, opts.Secret, opts.SessionToken)))
	case opts.SkipSignature:
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	endpoint := opts.endpointURL(scheme)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = opts.URLStyle == "path"
	}), nil
}

type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Storage(client *s3.Client, bucket, prefix string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Storage) key(filepath string) string {
	return strings.TrimPrefix(path.Join(s.prefix, filepath), "/")
}

func (s *S3Storage) Write(ctx context.Context, filepath string, data io.Reader) error {
	fullPath := s.key(filepath)

	// Convert io.Reader to []byte for PutObject
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, data); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullPath),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("putting object: %w", err)
	}

	return nil
}

func (s *S3Storage) Read(ctx context.Context, filepath string) (io.ReadCloser, error) {
	fullPath := s.key(filepath)

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullPath),
	})
	if err != nil {
		return nil, wrapS3Error("getting object", fullPath, err)
	}

	return output.Body, nil
}

func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	if strings.HasSuffix(prefix, "/") {
		fullPrefix += "/"
	}
	var files []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}

		for _, obj := range page.Contents {
			files = append(files, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix+"/"))
		}
	}

	sort.Strings(files)
	return files, nil
}

func (s *S3Storage) Open(ctx context.Context, filepath string) (File, error) {
	fullPath := s.key(filepath)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullPath),
	})
	if err != nil {
		return nil, wrapS3Error("heading object", fullPath, err)
	}

	return &s3File{
		ctx:    ctx,
		client: s.client,
		bucket: s.bucket,
		key:    fullPath,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

func wrapS3Error(op, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

// s3File serves ReadAt with ranged GETs.
type s3File struct {
	ctx    context.Context
	client *s3.Client
	bucket string
	key    string
	size   int64
}

func (f *s3File) Size() int64  { return f.size }
func (f *s3File) Close() error { return nil }

func (f *s3File) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p)) - 1
	if end >= f.size {
		end = f.size - 1
	}

	output, err := f.client.GetObject(f.ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("getting range of %s: %w", f.key, err)
	}
	defer output.Body.Close()

	n, err := io.ReadFull(output.Body, p[:end-off+1])
	if err != nil {
		return n, fmt.Errorf("reading range of %s: %w", f.key, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
