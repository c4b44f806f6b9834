package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Options configures an S3 compatible bucket used as a content store.
type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	UsePathStyle bool
	// PublicURL is the base URL objects are served from. Defaults to the virtual hosted bucket URL.
	PublicURL string
}

// S3Backend stores objects in a bucket. Version tokens are ETags, enforced with If-Match/If-None-Match.
type S3Backend struct {
	client *s3.Client
	opts   S3Options
}

// NewS3Backend loads the default AWS credential chain and builds a client for opts.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewS3BackendFromConfig(awsCfg, opts), nil
}

// NewS3BackendFromConfig builds a backend from an already resolved aws config.
func NewS3BackendFromConfig(awsCfg aws.Config, opts S3Options) *S3Backend {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.PublicURL == "" {
		opts.PublicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &S3Backend{client: client, opts: opts}
}

func (s *S3Backend) Name() string { return "s3" }

func (s *S3Backend) key(p string) string {
	return strings.Trim(path.Join(s.opts.Prefix, clean(p)), "/")
}

func (s *S3Backend) logicalPath(key string) string {
	if s.opts.Prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.opts.Prefix+"/")
}

// mapError folds S3 responses into the remote taxonomy.
func (s *S3Backend) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusPreconditionFailed, http.StatusConflict:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *S3Backend) Stat(ctx context.Context, p string) (Object, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return Object{}, s.mapError(err)
	}
	logical := clean(p)
	return Object{
		Path:    logical,
		Version: aws.ToString(out.ETag),
		Size:    aws.ToInt64(out.ContentLength),
		URL:     s.PublicURL(logical),
	}, nil
}

func (s *S3Backend) Get(ctx context.Context, p string) ([]byte, Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return nil, Object{}, s.mapError(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Object{}, fmt.Errorf("%w: failed to read object body: %v", ErrUnavailable, err)
	}
	logical := clean(p)
	return data, Object{Path: logical, Version: aws.ToString(out.ETag), Size: int64(len(data)), URL: s.PublicURL(logical)}, nil
}

func (s *S3Backend) Put(ctx context.Context, p string, data []byte, expected string) (Object, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(s.key(p)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(p)),
	}
	if expected == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(expected)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return Object{}, s.mapError(err)
	}
	logical := clean(p)
	return Object{Path: logical, Version: aws.ToString(out.ETag), Size: int64(len(data)), URL: s.PublicURL(logical)}, nil
}

// Remove deletes the key. S3 deletes are idempotent, so existence is checked first to report [ErrNotFound].
func (s *S3Backend) Remove(ctx context.Context, p string, expected string) error {
	obj, err := s.Stat(ctx, p)
	if err != nil {
		return err
	}
	if expected != "" && obj.Version != expected {
		return fmt.Errorf("%w: %s is at %s, not %s", ErrConflict, p, obj.Version, expected)
	}

	in := &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(p)),
	}
	if expected != "" {
		in.IfMatch = aws.String(expected)
	}
	_, err = s.client.DeleteObject(ctx, in)
	return s.mapError(err)
}

func (s *S3Backend) ReadDir(ctx context.Context, prefix string) ([]Entry, error) {
	keyPrefix := s.key(prefix)
	if keyPrefix != "" {
		keyPrefix += "/"
	}

	var entries []Entry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.opts.Bucket),
		Prefix:    aws.String(keyPrefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.mapError(err)
		}
		for _, cp := range page.CommonPrefixes {
			dir := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			entries = append(entries, Entry{Path: s.logicalPath(dir), Dir: true})
		}
		for _, obj := range page.Contents {
			p := s.logicalPath(aws.ToString(obj.Key))
			entries = append(entries, Entry{Path: p, Size: aws.ToInt64(obj.Size), URL: s.PublicURL(p)})
		}
	}

	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

// TotalSize sums every object under the prefix.
func (s *S3Backend) TotalSize(ctx context.Context) (int64, error) {
	var prefix *string
	if s.opts.Prefix != "" {
		prefix = aws.String(s.opts.Prefix + "/")
	}

	var total int64
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.Bucket),
		Prefix: prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, s.mapError(err)
		}
		for _, obj := range page.Contents {
			total += aws.ToInt64(obj.Size)
		}
	}
	return total, nil
}

func (s *S3Backend) PublicURL(p string) string {
	return s.opts.PublicURL + "/" + escapePath(s.key(p))
}

func contentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
