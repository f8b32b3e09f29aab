package fetcher

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
)

// S3Options configures the S3 fetcher. Credentials come from the default
// AWS chain.
type S3Options struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. for MinIO.
	Endpoint  string
	PathStyle bool
}

// S3Fetcher downloads s3://bucket/key objects. The client is built on first
// use so that configuring it costs nothing when no S3 target is loaded.
type S3Fetcher struct {
	opts S3Options

	once   sync.Once
	client *s3.Client
	err    error
}

// NewS3Fetcher creates an S3Fetcher with the given options.
func NewS3Fetcher(opts S3Options) *S3Fetcher {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	return &S3Fetcher{opts: opts}
}

// newS3FetcherWithClient wraps an existing client.
func newS3FetcherWithClient(c *s3.Client) *S3Fetcher {
	f := &S3Fetcher{client: c}
	f.once.Do(func() {})
	return f
}

func (f *S3Fetcher) getClient(ctx context.Context) (*s3.Client, error) {
	f.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.opts.Region))
		if err != nil {
			f.err = eris.Wrap(err, "s3: load aws config")
			return
		}
		f.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = f.opts.PathStyle
			if f.opts.Endpoint != "" {
				o.BaseEndpoint = aws.String(f.opts.Endpoint)
			}
		})
	})
	return f.client, f.err
}

// parseS3URL splits s3://bucket/key.
func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse s3 url")
	}
	if u.Scheme != "s3" {
		return "", "", eris.Errorf("expected s3 scheme, got %q", u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", eris.Errorf("s3 url needs bucket and key: %s", rawURL)
	}
	return u.Host, key, nil
}

// Download fetches the object and returns its body.
func (f *S3Fetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, eris.Wrapf(err, "s3: get %s/%s", bucket, key)
	}
	return out.Body, nil
}

// DownloadToFile fetches the object and writes it to path.
func (f *S3Fetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return writeFile(path, body)
}
