// Package fetcher turns local paths and remote URLs into record sources the
// loader can consume. CSV, XLSX and ZIP files are supported; remote files
// are downloaded over HTTP(S), FTP or S3 first.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote extracts.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
