package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/covid-loader/internal/loader"
)

// OpenOptions configures Open. Nil fetchers get defaults.
type OpenOptions struct {
	TempDir string
	HTTP    Fetcher
	FTP     Fetcher
	S3      Fetcher
}

// IsRemote reports whether target is a URL Open would download.
func IsRemote(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp", "s3":
		return true
	}
	return false
}

// Supported reports whether the file name has an extension Open can read.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx", ".zip":
		return true
	}
	return false
}

// Open resolves a local path or a URL into named inputs. Remote targets are
// downloaded into a temporary directory first. The returned cleanup closes
// the sources and removes temporary files; it is safe to call once, also
// after an error.
func Open(ctx context.Context, target string, opts OpenOptions) ([]loader.Input, func(), error) {
	o := &opener{opts: opts, log: zap.L().With(zap.String("component", "fetcher"))}

	inputs, err := o.open(ctx, target)
	if err != nil {
		o.cleanup()
		return nil, func() {}, err
	}
	return inputs, o.cleanup, nil
}

type opener struct {
	opts    OpenOptions
	log     *zap.Logger
	closers []io.Closer
	dirs    []string
}

func (o *opener) cleanup() {
	for _, c := range o.closers {
		_ = c.Close()
	}
	for _, d := range o.dirs {
		if err := os.RemoveAll(d); err != nil {
			o.log.Warn("remove temp dir", zap.String("dir", d), zap.Error(err))
		}
	}
	o.closers, o.dirs = nil, nil
}

func (o *opener) tempDir() (string, error) {
	if o.opts.TempDir != "" {
		if err := os.MkdirAll(o.opts.TempDir, 0o755); err != nil {
			return "", eris.Wrap(err, "fetcher: create temp root")
		}
	}
	dir, err := os.MkdirTemp(o.opts.TempDir, "covid-loader-*")
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create temp dir")
	}
	o.dirs = append(o.dirs, dir)
	return dir, nil
}

func (o *opener) open(ctx context.Context, target string) ([]loader.Input, error) {
	if !IsRemote(target) {
		return o.openLocal(target, target)
	}

	u, _ := url.Parse(target)
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return nil, eris.Errorf("fetcher: no file name in %s", target)
	}
	if !Supported(base) {
		return nil, eris.Errorf("fetcher: unsupported file type %q", base)
	}

	dir, err := o.tempDir()
	if err != nil {
		return nil, err
	}
	local := filepath.Join(dir, base)

	f := o.fetcherFor(u.Scheme)

	n, err := f.DownloadToFile(ctx, target, local)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: download %s", target)
	}
	o.log.Info("downloaded extract", zap.String("url", target), zap.Int64("bytes", n))

	return o.openLocal(local, target)
}

func (o *opener) fetcherFor(scheme string) Fetcher {
	switch scheme {
	case "ftp":
		if o.opts.FTP != nil {
			return o.opts.FTP
		}
		return NewFTPFetcher(FTPOptions{})
	case "s3":
		if o.opts.S3 != nil {
			return o.opts.S3
		}
		return NewS3Fetcher(S3Options{})
	default:
		if o.opts.HTTP != nil {
			return o.opts.HTTP
		}
		return NewHTTPFetcher(HTTPOptions{})
	}
}

// openLocal opens the file at p. CSV inputs are named name; sheets and zip
// members derive their own names.
func (o *opener) openLocal(p, name string) ([]loader.Input, error) {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		src, err := OpenCSV(p)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, src)
		return []loader.Input{{Name: name, Source: src}}, nil
	case ".xlsx":
		return XLSXSources(p)
	case ".zip":
		return o.openZIP(p)
	default:
		return nil, eris.Errorf("fetcher: unsupported file type %q", filepath.Base(p))
	}
}

// openZIP extracts the archive and opens its CSV and XLSX members in archive
// order. Other members are ignored.
func (o *opener) openZIP(p string) ([]loader.Input, error) {
	dir, err := o.tempDir()
	if err != nil {
		return nil, err
	}
	members, err := ExtractZIP(p, dir)
	if err != nil {
		return nil, err
	}

	var out []loader.Input
	for _, m := range members {
		rel, err := filepath.Rel(dir, m)
		if err != nil {
			return nil, eris.Wrap(err, "zip: member path")
		}
		switch strings.ToLower(filepath.Ext(m)) {
		case ".csv", ".xlsx":
			in, err := o.openLocal(m, filepath.ToSlash(rel))
			if err != nil {
				return nil, err
			}
			out = append(out, in...)
		default:
			o.log.Debug("zip member ignored", zap.String("member", rel))
		}
	}
	if len(out) == 0 {
		return nil, eris.Errorf("zip: %s has no csv or xlsx members", filepath.Base(p))
	}
	return out, nil
}
