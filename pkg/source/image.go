package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/isoflash/isoflash/pkg/storage"
)

// Format tags how an image must be treated before writing.
type Format string

const (
	FormatRaw        Format = "raw-image"
	FormatCompressed Format = "compressed-disk-image"
)

var rawExtensions = map[string]bool{
	".iso": true,
	".img": true,
	".raw": true,
}

// FormatOf derives the format tag from the file extension.
func FormatOf(path string) Format {
	if rawExtensions[strings.ToLower(filepath.Ext(path))] {
		return FormatRaw
	}
	return FormatCompressed
}

// Image is a located source image. It is immutable once resolved.
type Image struct {
	Path   string
	Size   int64
	Format Format
	FSType string
	Label  string
	SHA256 string
	Remote string
}

// Downloader fetches a remote object to a local path.
type Downloader interface {
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key, localPath string) (*storage.DownloadResult, error)
}

// DownloaderFactory returns a Downloader for bucket.
type DownloaderFactory func(ctx context.Context, bucket string) (Downloader, error)

type Resolver struct {
	workDir    string
	downloader DownloaderFactory
}

func NewResolver(workDir string, downloader DownloaderFactory) *Resolver {
	return &Resolver{workDir: workDir, downloader: downloader}
}

// S3Downloaders creates anonymous storage clients.
func S3Downloaders(opts storage.Options) DownloaderFactory {
	return func(ctx context.Context, bucket string) (Downloader, error) {
		return storage.NewClient(ctx, bucket, opts)
	}
}

// Resolve locates ref, downloading s3:// references into the work directory.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Image, error) {
	if storage.IsURL(ref) {
		return r.download(ctx, ref)
	}
	return Stat(ref)
}

func (r *Resolver) download(ctx context.Context, ref string) (*Image, error) {
	bucket, key, err := storage.ParseURL(ref)
	if err != nil {
		return nil, err
	}
	if r.downloader == nil {
		return nil, fmt.Errorf("remote images are not configured: %s", ref)
	}
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create work directory")
	}

	client, err := r.downloader(ctx, bucket)
	if err != nil {
		return nil, err
	}
	found, err := client.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("remote image not found: %s", ref)
	}

	local := filepath.Join(r.workDir, "download-"+filepath.Base(key))
	result, err := client.Download(ctx, key, local)
	if err != nil {
		return nil, err
	}

	img, err := Stat(result.LocalPath)
	if err != nil {
		return nil, err
	}
	img.SHA256 = result.SHA256
	img.Remote = ref
	return img, nil
}

// Stat describes a local image file.
func Stat(path string) (*Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve image path")
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(err, "source image not found")
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source image %s is a directory", abs)
	}

	img := &Image{Path: abs, Size: info.Size(), Format: FormatOf(abs)}
	img.FSType, img.Label = Probe(abs)

	slog.Info("source_resolved", "path", abs, "size", img.Size, "format", img.Format, "fs_type", img.FSType, "label", img.Label)
	return img, nil
}
