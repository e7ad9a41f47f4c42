package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/isoflash/isoflash/pkg/storage"
)

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"ubuntu-24.04-desktop-amd64.iso": FormatRaw,
		"raspios.IMG":                    FormatRaw,
		"disk.raw":                       FormatRaw,
		"InstallMacOS.dmg":               FormatCompressed,
		"fedora.qcow2":                   FormatCompressed,
		"appliance.vmdk":                 FormatCompressed,
		"noextension":                    FormatCompressed,
	}
	for path, want := range tests {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestStatLocalImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.dmg")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	img, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if img.Size != 4096 || img.Format != FormatCompressed {
		t.Errorf("unexpected image %+v", img)
	}
	if img.FSType != "" {
		t.Errorf("expected no filesystem on zeroed blob, got %q", img.FSType)
	}
}

func TestStatRejectsMissingAndDirectories(t *testing.T) {
	dir := t.TempDir()
	if _, err := Stat(filepath.Join(dir, "missing.iso")); err == nil {
		t.Error("expected error for a missing image")
	}
	if _, err := Stat(dir); err == nil {
		t.Error("expected error for a directory")
	}
}

func TestProbeFat32Image(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stick.img")
	d, err := diskfs.Create(path, 64*1024*1024, diskfs.SectorSizeDefault)
	if err != nil {
		t.Fatalf("create disk: %v", err)
	}
	if _, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "ISOFLASH",
	}); err != nil {
		t.Fatalf("create filesystem: %v", err)
	}

	img, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if img.FSType != "fat32" {
		t.Errorf("expected fat32, got %q", img.FSType)
	}
	if img.Format != FormatRaw {
		t.Errorf("expected raw format, got %s", img.Format)
	}
}

func openFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skip("no /proc/self/fd on this platform")
	}
	return len(entries)
}

func TestImageInspectionReleasesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stick.img")
	d, err := diskfs.Create(path, 32*1024*1024, diskfs.SectorSizeDefault)
	if err != nil {
		t.Fatalf("create disk: %v", err)
	}
	if _, err := d.CreateFilesystem(disk.FilesystemSpec{Partition: 0, FSType: filesystem.TypeFat32}); err != nil {
		t.Fatalf("create filesystem: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	before := openFDs(t)
	for i := 0; i < 5; i++ {
		if fsType, _ := Probe(path); fsType != "fat32" {
			t.Fatalf("expected fat32, got %q", fsType)
		}
	}
	// Each leaked open would leave one descriptor behind.
	if after := openFDs(t); after-before >= 5 {
		t.Errorf("inspection leaked %d file descriptors", after-before)
	}
}

type fakeDownloader struct {
	payload    []byte
	err        error
	missing    bool
	downloaded bool
}

func (f *fakeDownloader) Exists(ctx context.Context, key string) (bool, error) {
	return !f.missing, nil
}

func (f *fakeDownloader) Download(ctx context.Context, key, localPath string) (*storage.DownloadResult, error) {
	f.downloaded = true
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(localPath, f.payload, 0o644); err != nil {
		return nil, err
	}
	return &storage.DownloadResult{LocalPath: localPath, SHA256: "abc123", Size: int64(len(f.payload))}, nil
}

func TestResolveRemoteImage(t *testing.T) {
	workDir := t.TempDir()
	var gotBucket string
	resolver := NewResolver(workDir, func(ctx context.Context, bucket string) (Downloader, error) {
		gotBucket = bucket
		return &fakeDownloader{payload: make([]byte, 2048)}, nil
	})

	img, err := resolver.Resolve(context.Background(), "s3://releases/24.04/ubuntu.iso")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotBucket != "releases" {
		t.Errorf("expected bucket releases, got %q", gotBucket)
	}
	if img.Path != filepath.Join(workDir, "download-ubuntu.iso") {
		t.Errorf("unexpected local path %s", img.Path)
	}
	if img.SHA256 != "abc123" || img.Remote != "s3://releases/24.04/ubuntu.iso" || img.Size != 2048 {
		t.Errorf("unexpected image %+v", img)
	}
}

func TestResolveRemoteFailure(t *testing.T) {
	boom := errors.New("access denied")
	resolver := NewResolver(t.TempDir(), func(ctx context.Context, bucket string) (Downloader, error) {
		return &fakeDownloader{err: boom}, nil
	})
	if _, err := resolver.Resolve(context.Background(), "s3://releases/x.iso"); !errors.Is(err, boom) {
		t.Fatalf("expected download error, got %v", err)
	}
}

func TestResolveRemoteMissingObject(t *testing.T) {
	fake := &fakeDownloader{missing: true}
	workDir := t.TempDir()
	resolver := NewResolver(workDir, func(ctx context.Context, bucket string) (Downloader, error) {
		return fake, nil
	})

	_, err := resolver.Resolve(context.Background(), "s3://releases/absent.iso")
	if err == nil || !strings.Contains(err.Error(), "remote image not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if fake.downloaded {
		t.Error("download must not start for a missing object")
	}
	if _, err := os.Stat(filepath.Join(workDir, "download-absent.iso")); !os.IsNotExist(err) {
		t.Errorf("no local file expected, stat err %v", err)
	}
}

func TestResolveRemoteWithoutDownloader(t *testing.T) {
	if _, err := NewResolver(t.TempDir(), nil).Resolve(context.Background(), "s3://b/k.iso"); err == nil {
		t.Fatal("expected error when remote images are not configured")
	}
}
