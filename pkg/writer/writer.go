package writer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/isoflash/isoflash/pkg/diskutil"
	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/isoflash/isoflash/pkg/progress"
)

const (
	DefaultChunkSize = 1 << 20
	Phase            = "writing"
)

// Device is an open block device or image file.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// OpenFunc opens a device node with the given os.OpenFile flags.
type OpenFunc func(path string, flag int) (Device, error)

func OpenFile(path string, flag int) (Device, error) {
	return os.OpenFile(path, flag, 0)
}

type Writer struct {
	tool      diskutil.Tool
	open      OpenFunc
	chunkSize int
	reporter  progress.Reporter
}

type Option func(*Writer)

func WithOpenFunc(open OpenFunc) Option {
	return func(w *Writer) { w.open = open }
}

func WithChunkSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.chunkSize = n
		}
	}
}

func WithReporter(r progress.Reporter) Option {
	return func(w *Writer) {
		if r != nil {
			w.reporter = r
		}
	}
}

func New(tool diskutil.Tool, opts ...Option) *Writer {
	w := &Writer{
		tool:      tool,
		open:      OpenFile,
		chunkSize: DefaultChunkSize,
		reporter:  progress.Discard,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnsureUnmounted unmounts device and re-queries its mount state.
func (w *Writer) EnsureUnmounted(ctx context.Context, device string) error {
	if err := w.tool.Unmount(ctx, device); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &DeviceStateError{Device: device, Reason: "could not be unmounted", Err: err}
	}
	mounted, err := w.tool.Mounted(ctx, device)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &DeviceStateError{Device: device, Reason: "mount state unknown", Err: err}
	}
	if mounted {
		return &DeviceStateError{Device: device, Reason: "is still mounted"}
	}
	return nil
}

// Write streams imagePath onto device in fixed-size chunks and returns the
// number of bytes written. The device is unmounted and re-checked first.
func (w *Writer) Write(ctx context.Context, imagePath, device string) (int64, error) {
	if err := w.EnsureUnmounted(ctx, device); err != nil {
		return 0, err
	}

	src, err := os.Open(imagePath)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open image")
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "failed to stat image")
	}
	total := info.Size()

	path := w.tool.DevicePath(device)
	dst, err := w.open(path, os.O_WRONLY)
	if err != nil {
		return 0, &DeviceStateError{Device: device, Reason: "could not be opened for writing", Err: err}
	}
	defer dst.Close()

	slog.Info("write_start", "image", imagePath, "device", path, "bytes_total", total, "chunk_size", w.chunkSize)

	buf := make([]byte, w.chunkSize)
	var written int64
	for chunk := 1; ; chunk++ {
		if err := ctx.Err(); err != nil {
			slog.Warn("write_cancelled", "device", path, "bytes_written", written)
			return written, err
		}

		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			m, werr := dst.WriteAt(buf[:n], written)
			if werr == nil && m < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				slog.Error("write_failed", "device", path, "offset", written, "chunk", chunk, "error", werr)
				return written, &WriteFailure{Device: device, Offset: written, Chunk: chunk, Err: werr}
			}
			written += int64(n)
			w.reporter.Report(progress.Update{Phase: Phase, Done: written, Total: total, Advanced: int64(n)})
		}

		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return written, errors.Wrap(rerr, "failed to read image")
		}
	}

	if err := dst.Sync(); err != nil {
		return written, &WriteFailure{Device: device, Offset: written, Err: errors.Wrap(err, "sync")}
	}

	slog.Info("write_complete", "device", path, "bytes_written", written)
	return written, nil
}

// VerifyPrefix compares the first n bytes of device with imagePath.
func (w *Writer) VerifyPrefix(ctx context.Context, imagePath, device string, n int64) error {
	src, err := os.Open(imagePath)
	if err != nil {
		return errors.Wrap(err, "failed to open image")
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat image")
	}
	if n <= 0 || n > info.Size() {
		n = info.Size()
	}

	path := w.tool.DevicePath(device)
	dev, err := w.open(path, os.O_RDONLY)
	if err != nil {
		return &DeviceStateError{Device: device, Reason: "could not be opened for reading", Err: err}
	}
	defer dev.Close()

	want := make([]byte, w.chunkSize)
	got := make([]byte, w.chunkSize)
	for off := int64(0); off < n; {
		if err := ctx.Err(); err != nil {
			return err
		}
		size := int64(len(want))
		if n-off < size {
			size = n - off
		}
		if _, err := src.ReadAt(want[:size], off); err != nil {
			return errors.Wrap(err, "failed to read image")
		}
		if _, err := dev.ReadAt(got[:size], off); err != nil {
			return errors.Wrap(err, "failed to read device")
		}
		if i := mismatch(want[:size], got[:size]); i >= 0 {
			slog.Error("verify_mismatch", "device", path, "offset", off+int64(i))
			return &VerifyError{Device: device, Offset: off + int64(i)}
		}
		off += size
	}

	slog.Info("verify_complete", "device", path, "bytes_verified", n)
	return nil
}

func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}

// Finalize ejects the device.
func (w *Writer) Finalize(ctx context.Context, device string) error {
	return w.tool.Eject(ctx, device)
}
