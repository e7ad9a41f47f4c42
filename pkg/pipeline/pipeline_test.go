package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/isoflash/isoflash/pkg/diskutil"
	"github.com/isoflash/isoflash/pkg/diskutil/diskutiltest"
	"github.com/isoflash/isoflash/pkg/progress"
	"github.com/isoflash/isoflash/pkg/retry"
	"github.com/isoflash/isoflash/pkg/source"
	"github.com/isoflash/isoflash/pkg/writer"
)

const mib = 1 << 20

type fixture struct {
	image   *source.Image
	data    []byte
	device  string
	workDir string
	tool    *diskutiltest.Tool
}

func newFixture(t *testing.T, size int) *fixture {
	t.Helper()
	dir := t.TempDir()

	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand: %v", err)
	}
	imagePath := filepath.Join(dir, "ubuntu.iso")
	if err := os.WriteFile(imagePath, data, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	device := filepath.Join(dir, "sdz")
	if err := os.WriteFile(device, nil, 0o644); err != nil {
		t.Fatalf("create device: %v", err)
	}

	return &fixture{
		image:   &source.Image{Path: imagePath, Size: int64(size), Format: source.FormatRaw},
		data:    data,
		device:  device,
		workDir: filepath.Join(dir, "work"),
		tool:    &diskutiltest.Tool{IsMounted: true, Size: 64 * 1024 * mib},
	}
}

func (f *fixture) options() Options {
	return Options{
		WorkDir:      f.workDir,
		VerifyBytes:  mib,
		EjectTimeout: time.Second,
		Retry: retry.Config{
			MaxAttempts:  3,
			Timeout:      10 * time.Second,
			PollInterval: time.Millisecond,
			StallPolls:   30,
		},
	}
}

func (f *fixture) request() Request {
	return Request{ID: "run-1", Image: f.image, Device: f.device}
}

func (f *fixture) assertCleanedUp(t *testing.T) {
	t.Helper()
	matches, _ := filepath.Glob(filepath.Join(f.workDir, "isoflash-run-1*"))
	if len(matches) != 0 {
		t.Errorf("expected temporary artifacts to be removed, found %v", matches)
	}
}

var yes = ConfirmFunc(func(context.Context, Confirmation) (bool, error) { return true, nil })

type recorder struct {
	states          []State
	writtenAtVerify int64
	result          *Result
}

func (r *recorder) Transition(run *Run, from, to State) {
	r.states = append(r.states, to)
	if from == StateWriting && to == StateVerifying {
		r.writtenAtVerify = run.BytesDone
	}
}

func (r *recorder) Finished(run *Run, result Result) {
	r.result = &result
}

type memorySettings struct {
	device string
	err    error
}

func (m *memorySettings) LastDevice() (string, error) { return m.device, m.err }

func (m *memorySettings) SetLastDevice(device string) error {
	m.device = device
	return m.err
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t, 3*mib+512)
	rec := &recorder{}
	settings := &memorySettings{}

	p := New(f.tool, yes, f.options(), WithObserver(rec), WithSettingsStore(settings))
	result := p.Run(context.Background(), f.request())

	if result.Kind != KindSuccess || result.State != StateDone {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.BytesDone != f.image.Size || result.BytesTotal != f.image.Size {
		t.Errorf("expected %d bytes, got %d/%d", f.image.Size, result.BytesDone, result.BytesTotal)
	}
	if rec.writtenAtVerify != f.image.Size {
		t.Errorf("expected bytes written == image size at writing->verifying, got %d", rec.writtenAtVerify)
	}

	want := []State{StateConverting, StateAwaitingConfirmation, StatePreparing, StateWriting, StateVerifying, StateDone}
	if len(rec.states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], rec.states[i])
		}
	}

	got, err := os.ReadFile(f.device)
	if err != nil {
		t.Fatalf("read device: %v", err)
	}
	if !bytes.Equal(got, f.data) {
		t.Error("device contents differ from image")
	}
	if !f.tool.Called("erase") || !f.tool.Called("eject") {
		t.Errorf("expected erase and eject, got %v", f.tool.Calls())
	}
	if settings.device != f.device {
		t.Errorf("expected last device %q to be saved, got %q", f.device, settings.device)
	}
	f.assertCleanedUp(t)
}

// failAt fails the WriteAt call number n.
type failAt struct {
	writer.Device
	n, calls int
}

func (d *failAt) WriteAt(p []byte, off int64) (int, error) {
	d.calls++
	if d.calls == d.n {
		return 0, errors.New("input/output error")
	}
	return d.Device.WriteAt(p, off)
}

func TestRunWriteFailureAtChunk57(t *testing.T) {
	f := newFixture(t, 100*mib)
	opts := f.options()
	opts.Open = func(path string, flag int) (writer.Device, error) {
		dev, err := writer.OpenFile(path, flag)
		if err != nil {
			return nil, err
		}
		return &failAt{Device: dev, n: 57}, nil
	}

	result := New(f.tool, yes, opts).Run(context.Background(), f.request())

	if result.Kind != KindWriteFailed || result.State != StateFailed {
		t.Fatalf("expected write failure, got %+v", result)
	}
	if result.BytesDone != 56*mib {
		t.Errorf("expected failure at offset %d, got %d", 56*mib, result.BytesDone)
	}
	if result.Message == "" {
		t.Error("expected a diagnostic message")
	}
	f.assertCleanedUp(t)
}

func TestRunCancelledDuringWriting(t *testing.T) {
	f := newFixture(t, 8*mib)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := progress.ReporterFunc(func(u progress.Update) {
		if u.Phase == writer.Phase && u.Done >= 2*mib {
			cancel()
		}
	})
	result := New(f.tool, yes, f.options(), WithReporter(reporter)).Run(ctx, f.request())

	if result.Kind != KindCancelled || result.State != StateCancelled {
		t.Fatalf("expected cancelled, got %+v", result)
	}
	if !f.tool.Called("eject") {
		t.Errorf("expected eject to be attempted, got %v", f.tool.Calls())
	}
	f.assertCleanedUp(t)
}

func TestRunCancelledEjectFailureKeepsKind(t *testing.T) {
	f := newFixture(t, 4*mib)
	f.tool.EjectErr = errors.New("resource busy")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := progress.ReporterFunc(func(u progress.Update) {
		if u.Phase == writer.Phase {
			cancel()
		}
	})
	result := New(f.tool, yes, f.options(), WithReporter(reporter)).Run(ctx, f.request())

	if result.Kind != KindCancelled {
		t.Fatalf("expected cancelled, got %s", result.Kind)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected eject failure warning")
	}
}

func TestRunDeclined(t *testing.T) {
	f := newFixture(t, mib)
	no := ConfirmFunc(func(context.Context, Confirmation) (bool, error) { return false, nil })

	result := New(f.tool, no, f.options()).Run(context.Background(), f.request())

	if result.Kind != KindCancelled {
		t.Fatalf("expected cancelled, got %+v", result)
	}
	if f.tool.Called("erase") || f.tool.Called("unmount") {
		t.Errorf("expected no device changes after decline, got %v", f.tool.Calls())
	}
	f.assertCleanedUp(t)
}

func TestRunDeviceStillMounted(t *testing.T) {
	f := newFixture(t, mib)
	f.tool.StayMounted = true

	result := New(f.tool, yes, f.options()).Run(context.Background(), f.request())

	if result.Kind != KindDeviceUnavailable {
		t.Fatalf("expected device unavailable, got %+v", result)
	}
	if f.tool.Called("erase") {
		t.Error("erase must not run on a mounted device")
	}
	f.assertCleanedUp(t)
}

func TestRunAlreadyUnmountedDevice(t *testing.T) {
	f := newFixture(t, mib)
	f.tool.IsMounted = false

	if result := New(f.tool, yes, f.options()).Run(context.Background(), f.request()); !result.OK() {
		t.Fatalf("expected success on an unmounted device, got %+v", result)
	}
}

func TestRunConversionExhausted(t *testing.T) {
	f := newFixture(t, mib)
	f.tool.ConvertFunc = func(ctx context.Context, src, prefix string) error {
		return &diskutil.ToolError{Op: "convert", Command: "qemu-img convert", ExitCode: 1, Output: "unsupported image"}
	}

	result := New(f.tool, yes, f.options()).Run(context.Background(), f.request())

	if result.Kind != KindConversionFailed {
		t.Fatalf("expected conversion failure, got %+v", result)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if f.tool.Called("erase") {
		t.Error("device must not be touched after a failed conversion")
	}
}

func TestConvertStallsWhenOutputIsPresized(t *testing.T) {
	f := newFixture(t, 4*mib)
	written := make(chan struct{})
	f.tool.ConvertFunc = func(ctx context.Context, src, prefix string) error {
		out, err := os.Create(prefix + ".img")
		if err != nil {
			return err
		}
		defer out.Close()
		// Full length up front, no data: the converter hangs right after.
		if err := out.Truncate(4 * mib); err != nil {
			return err
		}
		close(written)
		<-ctx.Done()
		return ctx.Err()
	}
	f.tool.ArtifactSizeFunc = func(path string) (int64, error) {
		if _, err := os.Stat(path); err != nil {
			return 0, err
		}
		return 0, nil
	}

	opts := f.options()
	opts.Retry.MaxAttempts = 1
	p := New(f.tool, yes, opts)

	run, err := p.Begin(context.Background(), f.request())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	start := time.Now()
	err = p.Convert(context.Background(), run)

	var stall *retry.StallError
	if !errors.As(err, &stall) {
		t.Fatalf("expected a stall, got %v", err)
	}
	if stall.Polls != 30 {
		t.Errorf("expected stall at poll 30, got %d", stall.Polls)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("stall took %s, the attempt timeout decided instead", elapsed)
	}
	select {
	case <-written:
	default:
		t.Error("converter never sized its output")
	}

	result := p.Finish(context.Background(), run, err)
	if result.Kind != KindConversionFailed {
		t.Errorf("expected conversion failure, got %s", result.Kind)
	}
}

func TestRunConversionFailureReportsProgress(t *testing.T) {
	f := newFixture(t, 4*mib)
	f.tool.ConvertFunc = func(ctx context.Context, src, prefix string) error {
		if err := os.WriteFile(prefix+".img", make([]byte, 3*mib), 0o644); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}

	opts := f.options()
	opts.Retry.MaxAttempts = 2
	opts.Retry.Timeout = 150 * time.Millisecond
	opts.Retry.StallPolls = 100000

	result := New(f.tool, yes, opts).Run(context.Background(), f.request())

	if result.Kind != KindConversionFailed {
		t.Fatalf("expected conversion failure, got %+v", result)
	}
	if result.ConvertedBytes != 3*mib {
		t.Errorf("expected 3 MiB converted, got %d", result.ConvertedBytes)
	}
	if !strings.Contains(result.Message, "converted 3145728 of 4194304 bytes") {
		t.Errorf("message lacks progress: %q", result.Message)
	}
	f.assertCleanedUp(t)
}

func TestRunEjectFailureIsWarning(t *testing.T) {
	f := newFixture(t, mib)
	f.tool.EjectErr = errors.New("resource busy")

	result := New(f.tool, yes, f.options()).Run(context.Background(), f.request())

	if !result.OK() {
		t.Fatalf("expected success despite eject failure, got %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", result.Warnings)
	}
}

func TestRunCancelledDuringErase(t *testing.T) {
	f := newFixture(t, mib)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.tool.EraseFunc = func(ctx context.Context, device, label string) error {
		cancel()
		return context.Canceled
	}

	result := New(f.tool, yes, f.options()).Run(ctx, f.request())

	if result.Kind != KindCancelled {
		t.Fatalf("expected cancelled, got %+v", result)
	}
	if !result.Degraded {
		t.Error("expected degraded flag after interrupted erase")
	}
	f.assertCleanedUp(t)
}

func TestRunUsesLastDevice(t *testing.T) {
	f := newFixture(t, mib)
	req := f.request()
	req.Device = ""
	req.Settings = Settings{LastDevice: f.device}

	result := New(f.tool, yes, f.options()).Run(context.Background(), req)
	if !result.OK() || result.Device != f.device {
		t.Fatalf("expected success on last device, got %+v", result)
	}
}

func TestRunWithoutDevice(t *testing.T) {
	f := newFixture(t, mib)
	req := f.request()
	req.Device = ""

	result := New(f.tool, yes, f.options()).Run(context.Background(), req)
	if result.Kind != KindDeviceUnavailable {
		t.Fatalf("expected device unavailable, got %+v", result)
	}
	if f.tool.Called("convert") {
		t.Error("conversion must not start without a device")
	}
}

type rejectAll struct{}

func (rejectAll) ValidateDevice(device string) error { return errors.New("looks like a partition") }

func (rejectAll) ValidateImage(imageSize, deviceSize int64) error { return nil }

func TestRunValidatorRejectsDevice(t *testing.T) {
	f := newFixture(t, mib)
	result := New(f.tool, yes, f.options(), WithValidator(rejectAll{})).Run(context.Background(), f.request())
	if result.Kind != KindDeviceUnavailable {
		t.Fatalf("expected device unavailable, got %+v", result)
	}
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings(&memorySettings{device: "/dev/sdb"})
	if err != nil || s.LastDevice != "/dev/sdb" {
		t.Fatalf("unexpected settings %+v, %v", s, err)
	}
	if s, err := LoadSettings(nil); err != nil || s.LastDevice != "" {
		t.Fatalf("expected empty settings, got %+v, %v", s, err)
	}
}
