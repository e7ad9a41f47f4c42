package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/isoflash/isoflash/pkg/db"
	"github.com/isoflash/isoflash/pkg/diskutil"
	"github.com/isoflash/isoflash/pkg/pipeline"
	"github.com/isoflash/isoflash/pkg/source"
	"github.com/spf13/cobra"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		kind pipeline.Kind
		want int
	}{
		{pipeline.KindSuccess, ExitOK},
		{pipeline.KindConversionFailed, ExitConversionFailed},
		{pipeline.KindDeviceUnavailable, ExitDeviceUnavailable},
		{pipeline.KindWriteFailed, ExitWriteFailed},
		{pipeline.KindCancelled, ExitCancelled},
		{pipeline.Kind("unknown"), ExitRuntime},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := exitCode(tt.kind); got != tt.want {
				t.Errorf("exitCode(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestUsageArgs(t *testing.T) {
	cmd := &cobra.Command{Use: "flash <image>"}
	err := usageArgs(cobra.ExactArgs(1))(cmd, nil)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != ExitUsage {
		t.Errorf("expected usage exit code, got %d", exitErr.Code)
	}
	if err := usageArgs(cobra.ExactArgs(1))(cmd, []string{"debian.iso"}); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
}

func TestParseRemotePrefix(t *testing.T) {
	tests := []struct {
		ref        string
		bucket     string
		prefix     string
		shouldFail bool
	}{
		{"s3://images", "images", "", false},
		{"s3://images/", "images", "", false},
		{"s3://images/linux/debian", "images", "linux/debian", false},
		{"s3://", "", "", true},
		{"/tmp/debian.iso", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			bucket, prefix, err := parseRemotePrefix(tt.ref)
			if tt.shouldFail {
				if err == nil {
					t.Errorf("expected error for %q", tt.ref)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || prefix != tt.prefix {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, prefix, tt.bucket, tt.prefix)
			}
		})
	}
}

func testConfirmation() pipeline.Confirmation {
	return pipeline.Confirmation{
		RunID:  "run-1",
		Image:  &source.Image{Path: "/tmp/debian.iso", Size: 4 << 20},
		Device: &diskutil.DeviceInfo{Device: "/dev/sdz", Description: "SanDisk Ultra", Size: 16 << 30},
		Label:  "ISOFLASH",
	}
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			confirmer := promptConfirmer(strings.NewReader(tt.input), &out)

			got, err := confirmer.Confirm(context.Background(), testConfirmation())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "/dev/sdz, SanDisk Ultra") {
				t.Errorf("prompt does not name the device:\n%s", out.String())
			}
		})
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }

func TestPromptConfirmerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := promptConfirmer(blockingReader{}, &bytes.Buffer{}).Confirm(ctx, testConfirmation())
	if ok || !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got ok=%v err=%v", ok, err)
	}
}

func TestPrintResult(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, pipeline.Result{
		RunID:      "run-1",
		Kind:       pipeline.KindWriteFailed,
		Message:    "write failed at offset 58720256",
		Device:     "/dev/sdz",
		BytesDone:  56 << 20,
		BytesTotal: 100 << 20,
		Warnings:   []string{"eject failed"},
	})

	for _, want := range []string{"write_failed: write failed at offset 58720256", "progress: 56 MiB / 100 MiB", "eject failed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestPrintResultConversionProgress(t *testing.T) {
	var out bytes.Buffer
	printResult(&out, pipeline.Result{
		Kind:           pipeline.KindConversionFailed,
		Message:        "giving up after 2 attempts",
		ConvertedBytes: 3 << 20,
		BytesTotal:     4 << 20,
		Attempts:       2,
	})

	if !strings.Contains(out.String(), "converted: 3.0 MiB / 4.0 MiB") {
		t.Errorf("output missing conversion progress:\n%s", out.String())
	}
}

func TestPrintDevices(t *testing.T) {
	var out bytes.Buffer
	printDevices(&out, []diskutil.DeviceInfo{
		{Device: "/dev/sdb", Description: "Ultra Fit", Size: 32_000_000_000, Removable: true, Mounted: true},
		{Device: "/dev/nvme0n1", Description: "Samsung SSD 980", Size: 512_000_000_000},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and two rows, got:\n%s", out.String())
	}
	if fields := strings.Fields(lines[2]); fields[0] != "/dev/sdb" || fields[1] != "32" || fields[3] != "yes" || fields[4] != "yes" {
		t.Errorf("unexpected row %q", lines[2])
	}

	out.Reset()
	printDevices(&out, nil)
	if strings.TrimSpace(out.String()) != "No disks found" {
		t.Errorf("unexpected empty output %q", out.String())
	}
}

func setupRepo(t *testing.T) (*db.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := db.NewRepository(filepath.Join(dir, "isoflash.db"))
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	workDir := filepath.Join(dir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("work dir: %v", err)
	}
	return repo, workDir
}

func createRun(t *testing.T, repo *db.Repository, runID, state string) {
	t.Helper()
	if err := repo.CreateRun(&db.Run{RunID: runID, SourcePath: "/tmp/debian.iso", Device: "/dev/sdz", State: db.StateIdle}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if state != db.StateIdle {
		if err := repo.UpdateRun(&db.Run{RunID: runID, Device: "/dev/sdz", State: state}); err != nil {
			t.Fatalf("update run: %v", err)
		}
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCleanupSpecificRun(t *testing.T) {
	repo, workDir := setupRepo(t)
	createRun(t, repo, "run-1", db.StateFailed)
	touch(t, filepath.Join(workDir, "isoflash-run-1.img"))
	touch(t, filepath.Join(workDir, "isoflash-run-2.img"))

	var out bytes.Buffer
	if err := cleanupSpecificRun(&out, repo, workDir, "run-1"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := os.Stat(filepath.Join(workDir, "isoflash-run-1.img")); !os.IsNotExist(err) {
		t.Errorf("run image should be removed")
	}
	if _, err := os.Stat(filepath.Join(workDir, "isoflash-run-2.img")); err != nil {
		t.Errorf("other run's image should survive: %v", err)
	}
	if run, _ := repo.GetRun("run-1"); run != nil {
		t.Errorf("run row should be deleted")
	}

	if err := cleanupSpecificRun(&out, repo, workDir, "missing"); err == nil {
		t.Errorf("expected error for unknown run")
	}
}

func TestCleanupAllSkipsUnfinished(t *testing.T) {
	repo, workDir := setupRepo(t)
	createRun(t, repo, "done-run", db.StateDone)
	createRun(t, repo, "live-run", "writing")

	var out bytes.Buffer
	if err := cleanupAllRuns(&out, repo, workDir); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if run, _ := repo.GetRun("done-run"); run != nil {
		t.Errorf("finished run should be deleted")
	}
	if run, _ := repo.GetRun("live-run"); run == nil {
		t.Errorf("unfinished run should be kept")
	}
}

func TestCleanupOrphaned(t *testing.T) {
	repo, workDir := setupRepo(t)
	createRun(t, repo, "stuck-run", "converting")
	touch(t, filepath.Join(workDir, "isoflash-stuck-run.dmg"))
	touch(t, filepath.Join(workDir, "download-debian.iso"))
	touch(t, filepath.Join(workDir, "notes.txt"))

	var out bytes.Buffer
	if err := cleanupOrphanedResources(&out, repo, workDir); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	run, err := repo.GetRun("stuck-run")
	if err != nil || run == nil {
		t.Fatalf("run lookup: %v", err)
	}
	if run.State != db.StateFailed || run.Result != "interrupted" {
		t.Errorf("expected failed/interrupted, got %s/%s", run.State, run.Result)
	}

	entries, _ := os.ReadDir(workDir)
	if len(entries) != 1 || entries[0].Name() != "notes.txt" {
		t.Errorf("expected only notes.txt to remain, got %v", entries)
	}
	if !strings.Contains(out.String(), "Removed 3 orphaned resources") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
}
