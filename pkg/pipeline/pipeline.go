// Package pipeline turns an installer image into a bootable removable disk:
// convert, confirm, prepare, write, verify, then clean up on every path.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/isoflash/isoflash/pkg/diskutil"
	"github.com/isoflash/isoflash/pkg/progress"
	"github.com/isoflash/isoflash/pkg/retry"
	"github.com/isoflash/isoflash/pkg/source"
	"github.com/isoflash/isoflash/pkg/writer"
)

const DefaultEjectTimeout = 30 * time.Second

// Settings is the persisted preference record, loaded before a run.
type Settings struct {
	LastDevice string
}

type SettingsStore interface {
	LastDevice() (string, error)
	SetLastDevice(device string) error
}

// LoadSettings reads the settings record. A nil store yields empty settings.
func LoadSettings(store SettingsStore) (Settings, error) {
	if store == nil {
		return Settings{}, nil
	}
	device, err := store.LastDevice()
	if err != nil {
		return Settings{}, err
	}
	return Settings{LastDevice: device}, nil
}

// Confirmation is shown to the user before the device is erased.
type Confirmation struct {
	RunID  string
	Image  *source.Image
	Device *diskutil.DeviceInfo
	Label  string
}

type Confirmer interface {
	Confirm(ctx context.Context, c Confirmation) (bool, error)
}

type ConfirmFunc func(ctx context.Context, c Confirmation) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, c Confirmation) (bool, error) {
	return f(ctx, c)
}

// Validator vets the device and image before anything destructive happens.
type Validator interface {
	ValidateDevice(device string) error
	ValidateImage(imageSize, deviceSize int64) error
}

// Observer receives state transitions and the final result.
type Observer interface {
	Transition(run *Run, from, to State)
	Finished(run *Run, result Result)
}

type Options struct {
	WorkDir      string
	Label        string
	VerifyBytes  int64
	ChunkSize    int
	EjectTimeout time.Duration
	Retry        retry.Config
	// Open overrides how device nodes are opened.
	Open writer.OpenFunc
}

type Pipeline struct {
	tool       diskutil.Tool
	confirmer  Confirmer
	validator  Validator
	settings   SettingsStore
	observer   Observer
	reporter   progress.Reporter
	controller *retry.Controller
	writer     *writer.Writer
	opts       Options
}

type Option func(*Pipeline)

func WithValidator(v Validator) Option {
	return func(p *Pipeline) { p.validator = v }
}

func WithSettingsStore(s SettingsStore) Option {
	return func(p *Pipeline) { p.settings = s }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

func WithReporter(r progress.Reporter) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reporter = r
		}
	}
}

func New(tool diskutil.Tool, confirmer Confirmer, opts Options, options ...Option) *Pipeline {
	if opts.Label == "" {
		opts.Label = diskutil.DefaultLabel
	}
	if opts.EjectTimeout <= 0 {
		opts.EjectTimeout = DefaultEjectTimeout
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(".artifacts", "work")
	}

	p := &Pipeline{
		tool:      tool,
		confirmer: confirmer,
		reporter:  progress.Discard,
		opts:      opts,
	}
	for _, o := range options {
		o(p)
	}

	p.controller = retry.New(opts.Retry)
	writerOpts := []writer.Option{
		writer.WithChunkSize(opts.ChunkSize),
		writer.WithReporter(p.reporter),
	}
	if opts.Open != nil {
		writerOpts = append(writerOpts, writer.WithOpenFunc(opts.Open))
	}
	p.writer = writer.New(tool, writerOpts...)
	return p
}

// Run is the mutable record of one pipeline run.
type Run struct {
	ID             string
	Image          *source.Image
	Device         string
	DeviceInfo     *diskutil.DeviceInfo
	State          State
	Prefix         string
	Artifact       string
	ConvertedBytes int64 // last observed size of the conversion artifact
	BytesDone      int64
	BytesTotal     int64
	Attempts       int
	Warnings       []string
	Degraded       bool

	ejectAttempted bool
}

func (r *Run) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (p *Pipeline) transition(run *Run, to State) {
	from := run.State
	if from == to {
		return
	}
	run.State = to
	slog.Info("state_transition", "run_id", run.ID, "from", from, "to", to, "device", run.Device)
	if p.observer != nil {
		p.observer.Transition(run, from, to)
	}
}

// ArtifactPrefix is the temporary image path prefix for a run.
func ArtifactPrefix(workDir, runID string) string {
	return filepath.Join(workDir, "isoflash-"+runID)
}
