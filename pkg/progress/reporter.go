package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Update is one progress observation: Done of Total bytes, Advanced since the
// previous update.
type Update struct {
	Phase    string
	Done     int64
	Total    int64
	Advanced int64
}

// Percent returns Done as a percentage of Total, or 0 when Total is unknown.
func (u Update) Percent() float64 {
	if u.Total <= 0 {
		return 0
	}
	return float64(u.Done) * 100 / float64(u.Total)
}

type Reporter interface {
	Report(u Update)
}

type ReporterFunc func(u Update)

func (f ReporterFunc) Report(u Update) { f(u) }

// Discard drops every update.
var Discard Reporter = ReporterFunc(func(Update) {})

// LineReporter prints a line whenever the whole percentage or phase changes.
type LineReporter struct {
	mu      sync.Mutex
	w       io.Writer
	phase   string
	percent int
}

func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{w: w, percent: -1}
}

func (r *LineReporter) Report(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	percent := int(u.Percent())
	if u.Phase == r.phase && percent == r.percent {
		return
	}
	r.phase = u.Phase
	r.percent = percent

	if u.Total > 0 {
		fmt.Fprintf(r.w, "%s: %d%% (%s / %s)\n", u.Phase, percent, humanize.Bytes(uint64(u.Done)), humanize.Bytes(uint64(u.Total)))
		return
	}
	fmt.Fprintf(r.w, "%s: %s\n", u.Phase, humanize.Bytes(uint64(u.Done)))
}

// BarReporter draws a terminal progress bar, one bar per phase.
type BarReporter struct {
	mu    sync.Mutex
	w     io.Writer
	phase string
	bar   *progressbar.ProgressBar
}

func NewBarReporter(w io.Writer) *BarReporter {
	return &BarReporter{w: w}
}

func (r *BarReporter) Report(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil || u.Phase != r.phase {
		if r.bar != nil {
			_ = r.bar.Finish()
		}
		total := u.Total
		if total <= 0 {
			total = -1
		}
		r.phase = u.Phase
		r.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(u.Phase),
			progressbar.OptionSetWriter(r.w),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.w) }),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = r.bar.Set64(u.Done)
}

// NewReporter returns a progress bar when f is a terminal and plain lines
// otherwise.
func NewReporter(f *os.File) Reporter {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewBarReporter(f)
	}
	return NewLineReporter(f)
}
