// Package progress reports per table copy progress.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Reporter announces tables and hands out a Tracker for each copied table
type Reporter interface {
	// Begin starts tracking a table expected to hold total rows
	Begin(table string, total int64) Tracker
	// Skip announces a table excluded from the copy
	Skip(table string)
	// Empty announces a table without rows
	Empty(table string)
}

// Tracker follows the rows of a single table
type Tracker interface {
	Increment()
	Finish()
	Abort()
}

// BarReporter draws a live progress bar per table
type BarReporter struct {
	Out   io.Writer
	Width int
}

// NewBarReporter creates a reporter drawing on out
func NewBarReporter(out io.Writer) *BarReporter {
	return &BarReporter{Out: out, Width: 50}
}

func (r *BarReporter) Skip(table string) {
	fmt.Fprintf(r.Out, "Skipping: %s\n", color.YellowString(table))
}

func (r *BarReporter) Empty(table string) {
	fmt.Fprintf(r.Out, "Copying: %s (0/0)\n", table)
}

func (r *BarReporter) Begin(table string, total int64) Tracker {
	p := mpb.New(mpb.WithOutput(r.Out), mpb.WithWidth(r.Width))
	bar := p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name("Copying: "),
			decor.Name(color.HiBlueString(table), decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), color.HiMagentaString(" done!")),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 7}),
			decor.Name("/"),
			decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 7}),
		),
	)
	return &barTracker{progress: p, bar: bar}
}

type barTracker struct {
	progress  *mpb.Progress
	bar       *mpb.Bar
	processed int64
}

func (t *barTracker) Increment() {
	t.processed++
	t.bar.Increment()
}

// Finish completes the bar even when the table shrank during the copy
func (t *barTracker) Finish() {
	t.bar.SetTotal(t.processed, true)
	t.progress.Wait()
}

func (t *barTracker) Abort() {
	t.bar.Abort(false)
	t.progress.Wait()
}

// LogReporter reports progress through the logger instead of a live bar
type LogReporter struct {
	Logger *logrus.Logger
	Every  int64
}

// NewLogReporter creates a reporter logging every n rows
func NewLogReporter(logger *logrus.Logger, every int64) *LogReporter {
	return &LogReporter{Logger: logger, Every: every}
}

func (r *LogReporter) Skip(table string) {
	r.Logger.Infof("Skipping: %s", table)
}

func (r *LogReporter) Empty(table string) {
	r.Logger.Infof("Copying: %s (0/0)", table)
}

func (r *LogReporter) Begin(table string, total int64) Tracker {
	r.Logger.Infof("Copying: %s (%d rows)", table, total)
	return &logTracker{reporter: r, table: table, total: total, started: time.Now()}
}

type logTracker struct {
	reporter *LogReporter
	table    string
	total    int64
	current  int64
	started  time.Time
}

func (t *logTracker) Increment() {
	t.current++
	if t.reporter.Every > 0 && t.current%t.reporter.Every == 0 {
		elapsed := time.Since(t.started)
		var remaining time.Duration
		if t.current < t.total {
			remaining = time.Duration(float64(elapsed) / float64(t.current) * float64(t.total-t.current))
		}
		t.reporter.Logger.Infof("Copying: %s %d/%d elapsed %s, estimated %s remaining",
			t.table, t.current, t.total, elapsed.Round(time.Second), remaining.Round(time.Second))
	}
}

func (t *logTracker) Finish() {
	t.reporter.Logger.Infof("Copied: %s %d/%d in %s", t.table, t.current, t.total, time.Since(t.started).Round(time.Millisecond))
}

func (t *logTracker) Abort() {
	t.reporter.Logger.Warnf("Aborted: %s at %d/%d", t.table, t.current, t.total)
}

// Nop discards all progress
type Nop struct{}

func (Nop) Begin(string, int64) Tracker { return nopTracker{} }
func (Nop) Skip(string)                 {}
func (Nop) Empty(string)                {}

type nopTracker struct{}

func (nopTracker) Increment() {}
func (nopTracker) Finish()    {}
func (nopTracker) Abort()     {}
