// Package plot writes per-guest samples to append-only, tab-delimited .dat
// files. The first line of a file is a header naming the columns; the column
// set never changes after that.
package plot

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const fileSuffix = ".dat"

type Option func(*Plotter)

// WithClock overrides the row timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Plotter) {
		if now != nil {
			p.now = now
		}
	}
}

// WithColumns fixes the column set up front instead of taking it from the
// first recorded sample.
func WithColumns(keys ...string) Option {
	return func(p *Plotter) {
		if len(keys) == 0 {
			return
		}
		cols := slices.Clone(keys)
		slices.Sort(cols)
		p.keys = slices.Compact(cols)
	}
}

// Plotter owns one plot file. A Plotter without a file is inert: Record
// does nothing.
type Plotter struct {
	mu     sync.Mutex
	logger *slog.Logger
	path   string
	file   *os.File
	w      *bufio.Writer
	lock   *flock.Flock
	now    func() time.Time

	keys          []string
	headerWritten bool
}

// New opens <dir>/<name>.dat for append. An empty dir, an open failure or a
// file already held by another process all yield an inert Plotter.
func New(dir, name string, logger *slog.Logger, opts ...Option) *Plotter {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plotter{logger: logger.With("component", "plotter"), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if dir == "" {
		return p
	}

	p.path = filepath.Join(dir, name+fileSuffix)
	f, err := os.OpenFile(p.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // operator-configured plot dir
	if err != nil {
		p.logger.Warn("cannot open plot file", "path", p.path, "error", err)
		return p
	}

	lock := flock.New(p.path)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		p.logger.Warn("plot file is in use by another process", "path", p.path, "error", err)
		_ = f.Close()
		return p
	}

	p.file = f
	p.w = bufio.NewWriter(f)
	p.lock = lock
	return p
}

func (p *Plotter) Path() string {
	return p.path
}

// Active reports whether Record writes anything.
func (p *Plotter) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file != nil
}

// Columns returns the fixed column order, or nil before it is known.
func (p *Plotter) Columns() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.keys)
}

// Record appends one row for sample. If any column is missing from sample a
// single "Incomplete data set" marker line is written instead. Keys that are
// not columns are ignored.
func (p *Plotter) Record(sample map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return
	}

	if !p.headerWritten {
		if p.keys == nil {
			p.keys = sortedKeys(sample)
		}
		if err := p.writeLine(header(p.keys)); err != nil {
			p.logger.Warn("write plot header failed, disabling plot", "path", p.path, "error", err)
			_ = p.closeLocked()
			return
		}
		p.headerWritten = true
	}

	ts := formatTime(p.now())
	line, ok := row(ts, p.keys, sample)
	if !ok {
		line = "# " + ts + " Incomplete data set"
	}
	if err := p.writeLine(line); err != nil {
		p.logger.Warn("write plot row failed", "path", p.path, "error", err)
	}
}

func (p *Plotter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Plotter) writeLine(line string) error {
	if _, err := p.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return p.w.Flush()
}

func (p *Plotter) closeLocked() error {
	if p.file == nil {
		return nil
	}
	var errs []error
	if err := p.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush %s: %w", p.path, err))
	}
	if p.lock != nil {
		if err := p.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock %s: %w", p.path, err))
		}
		p.lock = nil
	}
	if err := p.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", p.path, err))
	}
	p.file = nil
	p.w = nil
	return errors.Join(errs...)
}

func header(keys []string) string {
	var b strings.Builder
	b.WriteString("# time")
	for _, k := range keys {
		b.WriteByte('\t')
		b.WriteString(k)
	}
	return b.String()
}

func row(ts string, keys []string, sample map[string]any) (string, bool) {
	var b strings.Builder
	b.WriteString(ts)
	for _, k := range keys {
		v, ok := sample[k]
		if !ok {
			return "", false
		}
		b.WriteByte('\t')
		b.WriteString(fmt.Sprint(v))
	}
	return b.String(), true
}

func sortedKeys(sample map[string]any) []string {
	keys := make([]string, 0, len(sample))
	for k := range sample {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func formatTime(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}
