// Package process finds and inspects the host process backing a guest.
package process

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrProcessNotFound  = errors.New("no matching process")
	ErrAmbiguousProcess = errors.New("too many process matches")
)

// Table lists the live process table, one "<pid> <command line>" entry per
// process, like `ps ax`.
type Table interface {
	Lines(ctx context.Context) ([]string, error)
}

// Locator resolves a guest UUID to the pid of the process whose command line
// mentions it. It keeps no state between calls.
type Locator struct {
	table Table
}

func NewLocator(table Table) *Locator {
	return &Locator{table: table}
}

// Resolve scans the process table once. Zero matches yield
// ErrProcessNotFound and more than one ErrAmbiguousProcess.
func (l *Locator) Resolve(ctx context.Context, uuid string) (int32, error) {
	if strings.TrimSpace(uuid) == "" {
		return 0, fmt.Errorf("empty uuid: %w", ErrProcessNotFound)
	}
	lines, err := l.table.Lines(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan process table: %w", err)
	}
	return MatchPID(lines, uuid)
}

// MatchPID returns the pid of the single line that starts with a pid and
// mentions uuid after it.
func MatchPID(lines []string, uuid string) (int32, error) {
	var (
		pid     int32
		matches int
	)
	for _, line := range lines {
		p, rest, ok := splitPID(line)
		if !ok || !strings.Contains(rest, uuid) {
			continue
		}
		matches++
		pid = p
	}
	switch {
	case matches == 0:
		return 0, fmt.Errorf("uuid %s: %w", uuid, ErrProcessNotFound)
	case matches > 1:
		return 0, fmt.Errorf("uuid %s matched %d processes: %w", uuid, matches, ErrAmbiguousProcess)
	}
	return pid, nil
}

func splitPID(line string) (int32, string, bool) {
	line = strings.TrimLeft(line, " \t")
	end := strings.IndexAny(line, " \t")
	if end <= 0 {
		return 0, "", false
	}
	v, err := strconv.ParseInt(line[:end], 10, 32)
	if err != nil || v <= 0 {
		return 0, "", false
	}
	return int32(v), line[end:], true
}
