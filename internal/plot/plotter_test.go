package plot

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock returns t0, t0+1s, t0+2s, ...
func stepClock(t0 time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		t := t0.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestNew_EmptyDirIsInert(t *testing.T) {
	p := New("", "guest", discardLogger())
	if p.Active() {
		t.Fatal("plotter with empty dir should be inert")
	}
	for i := 0; i < 10; i++ {
		p.Record(map[string]any{"a": i})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if p.Path() != "" {
		t.Errorf("Path() = %q, want empty", p.Path())
	}
}

func TestNew_UnopenableDirIsInert(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing", "sub")
	p := New(dir, "guest", discardLogger())
	if p.Active() {
		t.Fatal("plotter should fall back to inert mode")
	}
	p.Record(map[string]any{"a": 1})
	if _, err := os.Stat(filepath.Join(dir, "guest.dat")); !os.IsNotExist(err) {
		t.Errorf("plot file should not exist, stat err = %v", err)
	}
}

func TestRecord_SchemaFixedByFirstSample(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Unix(1700000000, 0)
	p := New(dir, "vm1", discardLogger(), WithClock(stepClock(t0)))

	p.Record(map[string]any{"b": 2, "a": 1})
	p.Record(map[string]any{"a": 3, "c": 9})
	p.Record(map[string]any{"b": 6, "a": 5})
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	got := readLines(t, filepath.Join(dir, "vm1.dat"))
	want := []string{
		"# time\ta\tb",
		formatTime(t0) + "\t1\t2",
		"# " + formatTime(t0.Add(time.Second)) + " Incomplete data set",
		formatTime(t0.Add(2*time.Second)) + "\t5\t6",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	for _, line := range got {
		if strings.Contains(line, "9") && !strings.HasPrefix(line, "#") {
			t.Errorf("row contains a column outside the schema: %q", line)
		}
	}
}

func TestRecord_ExplicitColumns(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Unix(1700000000, 500000000)
	p := New(dir, "vm2", discardLogger(), WithClock(stepClock(t0)), WithColumns("z", "a", "z"))
	if cols := p.Columns(); len(cols) != 2 || cols[0] != "a" || cols[1] != "z" {
		t.Fatalf("Columns() = %v, want [a z]", cols)
	}

	p.Record(map[string]any{"a": 1})
	p.Record(map[string]any{"a": 1.5, "z": "x", "extra": true})
	_ = p.Close()

	got := readLines(t, filepath.Join(dir, "vm2.dat"))
	want := []string{
		"# time\ta\tz",
		"# " + formatTime(t0) + " Incomplete data set",
		formatTime(t0.Add(time.Second)) + "\t1.5\tx",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("file =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestRecord_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Unix(1700000000, 0)

	p := New(dir, "vm3", discardLogger(), WithClock(stepClock(t0)))
	p.Record(map[string]any{"a": 1})
	_ = p.Close()

	p = New(dir, "vm3", discardLogger(), WithClock(stepClock(t0.Add(time.Minute))))
	p.Record(map[string]any{"a": 2})
	_ = p.Close()

	got := readLines(t, filepath.Join(dir, "vm3.dat"))
	if len(got) != 4 {
		t.Fatalf("got %d lines %q, want 4 (history kept)", len(got), got)
	}
	if got[0] != "# time\ta" || got[2] != "# time\ta" {
		t.Errorf("headers = %q, %q", got[0], got[2])
	}
}

func TestNew_LockedFileIsInert(t *testing.T) {
	dir := t.TempDir()
	first := New(dir, "vm4", discardLogger())
	defer first.Close()
	if !first.Active() {
		t.Fatal("first plotter should be active")
	}

	second := New(dir, "vm4", discardLogger())
	if second.Active() {
		t.Fatal("second plotter on a locked file should be inert")
	}
	second.Record(map[string]any{"a": 1})
	first.Record(map[string]any{"a": 2})
	_ = first.Close()

	got := readLines(t, filepath.Join(dir, "vm4.dat"))
	if len(got) != 2 || !strings.HasSuffix(got[1], "\t2") {
		t.Errorf("file = %q, want only rows from the lock holder", got)
	}
}

func TestRecord_EmptyFirstSample(t *testing.T) {
	dir := t.TempDir()
	t0 := time.Unix(1700000000, 0)
	p := New(dir, "vm5", discardLogger(), WithClock(stepClock(t0)))
	p.Record(map[string]any{})
	p.Record(map[string]any{"a": 1})
	_ = p.Close()

	got := readLines(t, filepath.Join(dir, "vm5.dat"))
	want := []string{"# time", formatTime(t0), formatTime(t0.Add(time.Second))}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("file = %q, want %q", got, want)
	}
}

func TestFormatTime(t *testing.T) {
	got := formatTime(time.Unix(1700000000, 250000000))
	if got != "1700000000.250000" {
		t.Errorf("formatTime() = %q", got)
	}
}
