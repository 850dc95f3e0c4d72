package process

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	gprocess "github.com/shirou/gopsutil/v3/process"
)

// SystemTable reads the live process table through gopsutil.
type SystemTable struct{}

func (SystemTable) Lines(ctx context.Context) ([]string, error) {
	procs, err := gprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	lines := make([]string, 0, len(procs))
	for _, p := range procs {
		// Processes may exit between listing and reading; kernel threads
		// have no command line.
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if cmdline == "" {
			name, nameErr := p.NameWithContext(ctx)
			if nameErr != nil {
				continue
			}
			cmdline = "[" + name + "]"
		}
		lines = append(lines, strconv.FormatInt(int64(p.Pid), 10)+" "+cmdline)
	}
	return lines, nil
}

// Stats is a point-in-time view of one process.
type Stats struct {
	PID        int32
	RSSBytes   uint64
	VMSBytes   uint64
	Threads    int32
	CPUPercent float64
}

// Inspector reads statistics for one process at a time. It keeps the
// gopsutil handle between calls so CPUPercent covers the time since the
// previous Stats call rather than the whole process lifetime. The first call
// for a pid reports 0.
type Inspector struct {
	mu   sync.Mutex
	proc *gprocess.Process
}

func NewInspector() *Inspector {
	return &Inspector{}
}

func (i *Inspector) Stats(ctx context.Context, pid int32) (Stats, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.proc == nil || i.proc.Pid != pid {
		p, err := gprocess.NewProcessWithContext(ctx, pid)
		if err != nil {
			return Stats{}, fmt.Errorf("process %d: %w", pid, err)
		}
		i.proc = p
	}
	mem, err := i.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("process %d memory: %w", pid, err)
	}
	threads, err := i.proc.NumThreadsWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("process %d threads: %w", pid, err)
	}
	cpuPct, err := i.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("process %d cpu: %w", pid, err)
	}
	return Stats{
		PID:        pid,
		RSSBytes:   mem.RSS,
		VMSBytes:   mem.VMS,
		Threads:    threads,
		CPUPercent: cpuPct,
	}, nil
}
