// Package probe samples host CPU and memory usage from procfs.
package probe

import (
	"fmt"
	"sync"

	"github.com/prometheus/procfs"

	"github.com/veilleur-project/veilleur/internal/watcher"
)

// Probe reads /proc. CPU usage is a delta between consecutive
// snapshots, so the first call reports zero.
type Probe struct {
	fs procfs.FS

	mu       sync.Mutex
	lastBusy float64
	lastIdle float64
	primed   bool
}

// New mounts the default procfs.
func New() (*Probe, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &Probe{fs: fs}, nil
}

// Snapshot implements watcher.ResourceProbe.
func (p *Probe) Snapshot() (watcher.ResourceUsage, error) {
	stat, err := p.fs.Stat()
	if err != nil {
		return watcher.ResourceUsage{}, fmt.Errorf("read /proc/stat: %w", err)
	}
	cpu := stat.CPUTotal
	busy := cpu.User + cpu.Nice + cpu.System + cpu.Iowait + cpu.IRQ + cpu.SoftIRQ + cpu.Steal
	idle := cpu.Idle

	p.mu.Lock()
	var percent float64
	if p.primed {
		busyDelta := busy - p.lastBusy
		totalDelta := busyDelta + (idle - p.lastIdle)
		if totalDelta > 0 {
			percent = busyDelta / totalDelta * 100
		}
	}
	p.lastBusy = busy
	p.lastIdle = idle
	p.primed = true
	p.mu.Unlock()

	meminfo, err := p.fs.Meminfo()
	if err != nil {
		return watcher.ResourceUsage{}, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	var usedMB float64
	if meminfo.MemTotal != nil {
		total := float64(*meminfo.MemTotal)
		available := total
		if meminfo.MemAvailable != nil {
			available = float64(*meminfo.MemAvailable)
		} else if meminfo.MemFree != nil {
			available = float64(*meminfo.MemFree)
		}
		usedMB = (total - available) / 1024
	}

	return watcher.ResourceUsage{CPUPercent: percent, RAMMB: usedMB}, nil
}

// Static returns fixed readings, for tests and dry runs.
type Static struct {
	CPUPercent float64
	RAMMB      float64
}

// Snapshot implements watcher.ResourceProbe.
func (s Static) Snapshot() (watcher.ResourceUsage, error) {
	return watcher.ResourceUsage{CPUPercent: s.CPUPercent, RAMMB: s.RAMMB}, nil
}
