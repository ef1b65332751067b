// Package resource samples host resource usage on a fixed interval and
// answers point-in-time and constraint queries for the autonomous loop.
// The sampler runs on its own ticker, fully independent of the loop's
// cycle timing: a slow cycle never delays a sample and a slow probe
// never blocks a cycle. CPU usage is smoothed over a rolling window of
// the last 12 samples (about one minute at the 5s default cadence).
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

const (
	// cpuWindowSize is the number of samples in the rolling CPU
	// average: 12 samples at 5s cadence ≈ 1 minute.
	cpuWindowSize = 12

	// apiWindow is how long a tracked API call counts toward its
	// per-API total before it expires.
	apiWindow = time.Hour

	constrainedCPU    = 80.0
	constrainedMemory = 80.0
)

// SlotUsage reports concurrent-task slot occupancy.
type SlotUsage struct {
	Used  int
	Total int
}

// Snapshot is a point-in-time resource usage reading. APICalls maps
// API name to the number of tracked calls in the current window.
type Snapshot struct {
	Timestamp time.Time
	CPU       float64 // percent, rolling window average
	Memory    float64 // percent
	DiskSpace float64 // percent used
	APICalls  map[string]int
	TaskSlots SlotUsage
}

// Probes supplies the raw host readings. Each probe may be replaced in
// tests; the zero value is filled with the /proc and statfs defaults.
type Probes struct {
	// CPU returns cumulative idle and total tick counters.
	CPU func() (idle, total uint64, err error)
	// Memory returns the used-memory percentage.
	Memory func() (percent float64, err error)
	// Disk returns the used-space percentage for a path.
	Disk func(path string) (percent float64, err error)
}

// Monitor periodically samples host resources. All methods are safe
// for concurrent use.
type Monitor struct {
	logger   *slog.Logger
	interval time.Duration
	diskPath string
	probes   Probes
	nowFunc  func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
	sampled  bool // at least one successful sample taken

	// CPU tick readings, newest last. Usage for the snapshot is the
	// mean of per-interval usages across the window, clamped to
	// [0,100].
	cpuUsages []float64
	lastIdle  uint64
	lastTotal uint64
	haveTicks bool

	apiMu    sync.Mutex
	apiCalls map[string][]time.Time

	slotMu    sync.Mutex
	slotsUsed int
	slotTotal int
}

// NewMonitor creates a monitor sampling every interval. totalSlots is
// the concurrent-task slot capacity; diskPath is the filesystem whose
// usage is reported. Zero or negative values fall back to defaults
// (5s, 3 slots, "/").
func NewMonitor(interval time.Duration, totalSlots int, diskPath string, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if totalSlots <= 0 {
		totalSlots = 3
	}
	if diskPath == "" {
		diskPath = "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:   logger,
		interval: interval,
		diskPath: diskPath,
		probes:   defaultProbes(),
		nowFunc:  time.Now,
		apiCalls: make(map[string][]time.Time),
		slotTotal: totalSlots,
	}
}

// Start begins periodic sampling and blocks until ctx is cancelled.
// An immediate first sample is taken before the ticker starts so that
// early Sample calls see real data.
func (m *Monitor) Start(ctx context.Context) {
	m.sampleOnce()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

// sampleOnce takes one reading from every probe and replaces the
// current snapshot. Any probe error is logged and the previous
// snapshot is retained: stale-but-available beats crashing the
// sampler.
func (m *Monitor) sampleOnce() {
	idle, total, err := m.probes.CPU()
	if err != nil {
		m.logger.Warn("cpu sample failed, retaining previous snapshot", "error", err)
		return
	}
	memPct, err := m.probes.Memory()
	if err != nil {
		m.logger.Warn("memory sample failed, retaining previous snapshot", "error", err)
		return
	}
	diskPct, err := m.probes.Disk(m.diskPath)
	if err != nil {
		m.logger.Warn("disk sample failed, retaining previous snapshot", "error", err, "path", m.diskPath)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pushCPUTicks(idle, total)

	m.snapshot = Snapshot{
		Timestamp: m.nowFunc(),
		CPU:       m.cpuAverage(),
		Memory:    clampPercent(memPct),
		DiskSpace: clampPercent(diskPct),
		APICalls:  m.apiCounts(),
		TaskSlots: m.slotUsage(),
	}
	m.sampled = true
}

// pushCPUTicks converts cumulative tick counters into one per-interval
// usage reading and appends it to the rolling window. Callers hold mu.
func (m *Monitor) pushCPUTicks(idle, total uint64) {
	if m.haveTicks && total > m.lastTotal {
		dIdle := float64(idle - m.lastIdle)
		dTotal := float64(total - m.lastTotal)
		usage := clampPercent(100 - 100*dIdle/dTotal)
		m.cpuUsages = append(m.cpuUsages, usage)
		if len(m.cpuUsages) > cpuWindowSize {
			m.cpuUsages = m.cpuUsages[len(m.cpuUsages)-cpuWindowSize:]
		}
	}
	m.lastIdle = idle
	m.lastTotal = total
	m.haveTicks = true
}

// cpuAverage returns the mean usage across the window. Callers hold mu.
func (m *Monitor) cpuAverage() float64 {
	if len(m.cpuUsages) == 0 {
		return 0
	}
	var sum float64
	for _, u := range m.cpuUsages {
		sum += u
	}
	return clampPercent(sum / float64(len(m.cpuUsages)))
}

// Sample returns the latest snapshot. The APICalls map is a copy; the
// caller may retain it.
func (m *Monitor) Sample() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	if snap.APICalls != nil {
		snap.APICalls = maps.Clone(snap.APICalls)
	}
	if !m.sampled {
		snap.TaskSlots = m.slotUsage()
	}
	return snap
}

// IsConstrained reports whether the host is currently constrained:
// CPU above 80%, memory above 80%, or all task slots in use.
func (m *Monitor) IsConstrained() bool {
	return len(m.ListConstraints()) > 0
}

// ListConstraints returns human-readable reasons the host is
// considered constrained. Empty when unconstrained.
func (m *Monitor) ListConstraints() []string {
	snap := m.Sample()

	var reasons []string
	if snap.CPU > constrainedCPU {
		reasons = append(reasons, fmt.Sprintf("cpu usage %.1f%% exceeds %.0f%%", snap.CPU, constrainedCPU))
	}
	if snap.Memory > constrainedMemory {
		reasons = append(reasons, fmt.Sprintf("memory usage %.1f%% exceeds %.0f%%", snap.Memory, constrainedMemory))
	}
	if snap.TaskSlots.Total > 0 && snap.TaskSlots.Used >= snap.TaskSlots.Total {
		reasons = append(reasons, fmt.Sprintf("all %d task slots in use", snap.TaskSlots.Total))
	}
	return reasons
}

// TrackAPICall records one call against the named API. Calls expire
// from the count after one hour.
func (m *Monitor) TrackAPICall(name string) {
	now := m.nowFunc()

	m.apiMu.Lock()
	defer m.apiMu.Unlock()
	m.pruneAPILocked(now)
	m.apiCalls[name] = append(m.apiCalls[name], now)
}

// APICallCount returns the number of tracked calls for name in the
// current window.
func (m *Monitor) APICallCount(name string) int {
	m.apiMu.Lock()
	defer m.apiMu.Unlock()
	m.pruneAPILocked(m.nowFunc())
	return len(m.apiCalls[name])
}

// apiCounts returns a name→count map for the snapshot.
func (m *Monitor) apiCounts() map[string]int {
	m.apiMu.Lock()
	defer m.apiMu.Unlock()
	m.pruneAPILocked(m.nowFunc())

	counts := make(map[string]int, len(m.apiCalls))
	for name, times := range m.apiCalls {
		counts[name] = len(times)
	}
	return counts
}

// pruneAPILocked drops expired call timestamps. Callers hold apiMu.
func (m *Monitor) pruneAPILocked(now time.Time) {
	cutoff := now.Add(-apiWindow)
	for name, times := range m.apiCalls {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(m.apiCalls, name)
		} else {
			m.apiCalls[name] = kept
		}
	}
}

// AcquireSlot claims one task slot. Returns false when all slots are
// in use.
func (m *Monitor) AcquireSlot() bool {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if m.slotsUsed >= m.slotTotal {
		return false
	}
	m.slotsUsed++
	return true
}

// ReleaseSlot returns a previously acquired task slot.
func (m *Monitor) ReleaseSlot() {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	if m.slotsUsed > 0 {
		m.slotsUsed--
	}
}

func (m *Monitor) slotUsage() SlotUsage {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return SlotUsage{Used: m.slotsUsed, Total: m.slotTotal}
}

// Stats returns monitor statistics for introspection.
func (m *Monitor) Stats() map[string]any {
	snap := m.Sample()
	return map[string]any{
		"cpu_percent":    snap.CPU,
		"memory_percent": snap.Memory,
		"disk_percent":   snap.DiskSpace,
		"slots_used":     snap.TaskSlots.Used,
		"slots_total":    snap.TaskSlots.Total,
		"constrained":    m.IsConstrained(),
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
