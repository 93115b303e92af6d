package sysload

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Load score component weights. CPU dominates because analyzer work is
// CPU bound; load average gets the smallest weight since it lags.
const (
	weightCPU     = 0.4
	weightMemory  = 0.3
	weightIOWait  = 0.2
	weightLoadAvg = 0.1
)

// Sample is one observation of system load. All percentage fields are
// normalized to [0, 1].
type Sample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	IOWaitPercent float64   `json:"io_wait_percent"`
	LoadAverage   float64   `json:"load_average"`
	Cores         int       `json:"cores"`
	Score         float64   `json:"score"`
}

// computeScore combines the components into a single load score in
// [0, 1].
func computeScore(cpu, mem, iowait, loadavg float64, cores int) float64 {
	normalizedLoad := 0.0
	if cores > 0 {
		normalizedLoad = loadavg / float64(cores)
		if normalizedLoad > 1 {
			normalizedLoad = 1
		}
	}

	score := weightCPU*clamp01(cpu) +
		weightMemory*clamp01(mem) +
		weightIOWait*clamp01(iowait) +
		weightLoadAvg*normalizedLoad

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cpuCounters holds cumulative jiffies from /proc/stat, used to derive
// utilization deltas between samples.
type cpuCounters struct {
	busy   uint64
	iowait uint64
	total  uint64
}

// probe collects the raw inputs for one sample. On platforms without
// procfs the CPU and iowait components read as zero and the score leans
// on memory and load average.
type probe struct {
	prev    cpuCounters
	hasPrev bool
}

func (p *probe) sample(now time.Time) Sample {
	cpu, iowait := p.cpuUtilization()
	mem := memoryUtilization()
	loadavg := loadAverage()
	cores := runtime.NumCPU()

	return Sample{
		Timestamp:     now,
		CPUPercent:    cpu,
		MemoryPercent: mem,
		IOWaitPercent: iowait,
		LoadAverage:   loadavg,
		Cores:         cores,
		Score:         computeScore(cpu, mem, iowait, loadavg, cores),
	}
}

// cpuUtilization derives busy and iowait fractions from consecutive
// /proc/stat readings. The first call establishes the baseline and
// reports zero.
func (p *probe) cpuUtilization() (busy, iowait float64) {
	current, ok := readCPUCounters()
	if !ok {
		return 0, 0
	}

	defer func() {
		p.prev = current
		p.hasPrev = true
	}()

	if !p.hasPrev {
		return 0, 0
	}

	totalDelta := current.total - p.prev.total
	if totalDelta == 0 {
		return 0, 0
	}

	busy = float64(current.busy-p.prev.busy) / float64(totalDelta)
	iowait = float64(current.iowait-p.prev.iowait) / float64(totalDelta)
	return clamp01(busy), clamp01(iowait)
}

// readCPUCounters parses the aggregate cpu line of /proc/stat.
func readCPUCounters() (cpuCounters, bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return cpuCounters{}, false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 6 {
			return cpuCounters{}, false
		}

		// cpu user nice system idle iowait irq softirq steal ...
		var values []uint64
		for _, f := range fields[1:] {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return cpuCounters{}, false
			}
			values = append(values, v)
		}

		var c cpuCounters
		for i, v := range values {
			c.total += v
			switch i {
			case 3: // idle
			case 4: // iowait
				c.iowait += v
			default:
				c.busy += v
			}
		}
		return c, true
	}

	return cpuCounters{}, false
}

// memoryUtilization reads system memory pressure from /proc/meminfo,
// falling back to Go heap pressure when procfs is unavailable.
func memoryUtilization() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return goHeapUtilization()
	}

	var total, available uint64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}

	if total == 0 {
		return goHeapUtilization()
	}
	return clamp01(float64(total-available) / float64(total))
}

func goHeapUtilization() float64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.Sys == 0 {
		return 0
	}
	return clamp01(float64(stats.HeapInuse) / float64(stats.Sys))
}

// loadAverage reads the 1-minute load average; zero when unavailable.
func loadAverage() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}

	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}
