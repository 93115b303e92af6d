package sysload

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/scanguard/scanguard/pkg/utils"
)

func testLogger() *utils.StructuredLogger {
	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Level = utils.ERROR
	return utils.NewStructuredLogger(cfg)
}

type fixedLoad struct {
	score   float64
	history int
}

func (f *fixedLoad) Average() float64 { return f.score }

func (f *fixedLoad) Current() (Sample, bool) {
	if f.history == 0 {
		return Sample{}, false
	}
	return Sample{Score: f.score, Timestamp: time.Now()}, true
}

func (f *fixedLoad) History() []Sample {
	return make([]Sample, f.history)
}

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name    string
		cpu     float64
		mem     float64
		iowait  float64
		loadavg float64
		cores   int
		want    float64
	}{
		{"idle", 0, 0, 0, 0, 8, 0},
		{"saturated", 1, 1, 1, 8, 8, 1},
		{"cpu only", 1, 0, 0, 0, 8, 0.4},
		{"memory only", 0, 1, 0, 0, 8, 0.3},
		{"iowait only", 0, 0, 1, 0, 8, 0.2},
		{"loadavg caps at cores", 0, 0, 0, 100, 4, 0.1},
		{"mixed", 0.5, 0.5, 0.5, 2, 4, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeScore(tt.cpu, tt.mem, tt.iowait, tt.loadavg, tt.cores)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("computeScore = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestComputeScoreClampsInputs(t *testing.T) {
	got := computeScore(3.0, -1.0, 2.0, 0, 0)
	if got < 0 || got > 1 {
		t.Errorf("score %f outside [0,1]", got)
	}
}

func TestProbeSampleIsSane(t *testing.T) {
	var p probe

	// First call establishes the CPU baseline.
	first := p.sample(time.Now())
	if first.CPUPercent != 0 || first.IOWaitPercent != 0 {
		t.Errorf("baseline sample reported CPU activity: %+v", first)
	}

	second := p.sample(time.Now())
	if second.Score < 0 || second.Score > 1 {
		t.Errorf("score %f outside [0,1]", second.Score)
	}
	if second.Cores < 1 {
		t.Errorf("cores = %d", second.Cores)
	}
}

func TestSamplerHistoryBounded(t *testing.T) {
	cfg := DefaultSamplerConfig(testLogger())
	cfg.MaxHistory = 5
	s := NewSampler(cfg)

	for i := 0; i < 12; i++ {
		s.Collect()
	}

	history := s.History()
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}

	// Oldest first.
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Error("history not in chronological order")
		}
	}

	if _, ok := s.Current(); !ok {
		t.Error("Current reported no samples")
	}
}

func TestSamplerAverageEmpty(t *testing.T) {
	s := NewSampler(DefaultSamplerConfig(testLogger()))
	if avg := s.Average(); avg != 0 {
		t.Errorf("average with no samples = %f, want 0", avg)
	}
}

func TestSamplerStartStop(t *testing.T) {
	cfg := DefaultSamplerConfig(testLogger())
	cfg.SampleInterval = 10 * time.Millisecond
	s := NewSampler(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent

	if len(s.History()) == 0 {
		t.Error("no samples collected while running")
	}
}

func controllerConfig(min, max, initial int) ControllerConfig {
	return ControllerConfig{
		MinWorkers:     min,
		MaxWorkers:     max,
		InitialWorkers: initial,
		Logger:         testLogger(),
	}
}

func TestControllerAdjustmentBands(t *testing.T) {
	tests := []struct {
		name    string
		score   float64
		initial int
		want    int
	}{
		{"high load shrinks by quarter", 0.9, 16, 12},
		{"elevated load shrinks by fifth", 0.7, 10, 8},
		{"dead zone holds", 0.5, 10, 10},
		{"moderate headroom grows by fifth", 0.3, 10, 12},
		{"low load grows by quarter", 0.1, 8, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fixedLoad{score: tt.score}
			c := NewController(controllerConfig(1, 32, tt.initial), source)

			c.Evaluate(time.Now().Add(time.Minute))
			if got := c.Workers(); got != tt.want {
				t.Errorf("workers = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestControllerBudgetStaysInBounds(t *testing.T) {
	source := &fixedLoad{score: 0.95}
	c := NewController(controllerConfig(2, 16, 16), source)

	// Sustained high load must walk the budget down to the floor and
	// never below it.
	now := time.Now()
	prev := c.Workers()
	for i := 0; i < 20; i++ {
		now = now.Add(minAdjustmentGap + time.Second)
		c.Evaluate(now)

		got := c.Workers()
		if got > prev {
			t.Fatalf("budget rose under high load: %d -> %d", prev, got)
		}
		if got < 2 {
			t.Fatalf("budget %d below minimum", got)
		}
		prev = got
	}
	if c.Workers() != 2 {
		t.Errorf("budget = %d after sustained load, want floor 2", c.Workers())
	}

	// Flip to idle and walk back to the ceiling.
	source.score = 0.05
	for i := 0; i < 20; i++ {
		now = now.Add(minAdjustmentGap + time.Second)
		c.Evaluate(now)
		if c.Workers() > 16 {
			t.Fatalf("budget %d above maximum", c.Workers())
		}
	}
	if c.Workers() != 16 {
		t.Errorf("budget = %d after sustained idle, want ceiling 16", c.Workers())
	}

	m := c.Metrics()
	if m.Decreases == 0 || m.Increases == 0 {
		t.Errorf("metrics did not record adjustments: %+v", m)
	}
}

func TestControllerRateLimit(t *testing.T) {
	source := &fixedLoad{score: 0.9}
	c := NewController(controllerConfig(1, 32, 16), source)

	now := time.Now().Add(time.Minute)
	c.Evaluate(now)
	first := c.Workers()
	if first >= 16 {
		t.Fatalf("expected shrink, workers = %d", first)
	}

	// Within the gap nothing changes even though load is still high.
	c.Evaluate(now.Add(time.Second))
	if c.Workers() != first {
		t.Error("budget changed inside the adjustment gap")
	}

	c.Evaluate(now.Add(minAdjustmentGap + time.Second))
	if c.Workers() >= first {
		t.Error("budget did not shrink after the gap elapsed")
	}
}

func TestControllerSetWorkersClamps(t *testing.T) {
	c := NewController(controllerConfig(2, 8, 4), &fixedLoad{})

	c.SetWorkers(100)
	if c.Workers() != 8 {
		t.Errorf("workers = %d, want clamp to 8", c.Workers())
	}

	c.SetWorkers(0)
	if c.Workers() != 2 {
		t.Errorf("workers = %d, want clamp to 2", c.Workers())
	}
}

func TestControllerInitialClamp(t *testing.T) {
	c := NewController(controllerConfig(4, 8, 64), &fixedLoad{})
	if c.Workers() != 8 {
		t.Errorf("initial workers = %d, want 8", c.Workers())
	}
}

func TestControllerMinimumShrinkStep(t *testing.T) {
	// At 2 workers, 2*3/4 truncates to 1; the budget must still move.
	source := &fixedLoad{score: 0.9}
	c := NewController(controllerConfig(1, 32, 2), source)

	c.Evaluate(time.Now().Add(time.Minute))
	if c.Workers() != 1 {
		t.Errorf("workers = %d, want 1", c.Workers())
	}
}

func TestControllerMetricsSnapshot(t *testing.T) {
	source := &fixedLoad{score: 0.9, history: 7}
	c := NewController(controllerConfig(1, 32, 8), source)

	c.Evaluate(time.Now().Add(time.Minute))
	m := c.Metrics()

	if m.CurrentWorkers != c.Workers() {
		t.Errorf("current workers = %d, want %d", m.CurrentWorkers, c.Workers())
	}
	if m.MinWorkers != 1 || m.MaxWorkers != 32 {
		t.Errorf("bounds = [%d, %d], want [1, 32]", m.MinWorkers, m.MaxWorkers)
	}
	if m.CurrentLoadScore != 0.9 || m.AverageLoadScore != 0.9 {
		t.Errorf("scores = current %.2f average %.2f, want 0.9 both",
			m.CurrentLoadScore, m.AverageLoadScore)
	}
	if m.LastLoadScore != 0.9 {
		t.Errorf("last score = %.2f, want 0.9", m.LastLoadScore)
	}
	if m.HistorySize != 7 {
		t.Errorf("history size = %d, want 7", m.HistorySize)
	}
	if m.Decreases != 1 {
		t.Errorf("decreases = %d, want 1", m.Decreases)
	}
}
