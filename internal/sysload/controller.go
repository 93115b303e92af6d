package sysload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/utils"
)

// Load score bands for worker adjustment. The dead zone between the
// bands provides hysteresis so the budget does not oscillate around a
// threshold.
const (
	loadHigh     = 0.8
	loadElevated = 0.6
	loadModerate = 0.4
	loadLow      = 0.2
)

// minAdjustmentGap is the minimum time between consecutive worker
// budget changes.
const minAdjustmentGap = 5 * time.Second

// loadSource supplies the load view the controller acts on and
// reports.
type loadSource interface {
	Average() float64
	Current() (Sample, bool)
	History() []Sample
}

// ControllerConfig configures the adaptive parallelism controller.
type ControllerConfig struct {
	MinWorkers     int
	MaxWorkers     int
	InitialWorkers int

	// AdjustmentInterval is how often the controller re-evaluates the
	// budget.
	AdjustmentInterval time.Duration

	Logger *utils.StructuredLogger
}

// ControllerMetrics is a snapshot of controller state for reporting.
type ControllerMetrics struct {
	CurrentWorkers int    `json:"current_workers"`
	MinWorkers     int    `json:"min_workers"`
	MaxWorkers     int    `json:"max_workers"`
	Increases      uint64 `json:"increases"`
	Decreases      uint64 `json:"decreases"`

	// CurrentLoadScore is the most recent sample's score;
	// AverageLoadScore is the smoothed score over the sample history,
	// LastLoadScore the average seen at the last evaluation.
	CurrentLoadScore float64 `json:"current_load_score"`
	AverageLoadScore float64 `json:"average_load_score"`
	LastLoadScore    float64 `json:"last_load_score"`

	HistorySize    int       `json:"history_size"`
	LastAdjustment time.Time `json:"last_adjustment"`
}

// Controller maintains the worker budget. The budget is read on the
// dispatch path, so it lives in an atomic; everything else is guarded
// by the mutex.
type Controller struct {
	config ControllerConfig
	source loadSource
	logger *utils.StructuredLogger

	workers atomic.Int64

	mu             sync.Mutex
	lastAdjustment time.Time
	lastScore      float64
	increases      atomic.Uint64
	decreases      atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewController creates a controller reading load from source. The
// initial budget is clamped into [MinWorkers, MaxWorkers].
func NewController(config ControllerConfig, source loadSource) *Controller {
	if config.MinWorkers < 1 {
		config.MinWorkers = 1
	}
	if config.MaxWorkers < config.MinWorkers {
		config.MaxWorkers = config.MinWorkers
	}
	if config.AdjustmentInterval <= 0 {
		config.AdjustmentInterval = minAdjustmentGap
	}

	c := &Controller{
		config: config,
		source: source,
		logger: config.Logger.WithComponent("parallelism"),
		stopCh: make(chan struct{}),
	}
	c.workers.Store(int64(c.clamp(config.InitialWorkers)))
	return c
}

// Start launches the periodic adjustment loop.
func (c *Controller) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.active, 0, 1) {
		return sgerrors.NewError(sgerrors.ErrCodeAlreadyStarted, "parallelism controller already running")
	}

	c.logger.Info("starting parallelism controller", map[string]interface{}{
		"min":     c.config.MinWorkers,
		"max":     c.config.MaxWorkers,
		"initial": c.Workers(),
	})

	c.wg.Add(1)
	go c.loop(ctx)
	return nil
}

// Stop halts the adjustment loop.
func (c *Controller) Stop() {
	if !atomic.CompareAndSwapInt32(&c.active, 1, 0) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Controller) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.AdjustmentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Evaluate(time.Now())
		}
	}
}

// Workers returns the current budget. Safe to call from any goroutine.
func (c *Controller) Workers() int {
	return int(c.workers.Load())
}

// SetWorkers overrides the budget directly, clamped into bounds.
func (c *Controller) SetWorkers(n int) {
	c.workers.Store(int64(c.clamp(n)))
}

// Evaluate reads the smoothed load score and adjusts the budget by the
// band it falls in. Adjustments are rate limited; calls inside the gap
// only record the score.
func (c *Controller) Evaluate(now time.Time) {
	score := c.source.Average()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastScore = score

	if now.Sub(c.lastAdjustment) < minAdjustmentGap {
		return
	}

	current := int(c.workers.Load())
	target := current

	switch {
	case score > loadHigh:
		target = scaleDown(current, 3, 4)
	case score > loadElevated:
		target = scaleDown(current, 4, 5)
	case score < loadLow:
		target = scaleUp(current, 5, 4)
	case score < loadModerate:
		target = scaleUp(current, 6, 5)
	}

	target = c.clamp(target)
	if target == current {
		return
	}

	c.workers.Store(int64(target))
	c.lastAdjustment = now
	if target > current {
		c.increases.Add(1)
	} else {
		c.decreases.Add(1)
	}

	c.logger.Info("worker budget adjusted", map[string]interface{}{
		"load_score": score,
		"from":       current,
		"to":         target,
	})
}

// Metrics returns a snapshot of controller state.
func (c *Controller) Metrics() ControllerMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current float64
	if sample, ok := c.source.Current(); ok {
		current = sample.Score
	}

	return ControllerMetrics{
		CurrentWorkers:   int(c.workers.Load()),
		MinWorkers:       c.config.MinWorkers,
		MaxWorkers:       c.config.MaxWorkers,
		Increases:        c.increases.Load(),
		Decreases:        c.decreases.Load(),
		CurrentLoadScore: current,
		AverageLoadScore: c.source.Average(),
		LastLoadScore:    c.lastScore,
		HistorySize:      len(c.source.History()),
		LastAdjustment:   c.lastAdjustment,
	}
}

func (c *Controller) clamp(n int) int {
	if n < c.config.MinWorkers {
		return c.config.MinWorkers
	}
	if n > c.config.MaxWorkers {
		return c.config.MaxWorkers
	}
	return n
}

// scaleDown multiplies by num/den (num < den), always shrinking by at
// least one so high load cannot stall at a plateau above the minimum.
func scaleDown(current, num, den int) int {
	target := current * num / den
	if target >= current {
		target = current - 1
	}
	return target
}

// scaleUp multiplies by num/den (num > den), always growing by at
// least one.
func scaleUp(current, num, den int) int {
	target := current * num / den
	if target <= current {
		target = current + 1
	}
	return target
}
