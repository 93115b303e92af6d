package sysload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/utils"
)

// SamplerConfig configures the background load sampler.
type SamplerConfig struct {
	// SampleInterval is how often to collect a load sample.
	SampleInterval time.Duration

	// MaxHistory bounds the sample window used for averaging.
	MaxHistory int

	Logger *utils.StructuredLogger
}

// DefaultSamplerConfig returns the standard sampler settings.
func DefaultSamplerConfig(logger *utils.StructuredLogger) SamplerConfig {
	return SamplerConfig{
		SampleInterval: 2 * time.Second,
		MaxHistory:     10,
		Logger:         logger,
	}
}

// Sampler collects load samples on a fixed interval and keeps a bounded
// history window.
type Sampler struct {
	config SamplerConfig
	logger *utils.StructuredLogger

	mu      sync.RWMutex
	probe   probe
	history []Sample

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// NewSampler creates a load sampler. It does not start sampling.
func NewSampler(config SamplerConfig) *Sampler {
	if config.SampleInterval <= 0 {
		config.SampleInterval = 2 * time.Second
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = 10
	}

	return &Sampler{
		config: config,
		logger: config.Logger.WithComponent("sysload"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background sampling loop. A second Start while
// running is an error.
func (s *Sampler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.active, 0, 1) {
		return sgerrors.NewError(sgerrors.ErrCodeAlreadyStarted, "load sampler already running")
	}

	s.logger.Info("starting load sampler", map[string]interface{}{
		"interval":    s.config.SampleInterval.String(),
		"max_history": s.config.MaxHistory,
	})

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop halts the sampling loop and waits for it to exit. Stopping a
// stopped sampler is a no-op.
func (s *Sampler) Stop() {
	if !atomic.CompareAndSwapInt32(&s.active, 1, 0) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SampleInterval)
	defer ticker.Stop()

	// Establish the CPU counter baseline immediately.
	s.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			sample := s.Collect()
			s.logger.Debug("load sample", map[string]interface{}{
				"score":   sample.Score,
				"cpu":     sample.CPUPercent,
				"io_wait": sample.IOWaitPercent,
			})
		}
	}
}

// Collect takes one sample and appends it to the history window,
// evicting the oldest sample when the window is full.
func (s *Sampler) Collect() Sample {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sample := s.probe.sample(now)
	s.history = append(s.history, sample)
	if len(s.history) > s.config.MaxHistory {
		s.history = s.history[1:]
	}
	return sample
}

// Current returns the most recent sample; ok is false before the first
// collection.
func (s *Sampler) Current() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return Sample{}, false
	}
	return s.history[len(s.history)-1], true
}

// Average returns the mean load score across the history window; zero
// before any samples exist.
func (s *Sampler) Average() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return 0
	}

	sum := 0.0
	for _, sample := range s.history {
		sum += sample.Score
	}
	return sum / float64(len(s.history))
}

// History returns a copy of the sample window, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sample, len(s.history))
	copy(out, s.history)
	return out
}
