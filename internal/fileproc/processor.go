package fileproc

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/scanguard/scanguard/internal/pool"
	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/utils"
)

// DefaultMmapThreshold is the file size at which reads switch from
// buffered I/O to memory mapping.
const DefaultMmapThreshold = 10 * 1024 * 1024

// BudgetSource supplies the live worker budget. The budget is read
// once per batch; mid-batch adjustments apply to the next batch.
type BudgetSource interface {
	Workers() int
}

// staticBudget is the fallback when no controller is wired in.
type staticBudget int

func (b staticBudget) Workers() int { return int(b) }

// StaticBudget returns a fixed-size budget source.
func StaticBudget(n int) BudgetSource {
	if n < 1 {
		n = 1
	}
	return staticBudget(n)
}

// File is one file handed to a batch handler. Content is only valid
// for the duration of the handler call: it may be a memory mapping or
// a pooled buffer that is recycled afterwards.
type File struct {
	Path    string
	Content []byte
	Info    os.FileInfo
	Mapped  bool
}

// Handler processes one file's content. Returning an error marks the
// file failed without affecting the rest of the batch.
type Handler func(ctx context.Context, f File) error

// Failure records a file that could not be read or processed.
type Failure struct {
	Path string
	Err  error
}

// BatchResult summarizes one Process call.
type BatchResult struct {
	Processed int
	Failures  []Failure
	Elapsed   time.Duration
}

// Config configures the processor.
type Config struct {
	// MmapThreshold is the minimum file size for memory mapping.
	MmapThreshold int64

	// MaxFileSize rejects files larger than this; zero disables the
	// limit.
	MaxFileSize int64

	Logger *utils.StructuredLogger
}

// Processor reads files concurrently under a worker budget.
type Processor struct {
	config Config
	budget BudgetSource
	logger *utils.StructuredLogger
	bufs   *pool.BytePool
}

// New creates a processor drawing its concurrency from budget.
func New(config Config, budget BudgetSource) *Processor {
	if config.MmapThreshold <= 0 {
		config.MmapThreshold = DefaultMmapThreshold
	}
	if budget == nil {
		budget = StaticBudget(1)
	}

	return &Processor{
		config: config,
		budget: budget,
		logger: config.Logger.WithComponent("fileproc"),
		bufs:   pool.NewBytePool(),
	}
}

// Process reads every path and invokes handler on its content. Reads
// run concurrently, bounded by the budget in effect when the batch
// starts. Individual failures are collected; only context cancellation
// stops the batch early.
func (p *Processor) Process(ctx context.Context, paths []string, handler Handler) BatchResult {
	start := time.Now()

	workers := p.budget.Workers()
	if workers < 1 {
		workers = 1
	}

	p.logger.Debug("starting file batch", map[string]interface{}{
		"files":   len(paths),
		"workers": workers,
	})

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	result := BatchResult{}

	for _, path := range paths {
		select {
		case <-ctx.Done():
			mu.Lock()
			result.Failures = append(result.Failures, Failure{
				Path: path,
				Err:  sgerrors.Wrap(ctx.Err(), sgerrors.ErrCodeOperationCanceled, "batch canceled"),
			})
			mu.Unlock()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := p.processOne(ctx, path, handler)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, Failure{Path: path, Err: err})
			} else {
				result.Processed++
			}
		}(path)
	}

	wg.Wait()
	result.Elapsed = time.Since(start)

	p.logger.Debug("file batch complete", map[string]interface{}{
		"processed": result.Processed,
		"failed":    len(result.Failures),
		"elapsed":   result.Elapsed.String(),
	})
	return result
}

func (p *Processor) processOne(ctx context.Context, path string, handler Handler) error {
	f, release, err := p.Read(path)
	if err != nil {
		return err
	}
	defer release()

	return handler(ctx, f)
}

// Read loads one file, choosing mmap or a pooled buffer by size. The
// returned release func must be called when the content is no longer
// needed; it unmaps or recycles the buffer.
func (p *Processor) Read(path string) (File, func(), error) {
	noop := func() {}

	info, err := os.Stat(path)
	if err != nil {
		return File{}, noop, sgerrors.Wrap(err, sgerrors.ErrCodeFileNotFound,
			fmt.Sprintf("stat failed for %s", path))
	}
	if !info.Mode().IsRegular() {
		return File{}, noop, sgerrors.NewError(sgerrors.ErrCodePathInvalid,
			fmt.Sprintf("%s is not a regular file", path))
	}
	if p.config.MaxFileSize > 0 && info.Size() > p.config.MaxFileSize {
		return File{}, noop, sgerrors.NewError(sgerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s exceeds size limit (%d > %d)", path, info.Size(), p.config.MaxFileSize))
	}

	if info.Size() >= p.config.MmapThreshold {
		content, unmap, err := mapFile(path, info.Size())
		if err != nil {
			return File{}, noop, sgerrors.Wrap(err, sgerrors.ErrCodeFileRead,
				fmt.Sprintf("mmap failed for %s", path))
		}
		return File{Path: path, Content: content, Info: info, Mapped: true}, unmap, nil
	}

	return p.readBuffered(path, info)
}

func (p *Processor) readBuffered(path string, info os.FileInfo) (File, func(), error) {
	noop := func() {}

	file, err := os.Open(path)
	if err != nil {
		return File{}, noop, sgerrors.Wrap(err, sgerrors.ErrCodeFileRead,
			fmt.Sprintf("open failed for %s", path))
	}
	defer func() { _ = file.Close() }()

	size := int(info.Size())
	buf := p.bufs.Get(size)

	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		p.bufs.Put(buf)
		return File{}, noop, sgerrors.Wrap(err, sgerrors.ErrCodeFileRead,
			fmt.Sprintf("read failed for %s", path))
	}

	content := buf[:n]
	release := func() { p.bufs.Put(buf) }
	return File{Path: path, Content: content, Info: info}, release, nil
}
