package chain

import (
	"context"
	"sync"
	"time"

	"github.com/wyvernnet/sncore/log"
)

// MemoryMaintainer runs a single-worker recurring compaction task: every
// interval, enqueue one run of migrateOldBlocks. Only one run is ever in
// flight; a tick that lands while a run is still going is simply dropped.
type MemoryMaintainer struct {
	dal      DAL
	interval time.Duration
	mx       *Metrics
	log      *log.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMemoryMaintainer builds a maintainer that calls dal.MigrateOldBlocks
// every interval once started.
func NewMemoryMaintainer(dal DAL, interval time.Duration, mx *Metrics) *MemoryMaintainer {
	return &MemoryMaintainer{dal: dal, interval: interval, mx: mx, log: log.Default().Module("memory")}
}

// RegularCleanMemory starts the periodic background task. Calling it again
// while already running is a no-op.
func (mm *MemoryMaintainer) RegularCleanMemory(ctx context.Context) {
	mm.mu.Lock()
	if mm.cancel != nil {
		mm.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	mm.cancel = cancel
	mm.done = make(chan struct{})
	mm.mu.Unlock()

	go mm.loop(workerCtx)
}

func (mm *MemoryMaintainer) loop(ctx context.Context) {
	defer close(mm.done)
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mm.runOnce(ctx)
		}
	}
}

func (mm *MemoryMaintainer) runOnce(ctx context.Context) {
	mm.mu.Lock()
	if mm.running {
		mm.mu.Unlock()
		return
	}
	mm.running = true
	mm.mu.Unlock()

	defer func() {
		mm.mu.Lock()
		mm.running = false
		mm.mu.Unlock()
	}()

	if err := mm.dal.MigrateOldBlocks(ctx); err != nil {
		mm.log.Warn("memory clean run failed", "error", err)
		return
	}
	if mm.mx != nil {
		mm.mx.MemoryCleanRuns.Inc()
	}
}

// StopCleanMemory cancels the periodic task and waits for any in-flight
// run to finish.
func (mm *MemoryMaintainer) StopCleanMemory() {
	mm.mu.Lock()
	cancel := mm.cancel
	done := mm.done
	mm.cancel = nil
	mm.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
