package streaming

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/playout-media/playout/internal/models"
)

// AdmitResult is the outcome of offering a job to the pool.
type AdmitResult int

const (
	// AdmitAccepted means an encode slot was free and the job started.
	AdmitAccepted AdmitResult = iota
	// AdmitQueued means the job is waiting for a slot.
	AdmitQueued
	// AdmitRejected means slots and queue are both full.
	AdmitRejected
)

// String returns the admit result name.
func (r AdmitResult) String() string {
	switch r {
	case AdmitAccepted:
		return "accepted"
	case AdmitQueued:
		return "queued"
	case AdmitRejected:
		return "rejected"
	}
	return "unknown"
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	Capacity int `json:"capacity"`
	Running  int `json:"running"`
	Queued   int `json:"queued"`
}

// queueEntry is one waiting job. seq is the admission order; prio marks
// jobs a client is actively waiting on.
type queueEntry struct {
	job  *Job
	seq  uint64
	prio bool
}

// WorkerPool bounds concurrent encodes. Admission grants a free slot
// immediately, queues FIFO up to the queue depth, and rejects beyond it.
// Finished jobs promote the head of the queue.
type WorkerPool struct {
	capacity   int
	queueDepth int
	logger     *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	running map[models.ULID]*Job
	queue   []*queueEntry
	seq     uint64
	closed  bool

	wg sync.WaitGroup
}

// NewWorkerPool creates a pool with the given slot capacity and queue depth.
func NewWorkerPool(capacity, queueDepth int, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		capacity:   capacity,
		queueDepth: queueDepth,
		logger:     logger.With(slog.String("component", "worker_pool")),
		ctx:        context.Background(),
		running:    make(map[models.ULID]*Job),
	}
}

// Start sets the base context jobs run under.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
}

// Admit offers a job to the pool.
func (p *WorkerPool) Admit(job *Job) (AdmitResult, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return AdmitRejected, ErrResourceExhausted
	}

	if len(p.running) < p.capacity {
		p.startLocked(job)
		p.mu.Unlock()
		p.logger.Debug("job admitted", slog.String("job_id", job.ID.String()))
		return AdmitAccepted, nil
	}

	if len(p.queue) < p.queueDepth {
		p.seq++
		p.queue = append(p.queue, &queueEntry{job: job, seq: p.seq})
		queued := len(p.queue)
		p.mu.Unlock()
		p.logger.Debug("job queued",
			slog.String("job_id", job.ID.String()),
			slog.Int("queue_depth", queued),
		)
		return AdmitQueued, nil
	}

	p.mu.Unlock()
	p.logger.Warn("job rejected, pool exhausted", slog.String("job_id", job.ID.String()))
	return AdmitRejected, ErrResourceExhausted
}

// Bump promotes a queued job into the priority band ahead of unbumped
// jobs. Called when a client is actively waiting on the job's output.
// Within the band admission order still holds, so bumping never inverts
// order among jobs of equal priority.
func (p *WorkerPool) Bump(jobID models.ULID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.queue {
		if e.job.ID != jobID {
			continue
		}
		if e.prio {
			return
		}
		e.prio = true
		sort.SliceStable(p.queue, func(i, j int) bool {
			if p.queue[i].prio != p.queue[j].prio {
				return p.queue[i].prio
			}
			return p.queue[i].seq < p.queue[j].seq
		})
		return
	}
}

// Stats returns current occupancy.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity: p.capacity,
		Running:  len(p.running),
		Queued:   len(p.queue),
	}
}

// startLocked launches a job on a slot. Callers hold mu.
func (p *WorkerPool) startLocked(job *Job) {
	p.running[job.ID] = job
	ctx := p.ctx

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		job.Run(ctx)
		p.release(job.ID)
	}()
}

// release frees a slot and promotes the next runnable queued job.
func (p *WorkerPool) release(jobID models.ULID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.running, jobID)

	if p.closed {
		return
	}

	for len(p.queue) > 0 && len(p.running) < p.capacity {
		next := p.queue[0].job
		p.queue = p.queue[1:]
		// Jobs cancelled while queued are already terminal.
		if next.State().Terminal() {
			continue
		}
		p.startLocked(next)
	}
}

// Shutdown cancels every job and waits for running ones to finish, bounded
// by the context.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	queued := p.queue
	p.queue = nil
	running := make([]*Job, 0, len(p.running))
	for _, job := range p.running {
		running = append(running, job)
	}
	p.mu.Unlock()

	for _, e := range queued {
		e.job.Cancel()
	}
	for _, job := range running {
		job.Cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
