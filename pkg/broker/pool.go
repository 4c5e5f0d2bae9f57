package broker

import (
	"log/slog"
	"sync"
)

// DefaultPoolSize is the default number of publish workers.
const DefaultPoolSize = 10

// workerPool runs publish processing off the broker's IO goroutines.
// Submit never blocks; when the queue is full the task is dropped with a
// warning rather than stalling packet delivery.
type workerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

func newWorkerPool(size int, logger *slog.Logger) *workerPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &workerPool{
		tasks:  make(chan func(), size*16),
		logger: logger,
	}
}

func (p *workerPool) start(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	if size <= 0 {
		size = DefaultPoolSize
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
}

// submit queues a task for a worker. Drops the task when the queue is full.
func (p *workerPool) submit(task func()) {
	select {
	case p.tasks <- task:
	default:
		p.logger.Warn("publish worker queue full, dropping task")
	}
}

// stop drains the queue and waits for the workers to exit.
func (p *workerPool) stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.tasks)
	p.wg.Wait()
}
