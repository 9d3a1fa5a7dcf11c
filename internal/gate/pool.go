package gate

import (
	"context"
	"sync"

	"github.com/bizmesh/beckn-gateway/internal/logging"
	"github.com/bizmesh/beckn-gateway/internal/metrics"
)

// task is one detached unit of background processing. It carries its
// message identifiers so a failure can always be traced back.
type task struct {
	transactionID string
	messageID     string
	run           func(ctx context.Context)
}

// pool runs detached processing tasks on a fixed set of workers. A task
// submitted here is independent of the originating request context: it
// is never cancelled by the request ending, and a panic inside it is
// contained and logged rather than crashing the process.
type pool struct {
	tasks  chan task
	wg     sync.WaitGroup
	logger *logging.Logger
}

func newPool(workers, queueSize int, logger *logging.Logger) *pool {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &pool{
		tasks:  make(chan task, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// submit enqueues a task without blocking. It reports false when the
// queue is full, so the caller can refuse the message before
// acknowledging it instead of losing the work afterwards.
func (p *pool) submit(t task) bool {
	select {
	case p.tasks <- t:
		metrics.ProcessingQueueDepth.Set(float64(len(p.tasks)))
		return true
	default:
		return false
	}
}

func (p *pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.runTask(t)
		metrics.ProcessingQueueDepth.Set(float64(len(p.tasks)))
	}
}

func (p *pool) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in background processing",
				logging.TransactionID(t.transactionID),
				logging.MessageID(t.messageID),
				"panic", r,
			)
		}
	}()
	t.run(context.Background())
}

// close stops accepting tasks and waits for in-flight ones to finish.
func (p *pool) close() {
	close(p.tasks)
	p.wg.Wait()
}
