package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nimasrn/voucher-gateway/pkg/logger"
)

var ErrWorkersTerminated = errors.New("workers terminated")

type WorkerHandler = func(workerIndex int, job interface{})

type WorkerManager struct {
	jobChannel     chan interface{}
	numberOfWorker int
	sigTerm        chan os.Signal
	quit           chan struct{}
	quitOnce       sync.Once
	do             WorkerHandler
	waiter         *sync.WaitGroup
}

// NewWorkerManager builds a fixed pool of goroutines draining jobChannel.
// When jobChannel is nil a buffered channel of bufferSize is created. The pool
// stops on SIGTERM or Exit; the job channel is never closed since it may be
// shared with other producers.
func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)

	return &WorkerManager{
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		sigTerm:        sigChan,
		quit:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue blocks until a worker slot in the buffer is free.
func (w *WorkerManager) Enqueue(val interface{}) {
	w.jobChannel <- val
}

// EnqueueContext blocks like Enqueue but gives up when ctx is done.
func (w *WorkerManager) EnqueueContext(ctx context.Context, val interface{}) error {
	select {
	case w.jobChannel <- val:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue reports false instead of blocking when the buffer is full.
func (w *WorkerManager) TryEnqueue(val interface{}) bool {
	select {
	case w.jobChannel <- val:
		return true
	default:
		return false
	}
}

// Start runs the workers and blocks until they are all stopped.
func (w *WorkerManager) Start() error {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.do(index, job)
				case <-w.quit:
					return
				}
			}
		}(i)
	}

	go func() {
		select {
		case <-w.sigTerm:
			w.Exit()
		case <-w.quit:
		}
		signal.Stop(w.sigTerm)
	}()

	w.waiter.Wait()
	return ErrWorkersTerminated
}

// Exit stops every worker after its current job. Safe to call more than once.
func (w *WorkerManager) Exit() {
	w.quitOnce.Do(func() {
		logger.Info("worker manager is shutting down", "workers", w.numberOfWorker)
		close(w.quit)
	})
}
