// Package service contains the gateway's core services: the transform
// worker pool, fetch orchestration, authentication, and the per-session
// MCP server factory.
package service

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/superfetch/superfetch/internal/domain/content"
	"github.com/superfetch/superfetch/internal/domain/fetch"
	"github.com/superfetch/superfetch/internal/domain/transform"
	"github.com/superfetch/superfetch/internal/port/outbound"
)

// task is one queued transform with its settlement channel. settle
// runs at most once; late results from abandoned workers are dropped.
type task struct {
	id     string
	req    transform.Request
	ctx    context.Context
	result chan taskResult
	once   sync.Once
}

type taskResult struct {
	resp *transform.Response
	err  error
}

func (t *task) settle(resp *transform.Response, err error) {
	t.once.Do(func() {
		t.result <- taskResult{resp: resp, err: err}
	})
}

// PoolConfig tunes the transform worker pool.
type PoolConfig struct {
	// MaxWorkers caps pool growth. Zero derives the cap from the
	// available parallelism.
	MaxWorkers int
	// TaskTimeout bounds one transform. Zero means the default.
	TaskTimeout time.Duration
	// Parallelism overrides the detected CPU parallelism, for tests.
	Parallelism int
}

// TransformService runs HTML-to-Markdown transforms on a bounded,
// elastically grown worker pool with FIFO admission.
//
// Worker slots are supervisor goroutines; each runs the actual
// transform in a child goroutine it can abandon. Cancellation and
// timeout settle the task immediately and leave the abandoned child to
// finish into a discarded result, so a stuck or hostile page never
// wedges a slot.
type TransformService struct {
	extractor outbound.Extractor
	converter outbound.Converter
	logger    *slog.Logger

	timeout  time.Duration
	min      int
	max      int
	queueCap int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*task
	workers int
	busy    int
	stopped bool

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewTransformService builds the pool and starts its minimum worker
// set immediately.
func NewTransformService(extractor outbound.Extractor, converter outbound.Converter, logger *slog.Logger, cfg PoolConfig) *TransformService {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = transform.DefaultTaskTimeout
	}
	max := transform.MaxCapacity(parallelism, cfg.MaxWorkers)

	s := &TransformService{
		extractor: extractor,
		converter: converter,
		logger:    logger,
		timeout:   timeout,
		min:       transform.MinCapacity(parallelism),
		max:       max,
		queueCap:  transform.QueueCapacity(max),
		stopChan:  make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	s.mu.Lock()
	for i := 0; i < s.min; i++ {
		s.spawnLocked()
	}
	s.mu.Unlock()

	return s
}

// Transform queues req and blocks until the task settles or ctx fires.
// A full queue fails immediately with queue_full; callers may fall
// back to TransformInProcess for that code only.
func (s *TransformService) Transform(ctx context.Context, req transform.Request) (*transform.Response, error) {
	t := &task{
		id:     uuid.NewString(),
		req:    req,
		ctx:    ctx,
		result: make(chan taskResult, 1),
	}
	if err := s.enqueue(t); err != nil {
		return nil, err
	}

	select {
	case res := <-t.result:
		return res.resp, res.err
	case <-ctx.Done():
		s.cancelTask(t)
		res := <-t.result
		return res.resp, res.err
	}
}

// TransformInProcess runs one transform on the caller's goroutine,
// bypassing the pool. It is the fallback when admission fails with
// queue_full.
func (s *TransformService) TransformInProcess(req transform.Request) (*transform.Response, error) {
	return s.runTransform(req)
}

// Stats returns a snapshot of the pool for health and metrics.
func (s *TransformService) Stats() transform.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transform.Stats{
		QueueDepth:    len(s.queue),
		QueueCapacity: s.queueCap,
		Workers:       s.workers,
		Busy:          s.busy,
		MaxWorkers:    s.max,
	}
}

// Stop fails queued tasks, abandons in-flight work, and waits for all
// worker slots to exit. Safe to call more than once.
func (s *TransformService) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		queued := s.queue
		s.queue = nil
		s.mu.Unlock()

		close(s.stopChan)
		s.cond.Broadcast()

		for _, t := range queued {
			t.settle(nil, fetch.NewError(fetch.CodeCanceled, "The server is shutting down."))
		}
	})
	s.wg.Wait()
}

func (s *TransformService) enqueue(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fetch.NewError(fetch.CodeServerBusy, "The server is shutting down.")
	}
	if len(s.queue) >= s.queueCap {
		return fetch.NewError(fetch.CodeQueueFull, "The transform queue is full. Try again shortly.")
	}
	s.queue = append(s.queue, t)
	// Grow by one slot when the backlog outpaces half the current
	// capacity.
	if 2*len(s.queue) > s.workers && s.workers < s.max {
		s.spawnLocked()
		s.logger.Debug("grew transform pool", "workers", s.workers, "queue_depth", len(s.queue))
	}
	s.cond.Signal()
	return nil
}

// cancelTask removes t from the queue if it has not been dispatched and
// settles it as canceled. A dispatched task is settled here too; its
// supervisor observes the same cancellation and abandons the work.
func (s *TransformService) cancelTask(t *task) {
	s.mu.Lock()
	for i, queued := range s.queue {
		if queued == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	t.settle(nil, fetch.NewError(fetch.CodeCanceled, "The request was canceled."))
}

func (s *TransformService) spawnLocked() {
	s.workers++
	s.wg.Add(1)
	go s.worker()
}

func (s *TransformService) worker() {
	defer s.wg.Done()
	for {
		t, ok := s.next()
		if !ok {
			return
		}
		s.execute(t)
		s.mu.Lock()
		s.busy--
		s.mu.Unlock()
	}
}

func (s *TransformService) next() (*task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.stopped {
		s.cond.Wait()
	}
	if s.stopped {
		return nil, false
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	s.busy++
	return t, true
}

// execute runs one task under the pool's timeout. The transform itself
// runs in a child goroutine; on cancellation, timeout, or shutdown the
// slot settles the task and moves on, leaving the child to drain into
// the settled (and therefore deaf) result.
func (s *TransformService) execute(t *task) {
	if t.ctx.Err() != nil {
		t.settle(nil, fetch.NewError(fetch.CodeCanceled, "The request was canceled."))
		return
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("transform worker panicked",
					"task_id", t.id, "panic", r, "stack", string(debug.Stack()))
				done <- taskResult{err: fetch.NewError(fetch.CodeWorkerBroken, "The transform worker failed.")}
			}
		}()
		resp, err := s.runTransform(t.req)
		done <- taskResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		t.settle(res.resp, res.err)
	case <-t.ctx.Done():
		t.settle(nil, fetch.NewError(fetch.CodeCanceled, "The request was canceled."))
		s.logger.Debug("abandoned canceled transform", "task_id", t.id)
	case <-timer.C:
		t.settle(nil, fetch.NewError(fetch.CodeWorkerTimeout, "The transform timed out."))
		s.logger.Warn("abandoned timed out transform", "task_id", t.id, "timeout", s.timeout)
	case <-s.stopChan:
		t.settle(nil, fetch.NewError(fetch.CodeCanceled, "The server is shutting down."))
	}
}

// runTransform is the actual pipeline: extract, convert, assemble.
func (s *TransformService) runTransform(req transform.Request) (*transform.Response, error) {
	result := s.extractor.Extract(req.HTML, req.URL, content.Options{
		SkipNoiseRemoval: req.SkipNoiseRemoval,
	})

	html := result.BestHTML()
	if html == "" {
		// Extraction failed outright; the converter still gets a shot
		// at the raw markup.
		html = string(req.HTML)
	}

	markdown, err := s.converter.Convert(html, req.URL)
	if err != nil {
		return nil, err
	}

	resp := &transform.Response{
		Markdown: markdown,
		Title:    result.Metadata.Title,
	}
	if req.IncludeMetadata {
		meta := result.Metadata
		meta.URL = req.URL.String()
		meta.FetchedAt = req.FetchedAt
		front, err := meta.Frontmatter()
		if err != nil {
			return nil, err
		}
		resp.Markdown = front + markdown
	}
	if req.MaxInlineChars > 0 && len(resp.Markdown) > req.MaxInlineChars {
		resp.Truncated = true
	}
	return resp, nil
}
