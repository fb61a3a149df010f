package nn

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Scheduler batches evaluation requests. Outside Run it is observably
// synchronous: Evaluate runs the model on a batch of one and returns with
// the reply applied. Inside Run it is cooperative: up to batchSize tasks
// run one at a time in a single goroutine's worth of concurrency, each
// suspending only inside Evaluate or Yield. A batch is flushed when it is
// full, or when every live task is suspended waiting on it.
type Scheduler struct {
	model       Model
	transformer Transformer
	batchSize   int

	running  bool
	current  *task
	runnable []*task
	waiting  []*task
	requests []Request

	control chan struct{}
}

type task struct {
	resume chan struct{}
}

func NewScheduler(model Model, transformer Transformer, batchSize int) *Scheduler {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Scheduler{
		model:       model,
		transformer: transformer,
		batchSize:   batchSize,
		control:     make(chan struct{}),
	}
}

// Evaluate submits a request and returns once the reply has been applied.
// Cooperative tasks suspend here; callers outside Run get a direct
// single-sample evaluation.
func (s *Scheduler) Evaluate(req Request) {
	if s.current == nil {
		s.predict([]Request{req})
		return
	}

	t := s.current
	s.requests = append(s.requests, req)
	s.waiting = append(s.waiting, t)
	s.handBack()
	<-t.resume
}

// Yield hands control to the next runnable task. A no-op outside Run.
func (s *Scheduler) Yield() {
	if s.current == nil {
		return
	}

	t := s.current
	s.runnable = append(s.runnable, t)
	s.handBack()
	<-t.resume
}

// FlushPending forces evaluation of the pending partial batch from
// inside a running task. Needed when the caller is shutting down and the
// waiting tasks would otherwise never fill the batch.
func (s *Scheduler) FlushPending() {
	if s.current == nil || len(s.requests) == 0 {
		return
	}
	s.flush()
}

// AddRunnable queues fn as a new cooperative task. It will not start
// executing until the dispatcher schedules it.
func (s *Scheduler) AddRunnable(fn func()) {
	s.spawn(fn)
}

func (s *Scheduler) handBack() {
	s.current = nil
	s.control <- struct{}{}
}

func (s *Scheduler) spawn(fn func()) {
	t := &task{resume: make(chan struct{})}
	go func() {
		<-t.resume
		fn()
		s.handBack()
	}()
	s.runnable = append(s.runnable, t)
}

// Run executes main as the first cooperative task and dispatches until
// every task has finished. Only one task executes at any instant, so the
// tasks share state without locks.
func (s *Scheduler) Run(main func()) {
	if s.running {
		panic("scheduler is already running")
	}
	s.running = true
	defer func() { s.running = false }()

	s.spawn(main)

	for {
		if len(s.requests) > 0 &&
			(len(s.requests) >= s.batchSize || len(s.runnable) == 0) {
			s.flush()
		}

		if len(s.runnable) == 0 {
			if len(s.waiting) == 0 {
				return
			}
			continue
		}

		t := s.runnable[0]
		s.runnable = s.runnable[1:]
		s.current = t
		t.resume <- struct{}{}
		<-s.control
	}
}

// flush evaluates the pending batch and makes its tasks runnable again.
// Resumed tasks go to the front so descents in progress finish before new
// ones begin.
func (s *Scheduler) flush() {
	requests := s.requests
	resumed := s.waiting
	s.requests = nil
	s.waiting = nil

	s.predict(requests)
	s.runnable = append(resumed, s.runnable...)
}

func (s *Scheduler) predict(requests []Request) {
	size := s.transformer.ChannelSize()
	input := make([]float32, len(requests)*size)
	for i, req := range requests {
		req.ToChannels(s.transformer, input[i*size:(i+1)*size])
	}

	results, err := s.model.Predict(input, len(requests))
	if err != nil {
		// The core has no recovery path for a missing reply.
		panic(errors.Wrap(err, "network evaluation failed"))
	}
	if len(results) != len(requests) {
		log.Error().Msgf("model returned %d results for %d requests", len(results), len(requests))
		panic("model reply count mismatch")
	}

	for i, req := range requests {
		req.Reply(results[i], s.transformer)
	}
}
