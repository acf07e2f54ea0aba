// Delayed background jobs, run in-process.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrShutdown = errors.New("scheduler is shut down")

type Handler func(ctx context.Context, payload []byte) error

// Runs named jobs after a delay. Scheduling is fire-and-forget: job failures are logged and counted, never returned to the caller that scheduled them.
//
// Pending jobs do not survive a process restart.
type Scheduler struct {
	Logger *slog.Logger
	// upper bound on a single job run
	JobTimeout time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*time.Timer
	closed   bool
	wg       sync.WaitGroup
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Logger:     logger.With("component", "jobs"),
		JobTimeout: 5 * time.Minute,
		handlers:   map[string]Handler{},
		pending:    map[string]*time.Timer{},
	}
}

func (s *Scheduler) Register(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

func (s *Scheduler) Schedule(ctx context.Context, name string, payload []byte, delay time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrShutdown
	}
	h, ok := s.handlers[name]
	if !ok {
		return "", fmt.Errorf("no handler registered for job: %s", name)
	}

	id := uuid.NewString()
	s.wg.Add(1)
	s.pending[id] = time.AfterFunc(delay, func() {
		s.run(id, name, h, payload)
	})
	jobsScheduled.WithLabelValues(name).Inc()
	return id, nil
}

func (s *Scheduler) run(id, name string, h Handler, payload []byte) {
	defer s.wg.Done()
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	logger := s.Logger.With("job", name, "id", id)
	ctx, cancel := context.WithTimeout(context.Background(), s.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panic", "err", r)
			jobsRun.WithLabelValues(name, "panic").Inc()
		}
	}()

	start := time.Now()
	if err := h(ctx, payload); err != nil {
		logger.Error("job failed", "err", err)
		jobsRun.WithLabelValues(name, "error").Inc()
		return
	}
	logger.Info("job finished", "duration", time.Since(start))
	jobsRun.WithLabelValues(name, "ok").Inc()
}

// Cancels a pending job. Returns false if the job already started or does not exist.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[id]
	if !ok || !t.Stop() {
		return false
	}
	delete(s.pending, id)
	s.wg.Done()
	return true
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Drops pending jobs and waits for running ones to finish, or for the context to be done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	dropped := 0
	for id, t := range s.pending {
		if t.Stop() {
			delete(s.pending, id)
			s.wg.Done()
			dropped++
		}
	}
	s.mu.Unlock()
	if dropped > 0 {
		s.Logger.Warn("dropped pending jobs at shutdown", "count", dropped)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
