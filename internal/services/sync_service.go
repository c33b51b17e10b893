package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prudhvinik1/pharmasync/internal/models"
	"github.com/prudhvinik1/pharmasync/internal/remote"
	"github.com/prudhvinik1/pharmasync/internal/repositories"
)

// Replayer sends one queued mutation to the remote API.
type Replayer interface {
	Replay(ctx context.Context, entry *models.QueueEntry) error
}

// SyncService drains the queue against the remote API in id order, one entry
// at a time, and stops at the first entry that is not acknowledged.
type SyncService struct {
	queue  repositories.QueueRepository
	remote Replayer
	lock   repositories.SyncLock
	logger *slog.Logger

	mu      sync.Mutex
	current *pass
	rerun   bool
}

// pass is shared between the goroutine running it and every caller waiting
// on it. It runs under its own context, cancelled once all callers have
// stopped waiting.
type pass struct {
	done    chan struct{}
	result  models.SyncResult
	waiters int
	cancel  context.CancelFunc
}

type SyncOption func(*SyncService)

// WithLock serializes passes with other processes sharing the same queue.
func WithLock(lock repositories.SyncLock) SyncOption {
	return func(s *SyncService) {
		if lock != nil {
			s.lock = lock
		}
	}
}

func WithLogger(logger *slog.Logger) SyncOption {
	return func(s *SyncService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSyncService(queue repositories.QueueRepository, remote Replayer, opts ...SyncOption) *SyncService {
	s := &SyncService{
		queue:  queue,
		remote: remote,
		lock:   repositories.NoopSyncLock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSyncPass replays pending entries and reports the outcome. It never
// returns an error: failures stop the pass and are described by the result.
//
// Only one pass runs at a time. A call made while a pass is running waits for
// it and receives its result; the running pass traverses the queue once more
// so that entries enqueued in the meantime are not left behind. A caller whose
// ctx ends stops waiting and gets reason canceled; the pass itself keeps going
// while anyone else still waits on it.
func (s *SyncService) RunSyncPass(ctx context.Context) models.SyncResult {
	s.mu.Lock()
	p := s.current
	if p != nil {
		s.rerun = true
	} else {
		passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p = &pass{done: make(chan struct{}), cancel: cancel}
		s.current = p
		s.rerun = false
		go s.run(passCtx, p)
	}
	p.waiters++
	s.mu.Unlock()

	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		s.mu.Lock()
		p.waiters--
		if p.waiters == 0 {
			p.cancel()
		}
		s.mu.Unlock()
		return models.SyncResult{Reason: models.StopCanceled}
	}
}

func (s *SyncService) run(ctx context.Context, p *pass) {
	defer p.cancel()

	var total models.SyncResult
	for {
		res := s.traverse(ctx)
		total.Synced += res.Synced
		total.Stopped = res.Stopped
		total.Reason = res.Reason
		total.FailedID = res.FailedID

		s.mu.Lock()
		again := s.rerun && !res.Stopped && res.Reason == models.StopNone && ctx.Err() == nil
		s.rerun = false
		if !again {
			p.result = total
			s.current = nil
			close(p.done)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *SyncService) traverse(ctx context.Context) models.SyncResult {
	lease, ok, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logger.Error("Failed to acquire sync lock", "error", err)
		return models.SyncResult{Stopped: true, Reason: models.StopStore}
	}
	if !ok {
		s.logger.Info("Sync pass already running in another process")
		return models.SyncResult{Reason: models.StopBusy}
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release sync lock", "error", err)
		}
	}()

	entries, err := s.queue.ListPending(ctx)
	if err != nil {
		s.logger.Error("Failed to list pending entries", "error", err)
		return models.SyncResult{Stopped: true, Reason: models.StopStore}
	}
	if len(entries) == 0 {
		s.logger.Debug("No entries to sync")
		return models.SyncResult{}
	}

	s.logger.Info("Starting sync pass", "pending", len(entries))

	var result models.SyncResult
	for _, entry := range entries {
		if err := s.remote.Replay(ctx, entry); err != nil {
			result.Stopped = true
			result.Reason = classify(err)
			result.FailedID = entry.ID
			s.logFailure(entry, result.Reason, err)
			return result
		}

		// Cancellation must not interrupt removing an entry the remote has applied.
		if err := s.queue.Remove(context.WithoutCancel(ctx), entry.ID); err != nil {
			// The remote already applied this entry; it stays queued and will
			// be replayed on the next pass.
			s.logger.Error("Failed to remove synced entry",
				"id", entry.ID,
				"endpoint", entry.Endpoint,
				"error", err)
			result.Stopped = true
			result.Reason = models.StopStore
			result.FailedID = entry.ID
			return result
		}

		result.Synced++
		s.logger.Debug("Synced entry", "id", entry.ID, "method", entry.Method, "endpoint", entry.Endpoint)

		if err := lease.Extend(ctx); err != nil {
			if errors.Is(err, repositories.ErrLockLost) {
				s.logger.Warn("Sync lock taken over by another process, ending pass", "synced", result.Synced)
				result.Reason = models.StopBusy
				return result
			}
			result.Stopped = true
			result.Reason = models.StopStore
			if ctx.Err() != nil {
				result.Reason = models.StopCanceled
			}
			s.logger.Error("Failed to extend sync lock", "reason", result.Reason, "error", err)
			return result
		}
	}

	s.logger.Info("Sync pass completed", "synced", result.Synced)
	return result
}

func (s *SyncService) logFailure(entry *models.QueueEntry, reason models.StopReason, err error) {
	attrs := []any{
		"id", entry.ID,
		"method", entry.Method,
		"endpoint", entry.Endpoint,
		"reason", reason,
		"error", err,
	}

	if reason == models.StopCanceled {
		s.logger.Info("Sync pass canceled", attrs...)
		return
	}
	var httpErr *remote.HTTPError
	if errors.As(err, &httpErr) {
		attrs = append(attrs, "status", httpErr.StatusCode)
		s.logger.Error("Remote rejected entry, stopping sync pass", attrs...)
		return
	}
	s.logger.Warn("Network error during sync, will retry later", attrs...)
}

func classify(err error) models.StopReason {
	if errors.Is(err, context.Canceled) {
		return models.StopCanceled
	}
	var transportErr *remote.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.Timeout() {
			return models.StopTimeout
		}
		return models.StopTransport
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.StopTimeout
	}
	return models.StopRejected
}
