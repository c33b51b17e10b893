package services

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prudhvinik1/pharmasync/internal/models"
)

const (
	DefaultSyncTag       = "sync-forms"
	DefaultProbeInterval = 30 * time.Second
)

var (
	// ErrSyncUnavailable is returned by Register when no scheduler loop is
	// running. Queued entries are kept and sync once it is.
	ErrSyncUnavailable  = errors.New("background sync is not available")
	ErrSchedulerRunning = errors.New("sync scheduler already started")
)

// Syncer runs one sync pass.
type Syncer interface {
	RunSyncPass(ctx context.Context) models.SyncResult
}

// Pinger reports whether the remote API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncScheduler holds sync registrations by tag and fires them once the
// remote API is reachable. A registration can fire more than once; the
// Syncer is expected to tolerate that.
type SyncScheduler struct {
	syncer        Syncer
	pinger        Pinger
	tag           string
	interval      time.Duration
	logger        *slog.Logger
	registerStart bool
	now           func() time.Time

	mu           sync.Mutex
	pending      map[string]struct{}
	active       bool
	wake         chan struct{}
	cancelFunc   context.CancelFunc
	done         chan struct{}
	connectivity models.Connectivity
	lastProbe    time.Time
	lastPassAt   time.Time
	lastPass     *models.SyncResult
}

type SchedulerOption func(*SyncScheduler)

func WithSyncTag(tag string) SchedulerOption {
	return func(s *SyncScheduler) {
		if tag != "" {
			s.tag = tag
		}
	}
}

// WithProbeInterval sets how often pending registrations are retried.
func WithProbeInterval(d time.Duration) SchedulerOption {
	return func(s *SyncScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRegisterOnStart registers the default tag when the loop starts, so a
// queue left over from a previous run is retried on startup.
func WithRegisterOnStart() SchedulerOption {
	return func(s *SyncScheduler) {
		s.registerStart = true
	}
}

func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *SyncScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSyncScheduler(syncer Syncer, pinger Pinger, opts ...SchedulerOption) *SyncScheduler {
	s := &SyncScheduler{
		syncer:   syncer,
		pinger:   pinger,
		tag:      DefaultSyncTag,
		interval: DefaultProbeInterval,
		logger:   slog.Default(),
		now:      time.Now,
		pending:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),

		connectivity: models.ConnectivityUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestSync registers the default tag.
func (s *SyncScheduler) RequestSync() error {
	return s.Register(s.tag)
}

// Register records a sync registration and wakes the loop. Registrations for
// the same tag coalesce.
func (s *SyncScheduler) Register(tag string) error {
	if tag == "" {
		tag = s.tag
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrSyncUnavailable
	}
	s.pending[tag] = struct{}{}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the tags that have not completed yet.
func (s *SyncScheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, 0, len(s.pending))
	for tag := range s.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Status returns a snapshot of the scheduler state.
func (s *SyncScheduler) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := models.SyncStatus{
		Running:      s.active,
		Connectivity: s.connectivity,
		Pending:      make([]string, 0, len(s.pending)),
	}
	for tag := range s.pending {
		st.Pending = append(st.Pending, tag)
	}
	sort.Strings(st.Pending)
	if !s.lastProbe.IsZero() {
		t := s.lastProbe
		st.LastProbe = &t
	}
	if s.lastPass != nil {
		t, res := s.lastPassAt, *s.lastPass
		st.LastPassAt = &t
		st.LastPass = &res
	}
	return st
}

// Start runs the scheduling loop until ctx is cancelled or Stop is called.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel
	s.active = true
	done := make(chan struct{})
	s.done = done
	if s.registerStart {
		s.pending[s.tag] = struct{}{}
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		cancel()
		close(done)
	}()

	s.logger.Info("Starting background sync scheduler", "tag", s.tag, "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Background sync scheduler stopping")
			return nil
		case <-s.wake:
			s.fire(ctx)
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// Stop cancels the loop and waits for it to exit.
func (s *SyncScheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancelFunc, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *SyncScheduler) fire(ctx context.Context) {
	tags := s.Pending()
	if len(tags) == 0 {
		return
	}

	err := s.pinger.Ping(ctx)
	if err != nil {
		if s.setConnectivity(models.ConnectivityOffline) != models.ConnectivityOffline {
			s.logger.Warn("Remote API unreachable, deferring sync", "error", err)
		}
		return
	}
	if s.setConnectivity(models.ConnectivityOnline) == models.ConnectivityOffline {
		s.logger.Info("Connectivity restored, firing pending sync", "tags", tags)
	}

	// Take the registrations before running so that one made during the pass
	// survives and fires again.
	s.mu.Lock()
	for _, tag := range tags {
		delete(s.pending, tag)
	}
	s.mu.Unlock()

	result := s.syncer.RunSyncPass(ctx)

	switch {
	case !result.Stopped && (result.Reason == models.StopBusy || result.Reason == models.StopCanceled):
		// Another pass owns the queue, or the loop is shutting down; keep the
		// registration for the next tick or the next start.
		s.restore(tags)
	case result.Stopped && result.Reason != models.StopRejected:
		s.logger.Warn("Sync pass stopped, keeping registration",
			"reason", result.Reason,
			"failed_id", result.FailedID,
			"synced", result.Synced)
		if result.Reason == models.StopTransport || result.Reason == models.StopTimeout {
			s.setConnectivity(models.ConnectivityOffline)
		}
		s.restore(tags)
	}
	// Otherwise the pass completed, or stopped on a rejection that needs an
	// operator; the registration is settled and the next enqueue registers again.

	s.mu.Lock()
	s.lastPassAt = s.now()
	s.lastPass = &result
	s.mu.Unlock()
}

// setConnectivity records a probe outcome and returns the previous state.
func (s *SyncScheduler) setConnectivity(c models.Connectivity) models.Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.connectivity
	s.connectivity = c
	s.lastProbe = s.now()
	return prev
}

func (s *SyncScheduler) restore(tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		s.pending[tag] = struct{}{}
	}
}
