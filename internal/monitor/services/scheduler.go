package services

import (
	"context"
	"sync"
	"time"

	"vigil/internal/core"
	"vigil/internal/monitor/models"
)

// Registry list retries per cycle
const listAttempts = 3

// WebsiteRegistry lists the websites to check
type WebsiteRegistry interface {
	ListWebsites(ctx context.Context) ([]models.Website, error)
}

// WebsiteProber performs a single check against a URL
type WebsiteProber interface {
	Probe(ctx context.Context, rawURL string) ProbeResult
}

// ResultRecorder persists a probe result
type ResultRecorder interface {
	Record(ctx context.Context, websiteID int, result ProbeResult) error
}

// SchedulerConfig configures the poll loop
type SchedulerConfig struct {
	// PollInterval is the spacing between cycles. Cycles are aligned to
	// interval boundaries, so with the default of one minute each cycle
	// starts on the minute.
	PollInterval time.Duration

	// MaxConcurrent bounds the number of in-flight probes per cycle.
	MaxConcurrent int

	// RetryBackoff is the initial wait before retrying a failed registry
	// list, doubling per attempt. Defaults to one second.
	RetryBackoff time.Duration
}

// Scheduler drives the poll loop: every interval it lists the registered
// websites, probes each at most once for the current minute bucket, and
// records the outcomes.
type Scheduler struct {
	registry WebsiteRegistry
	prober   WebsiteProber
	recorder ResultRecorder
	logger   *core.Logger
	config   SchedulerConfig

	stopChan     chan struct{}
	wg           sync.WaitGroup
	cancelProbes context.CancelFunc

	// lastBucket tracks the newest bucket dispatched per website so a
	// bucket is never dispatched twice. The storage UNIQUE constraint
	// backs this up across processes.
	mu         sync.Mutex
	lastBucket map[int]time.Time
}

// NewScheduler creates a new scheduler
func NewScheduler(registry WebsiteRegistry, prober WebsiteProber, recorder ResultRecorder, logger *core.Logger, config SchedulerConfig) *Scheduler {
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	return &Scheduler{
		registry:   registry,
		prober:     prober,
		recorder:   recorder,
		logger:     logger,
		config:     config,
		stopChan:   make(chan struct{}),
		lastBucket: make(map[int]time.Time),
	}
}

// Start launches the poll loop in the background. An immediate first cycle
// runs before the loop settles onto interval boundaries.
func (s *Scheduler) Start() error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelProbes = cancel

	s.logger.Info("Starting poll loop",
		"interval", s.config.PollInterval, "max_concurrent", s.config.MaxConcurrent)

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop shuts the poll loop down. In-flight probes are given until ctx
// expires to finish; after that they are cancelled and Stop waits for the
// workers to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping poll loop")
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Drain deadline reached, cancelling in-flight checks")
		s.cancelProbes()
		<-done
	}

	s.cancelProbes()
	s.logger.Info("Poll loop stopped")
	return nil
}

// CheckNow runs a single poll cycle immediately
func (s *Scheduler) CheckNow(ctx context.Context) {
	s.runCycle(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.runCycle(ctx)

	timer := time.NewTimer(s.untilNextCycle())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-timer.C:
			s.runCycle(ctx)
			timer.Reset(s.untilNextCycle())
		}
	}
}

// untilNextCycle returns the wait until the next interval boundary.
// Re-arming the timer from the wall clock each cycle keeps ticks aligned
// instead of drifting by the cycle's own runtime.
func (s *Scheduler) untilNextCycle() time.Duration {
	now := time.Now().UTC()
	next := now.Truncate(s.config.PollInterval).Add(s.config.PollInterval)
	return next.Sub(now)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	bucket := time.Now().UTC().Truncate(time.Minute)

	websites, err := s.listWebsites(ctx)
	if err != nil {
		s.logger.Error("Failed to list websites, skipping cycle", "error", err)
		return
	}
	if len(websites) == 0 {
		s.logger.Debug("No websites registered")
		return
	}

	s.pruneClaims(websites)

	jobs := make(chan models.Website, len(websites))
	var wg sync.WaitGroup
	for i := 0; i < s.config.MaxConcurrent; i++ {
		wg.Add(1)
		go s.worker(ctx, bucket, jobs, &wg)
	}

	dispatched := 0
	for _, website := range websites {
		if !s.claimBucket(website.ID, bucket) {
			s.logger.Debug("Bucket already dispatched, skipping",
				"website_id", website.ID, "bucket", bucket)
			continue
		}
		jobs <- website
		dispatched++
	}
	close(jobs)
	wg.Wait()

	s.logger.Info("Poll cycle completed", "websites", len(websites), "dispatched", dispatched, "bucket", bucket)
}

// listWebsites retries transient registry failures with exponential
// backoff before giving the cycle up.
func (s *Scheduler) listWebsites(ctx context.Context) ([]models.Website, error) {
	backoff := s.config.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < listAttempts; attempt++ {
		if attempt > 0 {
			s.logger.Warn("Retrying website list", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		websites, err := s.registry.ListWebsites(ctx)
		if err == nil {
			return websites, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

func (s *Scheduler) worker(ctx context.Context, bucket time.Time, jobs <-chan models.Website, wg *sync.WaitGroup) {
	defer wg.Done()
	for website := range jobs {
		s.checkWebsite(ctx, website, bucket)
	}
}

// checkWebsite probes one website and records the outcome. A failure here
// never affects the rest of the cycle.
func (s *Scheduler) checkWebsite(ctx context.Context, website models.Website, bucket time.Time) {
	result := s.prober.Probe(ctx, website.URL)

	if err := s.recorder.Record(ctx, website.ID, result); err != nil {
		s.logger.Error("Failed to record check",
			"website_id", website.ID, "alias", website.Alias, "error", err)
		// Give the bucket back so a retry within the same minute is not
		// suppressed; the UNIQUE constraint still prevents double writes.
		s.releaseClaim(website.ID, bucket)
	}
}

// claimBucket marks the bucket as dispatched for the website. It refuses
// buckets at or before the newest claimed one, so each website is probed
// at most once per minute and buckets never go backwards.
func (s *Scheduler) claimBucket(websiteID int, bucket time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastBucket[websiteID]; ok && !last.Before(bucket) {
		return false
	}
	s.lastBucket[websiteID] = bucket
	return true
}

func (s *Scheduler) releaseClaim(websiteID int, bucket time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastBucket[websiteID]; ok && last.Equal(bucket) {
		delete(s.lastBucket, websiteID)
	}
}

// pruneClaims drops tracking for websites that are no longer registered
func (s *Scheduler) pruneClaims(websites []models.Website) {
	current := make(map[int]struct{}, len(websites))
	for _, website := range websites {
		current[website.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.lastBucket {
		if _, ok := current[id]; !ok {
			delete(s.lastBucket, id)
		}
	}
}
