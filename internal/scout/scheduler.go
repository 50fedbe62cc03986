package scout

import (
	"context"
	"math/rand"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/observability"
)

const (
	jitterFraction  = 0.10
	backoffBase     = 15 * time.Second
	backoffCeiling  = 300 * time.Second
	defaultInterval = time.Minute
)

// Scheduler runs every registered Scout on its own jittered recurrence,
// dropping overlapping ticks and backing off on consecutive failures
// (spec §4.12).
type Scheduler struct {
	auditor    *audit.Logger
	digest     *Digest
	escalation *EscalationManager
	metrics    *observability.Metrics
	now        func() time.Time
	randFloat  func() float64

	mu     sync.Mutex
	scouts map[string]*scoutState
	wg     sync.WaitGroup
}

type scoutState struct {
	scout     Scout
	cronSched cronlib.Schedule
	stopCh    chan struct{}

	mu                  sync.Mutex
	running             bool
	consecutiveFailures int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandFloat overrides the jitter source with a deterministic value
// generator, for tests. r must return values in [0, 1).
func WithRandFloat(r func() float64) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.randFloat = r
		}
	}
}

// NewScheduler builds a Scheduler. auditor, digest, escalation, and
// metrics may all be nil (auditor/metrics become no-ops; digest
// defaults to a fresh unbounded-ish ring; escalation findings with no
// manager configured simply aren't escalated).
func NewScheduler(auditor *audit.Logger, digest *Digest, escalation *EscalationManager, metrics *observability.Metrics, opts ...Option) *Scheduler {
	if digest == nil {
		digest = NewDigest(100)
	}
	s := &Scheduler{
		auditor:    auditor,
		digest:     digest,
		escalation: escalation,
		metrics:    metrics,
		now:        time.Now,
		randFloat:  rand.Float64, // #nosec G404 -- jitter does not need cryptographic randomness
		scouts:     make(map[string]*scoutState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Digest returns the scheduler's awareness digest ring.
func (s *Scheduler) Digest() *Digest { return s.digest }

// Register attaches a scout and starts its recurrence loop, bound to
// ctx: cancelling ctx (or calling Unregister) stops the loop.
func (s *Scheduler) Register(ctx context.Context, sc Scout) error {
	if sc.Name == "" {
		return errNameRequired
	}
	if sc.Execute == nil {
		return errExecuteRequired
	}
	if err := sc.Schedule.validate(); err != nil {
		return err
	}
	cronSched, err := sc.Schedule.parsed()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.scouts[sc.Name]; exists {
		s.mu.Unlock()
		return errAlreadyRegistered
	}
	st := &scoutState{scout: sc, cronSched: cronSched, stopCh: make(chan struct{})}
	s.scouts[sc.Name] = st
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(ctx, st)
	return nil
}

// Unregister stops a scout's recurrence loop and removes it.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	st, ok := s.scouts[name]
	if ok {
		delete(s.scouts, name)
	}
	s.mu.Unlock()
	if ok {
		close(st.stopCh)
	}
}

// Wait blocks until every registered scout's loop has exited (their
// bound contexts cancelled, or explicitly unregistered).
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, st *scoutState) {
	defer s.wg.Done()

	timer := time.NewTimer(s.firstDelay(st))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.stopCh:
			return
		case <-timer.C:
		}

		// fire runs asynchronously so the schedule keeps ticking at its
		// normal cadence regardless of how long Execute takes; the
		// overlap lock inside fire is what actually drops a tick when
		// the previous invocation is still in flight.
		s.wg.Add(1)
		go s.fire(ctx, st)

		if ctx.Err() != nil {
			return
		}
		select {
		case <-st.stopCh:
			return
		default:
		}
		timer.Reset(s.nextDelay(st))
	}
}

func (s *Scheduler) fire(ctx context.Context, st *scoutState) {
	defer s.wg.Done()
	st.mu.Lock()
	if st.running {
		st.mu.Unlock()
		s.auditSkipOverlap(st.scout.Name)
		s.recordRun(st.scout.Name, "skipped_overlap", 0)
		return
	}
	st.running = true
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.running = false
		st.mu.Unlock()
	}()

	start := s.now()
	findings, err := st.scout.Execute(ctx)
	duration := s.now().Sub(start)

	st.mu.Lock()
	if err != nil {
		st.consecutiveFailures++
	} else {
		st.consecutiveFailures = 0
	}
	st.mu.Unlock()

	if err != nil {
		s.auditRunFailed(st.scout.Name, err)
		s.recordRun(st.scout.Name, "error", duration)
		return
	}
	s.recordRun(st.scout.Name, "success", duration)
	for _, f := range findings {
		s.route(ctx, f)
	}
}

func (s *Scheduler) route(ctx context.Context, f Finding) {
	s.auditFinding(f)
	switch f.Urgency {
	case UrgencyMedium:
		s.digest.Push(f)
	case UrgencyHigh:
		s.digest.Push(f)
		if f.Escalate && s.escalation != nil {
			_ = s.escalation.Escalate(ctx, f)
		}
	}
}

// firstDelay is the delay before a newly registered scout's first run.
// RunOnStartup fires quickly (jitter only, to stagger simultaneous
// registrations); otherwise the scout waits a full jittered recurrence
// before its first run, same as every subsequent tick.
func (s *Scheduler) firstDelay(st *scoutState) time.Duration {
	if st.scout.Schedule.RunOnStartup {
		base := s.baseInterval(st)
		return jitteredDelay(0, base, jitterFraction, s.randFloat())
	}
	return s.nextDelay(st)
}

// nextDelay is the delay before the next tick: exponential backoff
// while consecutive failures are nonzero, otherwise the scout's normal
// schedule plus up to jitterFraction extra.
func (s *Scheduler) nextDelay(st *scoutState) time.Duration {
	st.mu.Lock()
	failures := st.consecutiveFailures
	st.mu.Unlock()
	if failures > 0 {
		return backoffDelay(failures)
	}
	base := s.baseInterval(st)
	return jitteredDelay(base, base, jitterFraction, s.randFloat())
}

func (s *Scheduler) baseInterval(st *scoutState) time.Duration {
	if st.scout.Schedule.Interval > 0 {
		return st.scout.Schedule.Interval
	}
	if st.cronSched != nil {
		now := s.now()
		next := st.cronSched.Next(now)
		if d := next.Sub(now); d > 0 {
			return d
		}
	}
	return defaultInterval
}

// jitteredDelay adds up to frac*scale of random jitter on top of floor.
func jitteredDelay(floor, scale time.Duration, frac, r float64) time.Duration {
	jitter := time.Duration(float64(scale) * frac * r)
	return floor + jitter
}

// backoffDelay implements min(15s*2^(k-1), 300s) for the k-th
// consecutive failure.
func backoffDelay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	if k > 20 { // 15s*2^19 already dwarfs the 300s ceiling; avoids a huge shift
		return backoffCeiling
	}
	d := backoffBase * time.Duration(uint64(1)<<uint(k-1))
	if d > backoffCeiling || d <= 0 {
		return backoffCeiling
	}
	return d
}

func (s *Scheduler) recordRun(name, outcome string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ScoutRunsTotal.WithLabelValues(name, outcome).Inc()
	if outcome != "skipped_overlap" {
		s.metrics.ScoutRunDuration.WithLabelValues(name).Observe(duration.Seconds())
	}
}

func (s *Scheduler) auditSkipOverlap(name string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(audit.Entry{
		Category: "scout", Action: "skip_overlap", Severity: audit.SeverityWarn,
		Metadata: map[string]any{"scout": name},
	})
}

func (s *Scheduler) auditRunFailed(name string, err error) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(audit.Entry{
		Category: "scout", Action: "run_failed", Severity: audit.SeverityError,
		Metadata: map[string]any{"scout": name, "error": err.Error()},
	})
}

func (s *Scheduler) auditFinding(f Finding) {
	if s.auditor == nil {
		return
	}
	severity := audit.SeverityInfo
	if f.Urgency == UrgencyHigh {
		severity = audit.SeverityWarn
	}
	s.auditor.Log(audit.Entry{
		Category: "scout", Action: "finding", Severity: severity,
		Metadata: map[string]any{
			"scout": f.Scout, "urgency": string(f.Urgency),
			"summary": f.Summary, "escalate": f.Escalate,
		},
	})
}
