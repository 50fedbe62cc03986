package scout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroRand() float64 { return 0 }

func TestScheduler_RunOnStartupFiresQuicklyAndRecurs(t *testing.T) {
	var runs int32
	sched := NewScheduler(nil, nil, nil, nil, WithRandFloat(zeroRand))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 1)
	err := sched.Register(ctx, Scout{
		Name:     "probe",
		Schedule: Schedule{Interval: 20 * time.Millisecond, RunOnStartup: true},
		Execute: func(ctx context.Context) ([]Finding, error) {
			n := atomic.AddInt32(&runs, 1)
			if n >= 3 {
				select {
				case done <- struct{}{}:
				default:
				}
			}
			return nil, nil
		},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for 3 runs, got %d", atomic.LoadInt32(&runs))
	}
	cancel()
	sched.Wait()
}

func TestScheduler_OverlapLockSkipsConcurrentTick(t *testing.T) {
	release := make(chan struct{})
	var running int32
	var maxConcurrent int32

	sched := NewScheduler(nil, nil, nil, nil, WithRandFloat(zeroRand))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := sched.Register(ctx, Scout{
		Name:     "slow",
		Schedule: Schedule{Interval: 5 * time.Millisecond, RunOnStartup: true},
		Execute: func(ctx context.Context) ([]Finding, error) {
			n := atomic.AddInt32(&running, 1)
			if n > atomic.LoadInt32(&maxConcurrent) {
				atomic.StoreInt32(&maxConcurrent, n)
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil, nil
		},
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	close(release)
	cancel()
	sched.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}

func TestScheduler_BackoffOnConsecutiveFailures(t *testing.T) {
	st := &scoutState{scout: Scout{Schedule: Schedule{Interval: time.Second}}}
	sched := NewScheduler(nil, nil, nil, nil, WithRandFloat(zeroRand))

	st.consecutiveFailures = 1
	assert.Equal(t, 15*time.Second, sched.nextDelay(st))
	st.consecutiveFailures = 2
	assert.Equal(t, 30*time.Second, sched.nextDelay(st))
	st.consecutiveFailures = 10
	assert.Equal(t, 300*time.Second, sched.nextDelay(st))

	st.consecutiveFailures = 0
	assert.Equal(t, time.Second, sched.nextDelay(st))
}

func TestScheduler_RoutesFindingsByUrgency(t *testing.T) {
	digest := NewDigest(10)
	escalation := NewEscalationManager(nil)

	var notified int32
	escalation.Register(fakeSink{name: "cli", onNotify: func() { atomic.AddInt32(&notified, 1) }})

	sched := NewScheduler(nil, digest, escalation, nil, WithRandFloat(zeroRand))

	sched.route(context.Background(), Finding{Scout: "s", Urgency: UrgencyLow})
	assert.Equal(t, 0, digest.Len())

	sched.route(context.Background(), Finding{Scout: "s", Urgency: UrgencyMedium})
	assert.Equal(t, 1, digest.Len())

	sched.route(context.Background(), Finding{Scout: "s", Urgency: UrgencyHigh, Escalate: true})
	assert.Equal(t, 2, digest.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&notified))
}

type fakeSink struct {
	name     string
	onNotify func()
	err      error
}

func (f fakeSink) Name() string { return f.name }
func (f fakeSink) Notify(ctx context.Context, fnd Finding) error {
	if f.onNotify != nil {
		f.onNotify()
	}
	return f.err
}

func TestEscalationManager_OneFailingSinkDoesNotBlockOthers(t *testing.T) {
	var mu sync.Mutex
	var notified []string

	m := NewEscalationManager(nil)
	m.Register(fakeSink{name: "ok", onNotify: func() {
		mu.Lock()
		notified = append(notified, "ok")
		mu.Unlock()
	}})
	m.Register(fakeSink{name: "broken", err: errors.New("down"), onNotify: func() {
		mu.Lock()
		notified = append(notified, "broken")
		mu.Unlock()
	}})

	err := m.Escalate(context.Background(), Finding{Scout: "s", Urgency: UrgencyHigh, Escalate: true})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"ok", "broken"}, notified)
}

func TestDigest_HighUrgencyFindingsSurfaceFirst(t *testing.T) {
	d := NewDigest(3)
	d.Push(Finding{Scout: "a", Urgency: UrgencyMedium})
	d.Push(Finding{Scout: "b", Urgency: UrgencyMedium})
	d.Push(Finding{Scout: "c", Urgency: UrgencyHigh})

	snap := d.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].Scout)
}

func TestDigest_EvictsOldestPastCapacity(t *testing.T) {
	d := NewDigest(2)
	d.Push(Finding{Scout: "a", Urgency: UrgencyLow})
	d.Push(Finding{Scout: "b", Urgency: UrgencyLow})
	d.Push(Finding{Scout: "c", Urgency: UrgencyLow})

	assert.Equal(t, 2, d.Len())
}

func TestScheduler_RegisterRejectsInvalidSchedule(t *testing.T) {
	sched := NewScheduler(nil, nil, nil, nil)
	err := sched.Register(context.Background(), Scout{
		Name:    "bad",
		Execute: func(ctx context.Context) ([]Finding, error) { return nil, nil },
	})
	assert.ErrorIs(t, err, errScheduleRequired)
}

func TestScheduler_RegisterRejectsDuplicateName(t *testing.T) {
	sched := NewScheduler(nil, nil, nil, nil, WithRandFloat(zeroRand))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mk := Scout{
		Name:     "dup",
		Schedule: Schedule{Interval: time.Hour},
		Execute:  func(ctx context.Context) ([]Finding, error) { return nil, nil },
	}
	require.NoError(t, sched.Register(ctx, mk))
	err := sched.Register(ctx, mk)
	assert.ErrorIs(t, err, errAlreadyRegistered)
}
