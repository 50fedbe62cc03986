// Package scout runs periodic background checks ("scouts") on behalf of
// an agent and routes their findings by urgency (spec §4.12, C12): low
// findings are audited only, medium findings join an awareness digest,
// and high findings join the digest and may escalate through the
// agent's bound channels.
package scout

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Urgency classifies a Finding for routing purposes.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Finding is one result produced by a scout's Execute call.
type Finding struct {
	Scout     string         `json:"scout"`
	Urgency   Urgency        `json:"urgency"`
	Summary   string         `json:"summary"`
	Escalate  bool           `json:"escalate"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Schedule is a scout's recurrence: either a plain interval or a cron
// expression, never both. RunOnStartup fires an extra run (still
// jittered) immediately after Register instead of waiting a full period.
type Schedule struct {
	Interval     time.Duration
	Cron         string
	RunOnStartup bool
}

func (s Schedule) parsed() (cron.Schedule, error) {
	if s.Cron != "" {
		return cronParser.Parse(s.Cron)
	}
	return nil, nil
}

func (s Schedule) validate() error {
	if s.Interval <= 0 && s.Cron == "" {
		return errScheduleRequired
	}
	if s.Interval > 0 && s.Cron != "" {
		return errScheduleAmbiguous
	}
	return nil
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ExecuteFunc runs one scout invocation and returns the findings it
// produced. A nil/empty slice is a normal "nothing to report" run.
type ExecuteFunc func(ctx context.Context) ([]Finding, error)

// Scout is one registered background check.
type Scout struct {
	Name     string
	Schedule Schedule
	Execute  ExecuteFunc
}

// ChannelSink is one of an agent's bound channels, capable of carrying a
// best-effort interrupt for a high-urgency, escalating finding.
type ChannelSink interface {
	Name() string
	Notify(ctx context.Context, f Finding) error
}
