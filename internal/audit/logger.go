package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscore/core/internal/secrets"
)

// Config configures the Logger.
type Config struct {
	Dir           string      `yaml:"dir" json:"dir"`
	IntegrityMode bool        `yaml:"integrityMode" json:"integrityMode"`
	BufferSize    int         `yaml:"bufferSize" json:"bufferSize"`
	AlertRules    []AlertRule `yaml:"alertRules" json:"alertRules"`
}

// DefaultConfig turns integrity mode on, matching the spec's "on by
// default in production deployments" guidance, and wires a couple of
// sensible alert rules a single-node deployment can run unattended.
func DefaultConfig() Config {
	return Config{
		Dir:           "./audit",
		IntegrityMode: true,
		BufferSize:    256,
		AlertRules: []AlertRule{
			{Category: "tool", Action: "tool_denied", Threshold: 5, Window: 5 * time.Minute, Cooldown: 15 * time.Minute},
			{Category: "resilience", Action: "breaker_state_change", Threshold: 1, Window: time.Minute, Cooldown: time.Minute},
		},
	}
}

// AlertSink delivers a fired AlertAction somewhere a human or an
// on-call system will notice. Evaluate itself performs no I/O (see
// alert.go); Logger.write calls the sink once per fired action.
type AlertSink func(AlertAction)

// consoleAlertSink is the Logger's default sink: a structured slog line,
// matching how the rest of the core reports operational events.
func consoleAlertSink(a AlertAction) {
	slog.Warn("audit alert", "category", a.Category, "action", a.Action, "count", a.Count, "window", a.Window, "message", a.Message)
}

// Logger is an append-only, per-day JSONL audit store. Writes go through
// sanitize → (optional) chain → append, same order the spec names.
type Logger struct {
	cfg      Config
	detector *secrets.Detector
	alerts   *AlertEngine
	sink     AlertSink

	mu       sync.Mutex
	files    map[string]*os.File
	prevHash map[string]string

	buffer chan Entry
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewLogger builds a Logger and starts its background writer, delivering
// any fired alerts to the console via slog.
func NewLogger(cfg Config) (*Logger, error) {
	return NewLoggerWithAlertSink(cfg, consoleAlertSink)
}

// NewLoggerWithAlertSink builds a Logger that delivers fired alerts to a
// caller-supplied sink instead of the console, e.g. to page on-call or
// post to a channel in a real deployment.
func NewLoggerWithAlertSink(cfg Config, sink AlertSink) (*Logger, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Dir == "" {
		cfg.Dir = "./audit"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}

	var alerts *AlertEngine
	if len(cfg.AlertRules) > 0 {
		alerts = NewAlertEngine(cfg.AlertRules)
	}

	l := &Logger{
		cfg:      cfg,
		detector: secrets.NewDetector(),
		alerts:   alerts,
		sink:     sink,
		files:    make(map[string]*os.File),
		prevHash: make(map[string]string),
		buffer:   make(chan Entry, cfg.BufferSize),
		errs:     make(chan error, cfg.BufferSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues e for writing. It assigns an id/timestamp if absent and
// returns immediately; write failures surface via Errors(), matching the
// spec's "audit writes that fail do not cause silent drops" policy — the
// caller (orchestrator) is responsible for surfacing an `audit_write_failed`
// channel error when it observes one.
func (l *Logger) Log(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	l.buffer <- e
}

// Errors returns the channel write failures are reported on.
func (l *Logger) Errors() <-chan error { return l.errs }

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.buffer:
			l.write(e)
		case <-l.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-l.buffer:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(e Entry) {
	day := e.Timestamp.UTC().Format("2006-01-02")

	e = sanitize(l.detector, e)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.IntegrityMode {
		prev := l.prevHash[day]
		hash, err := chainHash(e, prev)
		if err != nil {
			l.reportErr(err)
			return
		}
		e.PrevHash = prev
		e.EntryHash = hash
		l.prevHash[day] = hash
	}

	f, err := l.fileFor(day)
	if err != nil {
		l.reportErr(err)
		return
	}

	line, err := json.Marshal(e)
	if err != nil {
		l.reportErr(err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.reportErr(err)
		return
	}

	l.fireAlerts(e)
}

// fireAlerts evaluates e against the configured alert rules and delivers
// any that cross their threshold to the sink. Must be called with l.mu
// held, matching where write() calls it.
func (l *Logger) fireAlerts(e Entry) {
	if l.alerts == nil {
		return
	}
	for _, action := range l.alerts.Evaluate(e) {
		l.sink(action)
	}
}

func (l *Logger) reportErr(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// fileFor returns (opening if needed) the append file for the given day.
// Caller must hold l.mu.
func (l *Logger) fileFor(day string) (*os.File, error) {
	if f, ok := l.files[day]; ok {
		return f, nil
	}
	path := filepath.Join(l.cfg.Dir, fmt.Sprintf("audit-%s.jsonl", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[day] = f
	return f, nil
}

// Close flushes the pending buffer and closes all open files.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
