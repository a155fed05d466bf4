package automation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fieldlink-core/internal/command"
	"github.com/nerrad567/fieldlink-core/internal/device"
	"github.com/nerrad567/fieldlink-core/internal/telemetry"
)

// EventAutomationFired is broadcast after every scheduled command attempt.
const EventAutomationFired = "automation.fired"

// suppressionTTL bounds how long a fired (rule, action, minute) key is kept.
// Anything older than the current minute can never match again.
const suppressionTTL = 2 * time.Minute

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Commander sends an explicit power command and waits for the reply.
type Commander interface {
	SendPower(ctx context.Context, clientID, entity string, power telemetry.Power) (*command.Response, error)
}

// RunRecorder mirrors rule executions into a time-series store.
type RunRecorder interface {
	WriteAutomationRun(ruleID, clientID, action string, success bool, at time.Time)
}

// EventSink receives live events for connected dashboards.
type EventSink interface {
	Broadcast(eventType string, payload any)
}

// FiredEvent is the payload of EventAutomationFired.
type FiredEvent struct {
	RuleID   string `json:"rule_id"`
	DeviceID string `json:"device_id"`
	ClientID string `json:"client_id"`
	Action   Action `json:"action"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
}

// EventClientID scopes the event to the device the rule drives.
func (e FiredEvent) EventClientID() string { return e.ClientID }

type firedKey struct {
	ruleID string
	action Action
	minute string
}

type dueAction struct {
	rule   Rule
	action Action
}

// Scheduler fires rule actions when a rule's local clock reaches its on or
// off time. Each (rule, action) fires at most once per local calendar minute.
type Scheduler struct {
	repo          Repository
	devices       DeviceGetter
	commander     Commander
	logger        Logger
	runs          RunRecorder
	events        EventSink
	now           func() time.Time
	maxConcurrent int

	running atomic.Bool

	mu    sync.Mutex
	fired map[firedKey]time.Time

	locMu     sync.Mutex
	locations map[string]*time.Location
}

// NewScheduler creates a scheduler. maxConcurrent bounds how many due
// actions are fired in parallel per tick.
func NewScheduler(repo Repository, devices DeviceGetter, commander Commander, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		repo:          repo,
		devices:       devices,
		commander:     commander,
		logger:        noopLogger{},
		now:           time.Now,
		maxConcurrent: maxConcurrent,
		fired:         make(map[firedKey]time.Time),
		locations:     make(map[string]*time.Location),
	}
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetRunRecorder mirrors executions into a time-series store.
func (s *Scheduler) SetRunRecorder(runs RunRecorder) {
	s.runs = runs
}

// SetEvents sets the live event sink.
func (s *Scheduler) SetEvents(events EventSink) {
	s.events = events
}

// Run ticks every interval, starting on the next wall-clock minute
// boundary, until ctx is cancelled. Ticks run in their own goroutine; a
// tick that overlaps a still-running one is skipped.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	now := s.now()
	timer := time.NewTimer(now.Truncate(time.Minute).Add(time.Minute).Sub(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		go s.tickAndLog(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	n, err := s.Tick(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		s.logger.Warn("automation tick skipped, previous tick still running")
	case err != nil:
		s.logger.Error("automation tick failed", "error", err)
	case n > 0:
		s.logger.Info("automation tick fired rules", "actions", n)
	}
}

// Tick evaluates all enabled rules against the current time and fires the
// due actions. It returns the number of actions fired.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		return 0, ErrTickInProgress
	}
	defer s.running.Store(false)

	now := s.now()
	s.sweep(now)

	rules, err := s.repo.ListEnabledRules(ctx)
	if err != nil {
		return 0, err
	}

	due := s.collectDue(rules, now)
	if len(due) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	for _, d := range due {
		g.Go(func() error {
			s.fire(ctx, d, now)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // fire reports through logs

	return len(due), nil
}

// collectDue returns the actions due at now and claims their suppression keys.
func (s *Scheduler) collectDue(rules []Rule, now time.Time) []dueAction {
	var due []dueAction

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rule := range rules {
		if rule.OnTime == rule.OffTime {
			s.logger.Warn("skipping rule with equal on and off time", "rule_id", rule.ID, "time", rule.OnTime)
			continue
		}
		loc, err := s.location(rule.Timezone)
		if err != nil {
			s.logger.Warn("skipping rule with unknown timezone", "rule_id", rule.ID, "timezone", rule.Timezone)
			continue
		}

		local := now.In(loc)
		clock := local.Format("15:04")
		minute := local.Format("2006-01-02T15:04")

		var action Action
		switch clock {
		case rule.OnTime:
			action = ActionOn
		case rule.OffTime:
			action = ActionOff
		default:
			continue
		}

		key := firedKey{ruleID: rule.ID, action: action, minute: minute}
		if _, ok := s.fired[key]; ok {
			continue
		}
		s.fired[key] = now
		due = append(due, dueAction{rule: rule, action: action})
	}
	return due
}

func (s *Scheduler) fire(ctx context.Context, d dueAction, now time.Time) {
	exec := &ExecutionLog{
		ID:         GenerateID(),
		RuleID:     d.rule.ID,
		Action:     d.action,
		ExecutedAt: now.UTC(),
	}

	var clientID string
	dev, err := s.devices.GetDevice(ctx, d.rule.DeviceID)
	if err == nil {
		clientID = dev.ClientID
		power := telemetry.PowerOff
		if d.action == ActionOn {
			power = telemetry.PowerOn
		}
		_, err = s.commander.SendPower(ctx, dev.ClientID, dev.Entity, power)
	} else if errors.Is(err, device.ErrDeviceNotFound) {
		err = command.ErrNoDevice
	}

	if err != nil {
		exec.Message = err.Error()
		s.logger.Warn("automation command failed",
			"rule_id", d.rule.ID, "device_id", d.rule.DeviceID, "action", d.action, "error", err)
	} else {
		exec.Success = true
		s.logger.Info("automation command sent",
			"rule_id", d.rule.ID, "device_id", d.rule.DeviceID, "action", d.action)
	}

	// The log is written on failure too so missed actions are visible.
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		s.logger.Error("writing automation log failed", "rule_id", d.rule.ID, "error", err)
	}

	if s.runs != nil {
		s.runs.WriteAutomationRun(d.rule.ID, clientID, string(d.action), exec.Success, exec.ExecutedAt)
	}
	if s.events != nil {
		s.events.Broadcast(EventAutomationFired, FiredEvent{
			RuleID:   d.rule.ID,
			DeviceID: d.rule.DeviceID,
			ClientID: clientID,
			Action:   d.action,
			Success:  exec.Success,
			Message:  exec.Message,
		})
	}
}

// location resolves and caches an IANA zone.
func (s *Scheduler) location(name string) (*time.Location, error) {
	s.locMu.Lock()
	defer s.locMu.Unlock()

	if loc, ok := s.locations[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	s.locations[name] = loc
	return loc, nil
}

// sweep drops suppression keys that can no longer match.
func (s *Scheduler) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, at := range s.fired {
		if now.Sub(at) > suppressionTTL {
			delete(s.fired, key)
		}
	}
}

// Suppressed reports how many fired keys are currently held.
func (s *Scheduler) Suppressed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fired)
}
