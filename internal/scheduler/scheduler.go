// Package scheduler fires recurring goals on cron schedules. Triggers
// come from static configuration and from a YAML file that is resynced
// while the process runs, so operators can add or retire recurring goals
// without a restart.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"aide/internal/async"
	"aide/internal/logging"
	"aide/internal/notification"
)

// syncSchedule is the cadence for re-reading the triggers file.
const syncSchedule = "*/5 * * * *"

// Config holds scheduler configuration.
type Config struct {
	Enabled           bool
	Static            []Trigger
	TriggersPath      string        // YAML file of recurring goals
	TriggerTimeout    time.Duration // bounds one trigger's whole run
	ConcurrencyPolicy string        // "skip" (default) or "delay"
}

// Scheduler manages time-based goal submission using robfig/cron.
type Scheduler struct {
	cron        *cron.Cron
	coordinator Coordinator
	notifier    notification.Notifier
	config      Config
	logger      logging.Logger

	mu      sync.Mutex
	entries map[string]registration // registry name → cron entry

	stopped  chan struct{}
	stopOnce sync.Once
}

type registration struct {
	entryID cron.EntryID
	trigger Trigger
}

// New creates a scheduler submitting to the given coordinator. The
// notifier is optional and only receives submission failures.
func New(cfg Config, coordinator Coordinator, notifier notification.Notifier, logger logging.Logger) *Scheduler {
	logger = logging.OrNop(logger)

	return &Scheduler{
		cron:        newCron(cfg, logger),
		coordinator: coordinator,
		notifier:    notifier,
		config:      cfg,
		logger:      logger,
		entries:     make(map[string]registration),
		stopped:     make(chan struct{}),
	}
}

func newCron(cfg Config, logger logging.Logger) *cron.Cron {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	options := []cron.Option{cron.WithParser(parser)}

	policy := strings.ToLower(strings.TrimSpace(cfg.ConcurrencyPolicy))
	var wrapper cron.JobWrapper
	switch policy {
	case "delay":
		wrapper = cron.DelayIfStillRunning(cron.DefaultLogger)
	case "skip", "":
		wrapper = cron.SkipIfStillRunning(cron.DefaultLogger)
	default:
		logger.Warn("Scheduler: unknown concurrency policy %q, defaulting to skip", policy)
		wrapper = cron.SkipIfStillRunning(cron.DefaultLogger)
	}
	options = append(options, cron.WithChain(wrapper))

	return cron.New(options...)
}

// Start registers all triggers and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler disabled by config")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, trigger := range s.config.Static {
		trigger.FromFile = false
		if err := s.registerTriggerLocked(trigger); err != nil {
			s.logger.Warn("Scheduler: failed to register static trigger %q: %v", trigger.Name, err)
		}
	}

	s.syncFileTriggersLocked()

	if s.config.TriggersPath != "" {
		syncEntryID, err := s.cron.AddFunc(syncSchedule, s.syncFileTriggers)
		if err != nil {
			s.logger.Warn("Scheduler: failed to register triggers file sync: %v", err)
		} else {
			s.entries["_resync"] = registration{entryID: syncEntryID}
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started with %d trigger(s)", len(s.entries))

	async.Go(s.logger, "scheduler.stop", func() {
		<-ctx.Done()
		s.Stop()
	})

	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs to
// finish. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Scheduler stopping...")
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		close(s.stopped)
		s.logger.Info("Scheduler stopped")
	})
}

// Done returns a channel that is closed when the scheduler has fully
// stopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}

// registerTriggerLocked adds a single trigger to the cron runner. Must be
// called with s.mu held.
func (s *Scheduler) registerTriggerLocked(trigger Trigger) error {
	name := trigger.registryName()
	if _, exists := s.entries[name]; exists {
		return nil
	}

	if trigger.Name == "" {
		return fmt.Errorf("trigger has no name")
	}
	if trigger.Schedule == "" {
		return fmt.Errorf("trigger %q has no schedule", trigger.Name)
	}
	if trigger.Goal == "" {
		return fmt.Errorf("trigger %q has no goal", trigger.Name)
	}

	t := trigger
	entryID, err := s.cron.AddFunc(t.Schedule, func() {
		s.executeTrigger(t)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression for %q: %w", trigger.Name, err)
	}

	s.entries[name] = registration{entryID: entryID, trigger: trigger}
	s.logger.Info("Scheduler: registered trigger %q (schedule=%s)", trigger.Name, trigger.Schedule)
	return nil
}

// syncFileTriggers re-reads the triggers file, registering new entries,
// re-registering changed ones, and pruning those that disappeared.
func (s *Scheduler) syncFileTriggers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncFileTriggersLocked()
}

func (s *Scheduler) syncFileTriggersLocked() {
	if s.config.TriggersPath == "" {
		return
	}

	specs, err := LoadTriggerFile(s.config.TriggersPath)
	if err != nil {
		// Keep the current registrations; the file may be mid-edit.
		s.logger.Warn("Scheduler: failed to load triggers file: %v", err)
		return
	}

	active := make(map[string]bool)
	for _, spec := range specs {
		if spec.Disabled {
			continue
		}
		trigger := Trigger{
			Name:     spec.Name,
			Schedule: spec.Schedule,
			Goal:     spec.Goal,
			Owner:    spec.Owner,
			FromFile: true,
		}
		name := trigger.registryName()
		active[name] = true

		if reg, exists := s.entries[name]; exists {
			if reg.trigger == trigger {
				continue
			}
			// The entry changed in place; re-register under the new spec.
			s.cron.Remove(reg.entryID)
			delete(s.entries, name)
		}

		if err := s.registerTriggerLocked(trigger); err != nil {
			s.logger.Warn("Scheduler: skipping file trigger %q: %v", spec.Name, err)
		}
	}

	s.pruneStaleFileTriggersLocked(active)
}

// pruneStaleFileTriggersLocked removes file triggers that are no longer
// present (or no longer enabled) in the triggers file.
func (s *Scheduler) pruneStaleFileTriggersLocked(active map[string]bool) {
	for name, reg := range s.entries {
		if !strings.HasPrefix(name, "file:") {
			continue
		}
		if active[name] {
			continue
		}
		s.cron.Remove(reg.entryID)
		delete(s.entries, name)
		s.logger.Info("Scheduler: pruned trigger %q no longer in the file", name)
	}
}

// TriggerCount returns the number of registered entries.
func (s *Scheduler) TriggerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// TriggerNames returns the sorted names of all registered entries.
func (s *Scheduler) TriggerNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
