// Package schedule arms recurring triggers on a robfig/cron scheduler.
package schedule

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
)

type Service struct {
	cron   *cron.Cron
	parser cron.Parser
	logger *slog.Logger
	mu     sync.Mutex
	jobs   map[string]cron.EntryID
}

func NewService(log *slog.Logger, loc *time.Location) *Service {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		cron:   cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		parser: parser,
		logger: logger.OrDefault(log).With(slog.String("service", "schedule")),
		jobs:   map[string]cron.EntryID{},
	}
}

func (s *Service) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running triggers to return.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// Validate reports whether pattern is a cron expression this scheduler accepts.
func (s *Service) Validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty cron pattern")
	}
	if _, err := s.parser.Parse(pattern); err != nil {
		return fmt.Errorf("invalid cron pattern %q: %w", pattern, err)
	}
	return nil
}

// Every fires fn with the tick time every interval. A previous entry with the same name is replaced.
func (s *Service) Every(name string, interval time.Duration, fn Trigger) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	return s.add(name, "@every "+interval.String(), fn)
}

// Cron fires fn on the cron pattern. A previous entry with the same name is replaced.
func (s *Service) Cron(name, pattern string, fn Trigger) error {
	if err := s.Validate(pattern); err != nil {
		return err
	}
	return s.add(name, pattern, fn)
}

// Next returns the next fire time of name, or the zero time when it is not armed.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Names lists the armed schedules.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
}

func (s *Service) add(name, spec string, fn Trigger) error {
	if fn == nil {
		return fmt.Errorf("schedule %s: nil trigger", name)
	}
	log := s.logger.With(slog.String("schedule", name))
	job := cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("schedule trigger panicked", slog.Any("panic", r))
			}
		}()
		fn(time.Now())
	})
	s.Remove(name)
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.mu.Lock()
	s.jobs[name] = id
	s.mu.Unlock()
	log.Debug("schedule armed", slog.String("spec", spec))
	return nil
}
