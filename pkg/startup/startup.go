package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Func adapts plain functions to Dependency. A nil OnStop is a no-op.
type Func struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (f Func) GetName() string     { return f.Name }
func (f Func) DependsOn() []string { return f.Requires }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// Startup starts dependencies in dependency order and retries a failed attempt
// with Fibonacci backoff (1, 1, 2, 3, 5 × BaseDelay).
type Startup struct {
	dependencies map[string]Dependency
	order        []string
	statuses     map[string]Status
	started      []string
	logger       ectologger.Logger
	maxAttempts  int
	baseDelay    time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		maxAttempts:  maxAttempts,
		baseDelay:    time.Second,
	}
}

// WithBaseDelay sets the unit of the backoff sequence.
func (s *Startup) WithBaseDelay(d time.Duration) *Startup {
	s.baseDelay = d
	return s
}

func (s *Startup) AddDependency(dependency Dependency) {
	name := dependency.GetName()
	if _, ok := s.dependencies[name]; !ok {
		s.order = append(s.order, name)
	}
	s.dependencies[name] = dependency
}

func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

func (s *Startup) Start(ctx context.Context) error {
	if err := s.checkGraph(); err != nil {
		return err
	}

	var lastErr error
	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithContext(ctx).WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.startDependency(ctx, name); err != nil {
				s.logger.WithContext(ctx).WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.baseDelay
		s.logger.WithContext(ctx).Infof("Retrying in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Startup) startDependency(ctx context.Context, name string) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}

	dependency := s.dependencies[name]
	for _, required := range dependency.DependsOn() {
		if err := s.startDependency(ctx, required); err != nil {
			return err
		}
	}

	s.logger.WithContext(ctx).WithField("dependency", name).Infof("Starting dependency '%s'", name)
	s.statuses[name] = StatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return err
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order. Every dependency is
// given a chance to stop; failures are joined.
func (s *Startup) Stop(ctx context.Context) error {
	var errs []error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		s.logger.WithContext(ctx).WithField("dependency", name).Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("dependency", name).Errorf("Failed to stop dependency '%s'", name)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		s.statuses[name] = StatusStopped
	}
	s.started = nil
	return errors.Join(errs...)
}

// checkGraph rejects unknown dependency names and cycles before anything starts.
func (s *Startup) checkGraph() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.dependencies))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		dependency, ok := s.dependencies[name]
		if !ok {
			return fmt.Errorf("unknown startup dependency '%s' required by '%s'", name, path[len(path)-1])
		}
		switch state[name] {
		case visiting:
			return fmt.Errorf("startup dependency cycle: %v", append(path, name))
		case done:
			return nil
		}
		state[name] = visiting
		for _, required := range dependency.DependsOn() {
			if err := visit(required, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range s.order {
		if err := visit(name, []string{"root"}); err != nil {
			return err
		}
	}
	return nil
}
