package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupError reports a provider that failed to launch or handshake.
// Startup is all-or-nothing: by the time the caller sees this error,
// every connection opened before the failing one has been closed again.
type StartupError struct {
	Provider string
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("provider %s failed to start: %v", e.Provider, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// launchFunc starts a single provider connection. Swapped out in tests.
type launchFunc func(ctx context.Context, spec Spec) (Conn, error)

// Supervisor starts and stops a set of provider connections as one unit.
// Connections are acquired in spec order and always released in reverse
// order, whether teardown happens on a startup failure or on Close.
type Supervisor struct {
	launch    launchFunc
	mu        sync.Mutex
	conns     []Conn
	keepalive *cron.Cron
	logger    zerolog.Logger
}

// NewSupervisor creates a supervisor that launches real subprocess
// connections.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		launch: func(ctx context.Context, spec Spec) (Conn, error) {
			conn := NewConnection(spec)
			if err := conn.Start(ctx); err != nil {
				return nil, err
			}
			return conn, nil
		},
		logger: log.With().Str("component", "supervisor").Logger(),
	}
}

// Start launches every provider in order. If any launch or handshake
// fails, the already-open connections are torn down last-opened-first and
// a *StartupError is returned.
func (s *Supervisor) Start(ctx context.Context, specs []Spec) error {
	s.mu.Lock()
	if len(s.conns) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already started")
	}
	s.mu.Unlock()

	for _, spec := range specs {
		if spec.ID == "" || spec.Command == "" {
			s.closeReverse()
			return &StartupError{Provider: spec.ID, Err: fmt.Errorf("spec needs id and command")}
		}

		s.logger.Info().Str("provider", spec.ID).Str("command", spec.Command).Msg("Starting provider")
		conn, err := s.launch(ctx, spec)
		if err != nil {
			s.closeReverse()
			return &StartupError{Provider: spec.ID, Err: err}
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
	}

	return nil
}

// Connections returns the started connections in acquisition order.
func (s *Supervisor) Connections() []Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]Conn, len(s.conns))
	copy(conns, s.conns)
	return conns
}

// StartKeepalive schedules a ping of every connection on the given cron
// expression. A failed ping is logged, not fatal: the next dispatch to
// that provider will surface the real error.
func (s *Supervisor) StartKeepalive(schedule string) error {
	if s.keepalive != nil {
		return fmt.Errorf("keepalive already running")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		for _, conn := range s.Connections() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := conn.Ping(ctx); err != nil {
				s.logger.Warn().Str("provider", conn.ID()).Err(err).Msg("Keepalive ping failed")
			}
			cancel()
		}
	})
	if err != nil {
		return fmt.Errorf("invalid keepalive schedule %q: %w", schedule, err)
	}

	c.Start()
	s.keepalive = c
	s.logger.Info().Str("schedule", schedule).Msg("Keepalive started")
	return nil
}

// Close tears down all connections in reverse acquisition order. Any
// keepalive job still running is waited for first, so no ping can race
// the teardown. Idempotent; returns the first close error encountered.
func (s *Supervisor) Close() error {
	if s.keepalive != nil {
		<-s.keepalive.Stop().Done()
		s.keepalive = nil
	}
	return s.closeReverse()
}

func (s *Supervisor) closeReverse() error {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	var firstErr error
	for i := len(conns) - 1; i >= 0; i-- {
		conn := conns[i]
		if err := conn.Close(); err != nil {
			s.logger.Error().Str("provider", conn.ID()).Err(err).Msg("Failed to close provider")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
