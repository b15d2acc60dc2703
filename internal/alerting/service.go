// SPDX-License-Identifier: MIT

// Package alerting fans overvoltage alerts out to notifiers.
package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	applog "scope/internal/log"
	"scope/internal/scope"
)

const (
	queueDepth = 16

	// notifyTimeout bounds a single notifier call.
	notifyTimeout = 10 * time.Second
)

// Stats counts service activity.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"` // Within the cooldown of the previous alert
	Dropped    uint64 `json:"dropped"`    // Queue full
	Failed     uint64 `json:"failed"`     // Notifier errors
}

// Service turns alerting frames into notifications. Alerts closer together
// than the cooldown, measured on capture time, are suppressed. Notifiers run
// on a single worker goroutine so a slow webhook never blocks frame delivery.
type Service struct {
	notifiers []Notifier
	cooldown  time.Duration
	logger    zerolog.Logger

	queue chan Notification
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.Mutex
	last   time.Time
	closed bool
	stats  Stats
}

// NewService creates and starts the service. The worker runs until Close,
// which delivers everything still queued.
func NewService(cooldown time.Duration, logger zerolog.Logger, notifiers ...Notifier) (*Service, error) {
	if len(notifiers) == 0 {
		return nil, errors.New("alerting: at least one notifier is required")
	}
	if cooldown < 0 {
		return nil, errors.New("alerting: cooldown cannot be negative")
	}

	s := &Service{
		notifiers: notifiers,
		cooldown:  cooldown,
		logger:    applog.Component(logger, "alerting"),
		queue:     make(chan Notification, queueDepth),
		done:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// HandleFrame enqueues a notification for an alerting frame. It never blocks
// and may be registered directly with Controller.OnFrame.
func (s *Service) HandleFrame(f scope.Frame) {
	note, ok := NewNotification(f)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.last.IsZero() && f.Captured.Sub(s.last) < s.cooldown {
		s.stats.Suppressed++
		return
	}

	select {
	case s.queue <- note:
		s.last = f.Captured
	default:
		s.stats.Dropped++
		s.logger.Warn().Uint64("cycle", note.Cycle).Msg("Alert queue full, dropping")
	}
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops accepting alerts, delivers what is queued and waits for the
// worker.
func (s *Service) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case note := <-s.queue:
			s.deliver(note)
		case <-s.done:
			for {
				select {
				case note := <-s.queue:
					s.deliver(note)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) deliver(note Notification) {
	for _, n := range s.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		err := n.Notify(ctx, note)
		cancel()
		s.mu.Lock()
		if err != nil {
			s.stats.Failed++
		} else {
			s.stats.Sent++
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Error().Err(err).Uint64("cycle", note.Cycle).Msg("Notifier failed")
		}
	}
}
