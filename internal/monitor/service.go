// Package monitor runs the polling cycle: collect reports, log positions, advance
// presence and commit the resulting events.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yegors/fleetwatch/internal/events"
	"github.com/yegors/fleetwatch/internal/fleet"
	"github.com/yegors/fleetwatch/internal/presence"
	"github.com/yegors/fleetwatch/pkg/logger"
)

// Collector returns at most one report per tracked aircraft
type Collector interface {
	Collect(ctx context.Context, hexes []string) map[string]fleet.Report
	Sources() []string
}

// Store is the part of the fleet log the poller touches
type Store interface {
	presence.Snapshot
	AppendPosition(ctx context.Context, p fleet.PositionSample) error
}

// Committer writes presence intents
type Committer interface {
	Commit(ctx context.Context, in presence.Intent) (events.Outcome, error)
}

// Status is a point-in-time view of the poller
type Status struct {
	Monitored   []fleet.Aircraft `json:"monitored"`
	Flying      []fleet.Aircraft `json:"flying"`
	Sources     []string         `json:"sources"`
	LastCycle   time.Time        `json:"last_cycle"`
	LastCycleOK bool             `json:"last_cycle_ok"`
	Observed    int              `json:"observed"`
	Cycles      int64            `json:"cycles"`
}

// Service is the single writer of presence state
type Service struct {
	interval  time.Duration
	tracker   *presence.Tracker
	collector Collector
	store     Store
	gate      Committer
	now       func() time.Time
	logger    *logger.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	status Status
}

// NewService creates the poller
func NewService(interval time.Duration, tracker *presence.Tracker, collector Collector, store Store, gate Committer, log *logger.Logger) *Service {
	s := &Service{
		interval:  interval,
		tracker:   tracker,
		collector: collector,
		store:     store,
		gate:      gate,
		now:       time.Now,
		logger:    log.Named("monitor"),
		stopCh:    make(chan struct{}),
	}
	s.status = Status{
		Monitored: tracker.Aircraft(),
		Flying:    []fleet.Aircraft{},
		Sources:   collector.Sources(),
	}
	return s
}

// SetClock replaces the wall clock
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start restores presence from the log, runs a first cycle and starts the loop
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting fleet monitor",
		logger.Duration("poll_interval", s.interval),
		logger.Int("aircraft", len(s.tracker.Aircraft())))

	s.tracker.Restore(ctx, s.store, s.now())
	s.publishStatus(time.Time{}, false, 0, false)

	if err := s.RunCycle(ctx); err != nil {
		s.logger.Error("Initial cycle failed", logger.Error(err))
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)
	return nil
}

// Stop ends the loop and waits for an in-progress cycle
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping fleet monitor")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Service) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.logger.Error("Cycle failed", logger.Error(err))
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle performs one polling cycle. Store failures drop the affected row and are
// reported together after the cycle completes.
func (s *Service) RunCycle(ctx context.Context) error {
	now := s.now()
	aircraft := s.tracker.Aircraft()

	hexes := make([]string, len(aircraft))
	for i, a := range aircraft {
		hexes[i] = a.ICAO24
	}
	reports := s.collector.Collect(ctx, hexes)

	var errs []error
	for _, a := range aircraft {
		r, ok := reports[a.ICAO24]
		if !ok {
			continue
		}
		if err := s.store.AppendPosition(ctx, fleet.SampleFromReport(a.ID, now, r)); err != nil {
			s.logger.Error("Failed to store position",
				logger.String("tail", a.TailNumber),
				logger.Error(err))
			errs = append(errs, err)
		}
	}

	written := 0
	for _, in := range s.tracker.Observe(now, reports) {
		outcome, err := s.gate.Commit(ctx, in)
		if err != nil {
			s.logger.Error("Failed to commit event",
				logger.String("tail", in.Aircraft.TailNumber),
				logger.String("type", string(in.Kind)),
				logger.Error(err))
			errs = append(errs, err)
			continue
		}
		if outcome == events.Written {
			written++
		}
	}

	err := errors.Join(errs...)
	s.publishStatus(now, err == nil, len(reports), true)

	s.logger.Debug("Cycle complete",
		logger.Int("observed", len(reports)),
		logger.Int("events", written),
		logger.Int("errors", len(errs)))
	return err
}

func (s *Service) publishStatus(at time.Time, ok bool, observed int, cycled bool) {
	flying := s.tracker.Flying()
	if flying == nil {
		flying = []fleet.Aircraft{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Flying = flying
	if cycled {
		s.status.LastCycle = at
		s.status.LastCycleOK = ok
		s.status.Observed = observed
		s.status.Cycles++
	}
}

// Status returns a copy of the current status
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Monitored = append([]fleet.Aircraft(nil), s.status.Monitored...)
	st.Flying = append([]fleet.Aircraft{}, s.status.Flying...)
	st.Sources = append([]string(nil), s.status.Sources...)
	return st
}
