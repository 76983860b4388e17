package backup

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Scheduler triggers periodic incremental backups. Schedules use the
// "@every <duration>" form. A tick that lands while another session
// holds the gate is skipped, not queued.
type Scheduler struct {
	coord     *Coordinator
	interval  time.Duration
	doArchive bool
	log       *slog.Logger
	stop      chan struct{}
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

// NewScheduler builds a scheduler for the given schedule expression.
func NewScheduler(coord *Coordinator, schedule string, doArchive bool, log *slog.Logger) (*Scheduler, error) {
	d, err := parseEvery(schedule)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{coord: coord, interval: d, doArchive: doArchive, log: log, stop: make(chan struct{})}, nil
}

// Start launches the tick loop. Call Stop to end it.
func (s *Scheduler) Start() {
	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if s.coord.gate.Busy() {
		s.log.Debug("scheduled backup skipped, session active")
		return
	}
	if _, err := s.coord.Run(Incremental, s.doArchive); err != nil {
		s.log.Error("scheduled backup failed", "err", err)
	}
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() { close(s.stop) }
