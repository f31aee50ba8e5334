// Package scheduler manages the engine's job lifecycle against the KRX
// trading calendar.
//
// Job schedule:
//
// Nightly jobs (most important):
//   - Sync the daily OHLCV cache for the watchlist
//   - Run the momentum selector and size the next day's candidates
//   - Persist the resulting watchlist for the market-hour jobs to read
//
// Market hour jobs:
//   - Drive the realtime position monitor off the WebSocket stream
//   - Place entries for the selected watchlist
//   - Manage exits only — no new selection runs during the session
//
// Weekly jobs:
//   - Rebuild the tradable universe (liquidity/sector metadata refresh)
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/This-HW/hantu-quant-sub002/internal/market"
)

// nightlyBuffer is how long after the close the scheduler waits before the
// nightly cycle is considered due, giving KIS settlement data time to land.
const nightlyBuffer = 30 * time.Minute

// JobType categorizes when a job should run.
type JobType string

const (
	JobTypeNightly    JobType = "NIGHTLY"
	JobTypeMarketHour JobType = "MARKET_HOUR"
	JobTypeWeekly     JobType = "WEEKLY"
)

// Job represents a scheduled task.
type Job struct {
	Name     string
	Type     JobType
	RunFunc  func(ctx context.Context) error
}

// Scheduler manages and executes jobs based on market state.
type Scheduler struct {
	calendar *market.Calendar
	jobs     []Job
	logger   *log.Logger
}

// New creates a new scheduler.
func New(calendar *market.Calendar, logger *log.Logger) *Scheduler {
	return &Scheduler{
		calendar: calendar,
		logger:   logger,
	}
}

// RegisterJob adds a job to the scheduler.
func (s *Scheduler) RegisterJob(job Job) {
	s.jobs = append(s.jobs, job)
	s.logger.Printf("[scheduler] registered job: %s (type: %s)", job.Name, job.Type)
}

// RunNightlyJobs executes all nightly jobs in sequence.
// These run after KRX close, typically around 18:00–20:00 KST.
// This is the most important job cycle — it prepares the next trading day.
func (s *Scheduler) RunNightlyJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] starting nightly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeNightly {
			continue
		}

		s.logger.Printf("[scheduler] running nightly job: %s", job.Name)
		start := time.Now()

		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED nightly job %s: %v", job.Name, err)
			return fmt.Errorf("nightly job %s failed: %w", job.Name, err)
		}

		s.logger.Printf("[scheduler] completed nightly job %s in %v", job.Name, time.Since(start))
	}

	s.logger.Println("[scheduler] nightly job cycle complete")
	return nil
}

// RunMarketHourJobs executes market-hour jobs.
// These run during KRX market hours (09:00–15:30 KST, earlier on a half day).
// They monitor the watchlist and execute pre-planned trades.
func (s *Scheduler) RunMarketHourJobs(ctx context.Context) error {
	now := time.Now()

	if !s.calendar.IsMarketOpen(now) {
		s.logger.Println("[scheduler] market is closed, skipping market-hour jobs")
		return nil
	}

	if hour, min, ok := s.calendar.IsEarlyClose(now); ok {
		s.logger.Printf("[scheduler] today is a KRX half day, closing at %02d:%02d KST", hour, min)
	}

	s.logger.Println("[scheduler] starting market-hour job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeMarketHour {
			continue
		}

		s.logger.Printf("[scheduler] running market-hour job: %s", job.Name)
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED market-hour job %s: %v", job.Name, err)
			// Market-hour job failures are logged but don't stop other jobs.
			// Safety: better to log and continue than halt the system.
		}
	}

	return nil
}

// ForceRunMarketHourJobs runs market-hour jobs without checking
// whether the market is currently open. Used in integration tests
// that need to exercise the full pipeline outside of KST 09:00–15:30.
func (s *Scheduler) ForceRunMarketHourJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] force-running market-hour jobs (calendar check skipped)")

	for _, job := range s.jobs {
		if job.Type != JobTypeMarketHour {
			continue
		}

		s.logger.Printf("[scheduler] running market-hour job: %s", job.Name)
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED market-hour job %s: %v", job.Name, err)
			// Same policy as RunMarketHourJobs: log and continue.
		}
	}

	return nil
}

// RunWeeklyJobs executes weekly maintenance jobs.
// These typically run on weekends.
func (s *Scheduler) RunWeeklyJobs(ctx context.Context) error {
	s.logger.Println("[scheduler] starting weekly job cycle")

	for _, job := range s.jobs {
		if job.Type != JobTypeWeekly {
			continue
		}

		s.logger.Printf("[scheduler] running weekly job: %s", job.Name)
		if err := job.RunFunc(ctx); err != nil {
			s.logger.Printf("[scheduler] FAILED weekly job %s: %v", job.Name, err)
			return fmt.Errorf("weekly job %s failed: %w", job.Name, err)
		}
	}

	s.logger.Println("[scheduler] weekly job cycle complete")
	return nil
}

// NightlyWindowStart returns when the nightly job cycle for today's
// session becomes due: the close time plus nightlyBuffer, using the
// adjusted close on a KRX half day instead of the regular 15:30.
func (s *Scheduler) NightlyWindowStart(now time.Time) time.Time {
	t := now.In(market.KST)
	hour, min := market.MarketCloseHour, market.MarketCloseMin
	if h, m, ok := s.calendar.IsEarlyClose(t); ok {
		hour, min = h, m
	}
	closeTime := time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, market.KST)
	return closeTime.Add(nightlyBuffer)
}

// Status returns current market state information.
func (s *Scheduler) Status() string {
	now := time.Now()
	isOpen := s.calendar.IsMarketOpen(now)
	isTrading := s.calendar.IsTradingDay(now)
	nextSession := s.calendar.TimeUntilNextSession(now)

	status := fmt.Sprintf(
		"Market Status: open=%v trading_day=%v next_session_in=%v",
		isOpen, isTrading, nextSession.Round(time.Minute),
	)

	if reason := s.calendar.HolidayReason(now); reason != "" {
		status += fmt.Sprintf(" holiday=%s", reason)
	}
	if hour, min, ok := s.calendar.IsEarlyClose(now); ok {
		status += fmt.Sprintf(" half_day_close=%02d:%02d", hour, min)
	}

	return status
}
