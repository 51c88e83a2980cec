// Package scheduler runs the periodic balance sweep on a clock-aligned
// schedule. Intervals are given either as a Go duration ("5m") or as a
// raw cron expression; durations are rewritten into cron so runs land
// on clock boundaries instead of drifting from process start time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// SweepFunc is the signature of the scheduled balance sweep.
type SweepFunc func(ctx context.Context) error

// Scheduler wraps gocron v2 around a single recurring sweep job.
type Scheduler struct {
	inner          gocron.Scheduler
	job            gocron.Job
	interval       string
	runImmediately bool
}

// Config holds scheduler configuration.
type Config struct {
	// Interval is a duration ("5m") or a 5/6-field cron expression.
	Interval string
	// RunImmediately fires the sweep once before the schedule starts.
	RunImmediately bool
}

// cronPattern matches 5 or 6 space-separated cron fields.
var cronPattern = regexp.MustCompile(`^(\S+\s+){4,5}\S+$`)

// New builds the scheduler with the sweep registered but not started.
func New(ctx context.Context, cfg Config, sweep SweepFunc) (*Scheduler, error) {
	inner, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(slogGocron{}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	cronExpr := cfg.Interval
	if !isCronExpression(cfg.Interval) {
		cronExpr, err = durationToCron(cfg.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %w", err)
		}
		slog.Info("Converted interval to cron", "interval", cfg.Interval, "cron", cronExpr)
	}

	job, err := inner.NewJob(
		gocron.CronJob(cronExpr, strings.Count(cronExpr, " ") == 5),
		gocron.NewTask(func() {
			if err := sweep(ctx); err != nil {
				slog.Error("Balance sweep failed", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduling sweep: %w", err)
	}

	return &Scheduler{
		inner:          inner,
		job:            job,
		interval:       cfg.Interval,
		runImmediately: cfg.RunImmediately,
	}, nil
}

// Start begins the schedule, optionally firing the sweep right away.
func (s *Scheduler) Start() {
	if s.runImmediately {
		if err := s.job.RunNow(); err != nil {
			slog.Error("Immediate sweep failed to start", "error", err)
		}
	}

	s.inner.Start()

	if next, err := s.job.NextRun(); err == nil {
		slog.Info("Scheduler started", "next_run", next.Format(time.RFC3339))
	} else {
		slog.Info("Scheduler started")
	}
}

// Stop shuts the scheduler down, waiting for a running sweep.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.inner.Shutdown()
}

// NextRun returns the next scheduled sweep time.
func (s *Scheduler) NextRun() (time.Time, error) {
	return s.job.NextRun()
}

// ExpectedInterval is the nominal gap between sweeps, used by the
// health checker's grace period. Irregular cron schedules fall back to
// a conservative default.
func (s *Scheduler) ExpectedInterval() time.Duration {
	if d, err := time.ParseDuration(s.interval); err == nil {
		return d
	}
	return 5 * time.Minute
}

// ValidateInterval rejects intervals that New would refuse. Empty means
// one-shot mode and is valid.
func ValidateInterval(interval string) error {
	if interval == "" {
		return nil
	}
	if isCronExpression(interval) {
		fields := strings.Fields(interval)
		if len(fields) != 5 && len(fields) != 6 {
			return errors.New("cron expression must have 5 or 6 fields")
		}
		return nil
	}
	_, err := durationToCron(interval)
	return err
}

func isCronExpression(s string) bool {
	return cronPattern.MatchString(s)
}

// durationToCron rewrites a duration into a clock-aligned cron
// expression: "5m" -> "*/5 * * * *", "30s" -> "*/30 * * * * *",
// "2h" -> "0 */2 * * *". The unit must divide its clock period evenly.
func durationToCron(durationStr string) (string, error) {
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return "", fmt.Errorf("invalid duration format: %w", err)
	}

	switch {
	case duration < time.Minute:
		seconds := int(duration.Seconds())
		if seconds == 0 || 60%seconds != 0 {
			return "", fmt.Errorf("second intervals must divide evenly into 60 (got %ds)", seconds)
		}
		return fmt.Sprintf("*/%d * * * * *", seconds), nil

	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if duration%time.Minute != 0 || 60%minutes != 0 {
			return "", fmt.Errorf("minute intervals must divide evenly into 60 (got %s)", durationStr)
		}
		return fmt.Sprintf("*/%d * * * *", minutes), nil

	case duration%time.Hour == 0:
		hours := int(duration.Hours())
		if 24%hours != 0 {
			return "", fmt.Errorf("hour intervals must divide evenly into 24 (got %dh)", hours)
		}
		return fmt.Sprintf("0 */%d * * *", hours), nil

	default:
		return "", fmt.Errorf("duration must be whole seconds, minutes, or hours (got %s)", durationStr)
	}
}

// slogGocron forwards gocron's internal logging to slog.
type slogGocron struct{}

func (slogGocron) Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func (slogGocron) Info(msg string, args ...any)  { slog.Info(msg, args...) }
func (slogGocron) Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func (slogGocron) Error(msg string, args ...any) { slog.Error(msg, args...) }
