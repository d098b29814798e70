package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	dispute "github.com/goliatone/go-dispute"
)

// Purger drops stale entries and reports how many went.
type Purger interface {
	Purge() int
}

// PendingLister lists runs parked for a review decision.
type PendingLister interface {
	ListPending(ctx context.Context) ([]*dispute.Run, error)
}

// ReviewNotifier re-sends review requests.
type ReviewNotifier interface {
	NotifyPendingReview(ctx context.Context, req dispute.ReviewRequest) error
}

// CacheSweep returns a job that purges expired cached proposals.
func CacheSweep(cache Purger, logger Logger) Job {
	return func(context.Context) error {
		if cache == nil {
			return nil
		}
		if n := cache.Purge(); n > 0 && logger != nil {
			logger.Info("cache sweep removed %d expired proposals", n)
		}
		return nil
	}
}

// ReviewReminder re-notifies reviewers about runs that have waited longer
// than After. Each run is reminded at most once per After window.
type ReviewReminder struct {
	Runs     PendingLister
	Notifier ReviewNotifier
	After    time.Duration
	Logger   Logger
	Now      func() time.Time

	mu       sync.Mutex
	reminded map[string]time.Time
}

// Run sends the due reminders. Notification failures are joined and
// returned after every due run was attempted.
func (r *ReviewReminder) Run(ctx context.Context) error {
	if r.Runs == nil || r.Notifier == nil {
		return nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	at := now().UTC()

	runs, err := r.Runs.ListPending(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.reminded == nil {
		r.reminded = make(map[string]time.Time)
	}
	live := make(map[string]bool, len(runs))
	var due []*dispute.Run
	for _, run := range runs {
		live[run.RunID] = true
		if !r.due(run, at) {
			continue
		}
		due = append(due, run)
	}
	for id := range r.reminded {
		if !live[id] {
			delete(r.reminded, id)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, run := range due {
		req := dispute.NewReviewRequest(run, at)
		req.Reminder = true
		if err := r.Notifier.NotifyPendingReview(ctx, req); err != nil {
			errs = append(errs, err)
			continue
		}
		r.mu.Lock()
		r.reminded[run.RunID] = at
		r.mu.Unlock()
		if r.Logger != nil {
			r.Logger.Info("review reminder sent for run %s (case %s)", run.RunID, run.CaseID)
		}
	}
	return errors.Join(errs...)
}

func (r *ReviewReminder) due(run *dispute.Run, at time.Time) bool {
	requested := run.HumanReview.RequestedAt
	if requested == nil || at.Sub(*requested) < r.After {
		return false
	}
	last, ok := r.reminded[run.RunID]
	return !ok || at.Sub(last) >= r.After
}

// Maintenance holds the schedules for the built-in jobs. Empty expressions
// disable a job.
type Maintenance struct {
	CacheSweep     string
	ReviewReminder string
	Timeout        time.Duration
}

// RegisterMaintenance schedules the cache sweep and the review reminder.
func RegisterMaintenance(s *Scheduler, cfg Maintenance, cache Purger, reminder *ReviewReminder) ([]Handle, error) {
	var handles []Handle
	if cfg.CacheSweep != "" && cache != nil {
		h, err := s.ScheduleCron(JobConfig{Name: "cache-sweep", Expression: cfg.CacheSweep, Timeout: cfg.Timeout}, CacheSweep(cache, s.logger))
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	if cfg.ReviewReminder != "" && reminder != nil {
		h, err := s.ScheduleCron(JobConfig{Name: "review-reminder", Expression: cfg.ReviewReminder, Timeout: cfg.Timeout}, reminder.Run)
		if err != nil {
			for _, prev := range handles {
				prev.Cancel()
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}
