package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/services"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	JobProcessDue     = "process-due-notifications"
	JobCleanupExpired = "cleanup-expired-notifications"
	JobDailyDigest    = "generate-daily-digest"

	DefaultBatchSize   = 500
	DefaultConcurrency = 8

	// maxProcessRounds caps how many full batches one tick works through.
	maxProcessRounds = 20
)

// JobSpecs holds the cron expressions of the standard jobs.
type JobSpecs struct {
	ProcessDue string
	Cleanup    string
	Digest     string
}

func DefaultJobSpecs() JobSpecs {
	return JobSpecs{
		ProcessDue: "@every 5m",
		Cleanup:    "0 3 * * *",
		Digest:     "0 7 * * *",
	}
}

type ProcessStats struct {
	Found     int `json:"found"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type CleanupStats struct {
	Deleted        int64 `json:"deleted"`
	NeverDelivered int   `json:"neverDelivered"`
}

// NotificationJobs holds the run functions of the standard jobs.
type NotificationJobs struct {
	store       repositories.NotificationStore
	dispatcher  *services.Dispatcher
	digests     *services.DigestGenerator
	metrics     *services.Metrics
	batchSize   int
	concurrency int
	now         func() time.Time
}

type JobsOption func(*NotificationJobs)

func WithBatchSize(n int) JobsOption {
	return func(nj *NotificationJobs) {
		if n > 0 {
			nj.batchSize = n
		}
	}
}

func WithConcurrency(n int) JobsOption {
	return func(nj *NotificationJobs) {
		if n > 0 {
			nj.concurrency = n
		}
	}
}

func WithJobsClock(now func() time.Time) JobsOption {
	return func(nj *NotificationJobs) {
		if now != nil {
			nj.now = now
		}
	}
}

func WithJobsMetrics(m *services.Metrics) JobsOption {
	return func(nj *NotificationJobs) {
		nj.metrics = m
	}
}

// NewNotificationJobs creates the jobs. digests may be nil, in which case no
// digest job is registered.
func NewNotificationJobs(store repositories.NotificationStore, dispatcher *services.Dispatcher, digests *services.DigestGenerator, opts ...JobsOption) *NotificationJobs {
	nj := &NotificationJobs{
		store:       store,
		dispatcher:  dispatcher,
		digests:     digests,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(nj)
	}
	return nj
}

// RegisterWith adds the standard jobs to s.
func (nj *NotificationJobs) RegisterWith(s *Scheduler, specs JobSpecs) error {
	defaults := DefaultJobSpecs()
	if specs.ProcessDue == "" {
		specs.ProcessDue = defaults.ProcessDue
	}
	if specs.Cleanup == "" {
		specs.Cleanup = defaults.Cleanup
	}
	if specs.Digest == "" {
		specs.Digest = defaults.Digest
	}

	err := s.Register(JobProcessDue, specs.ProcessDue, func(ctx context.Context) error {
		_, err := nj.ProcessDue(ctx)
		return err
	})
	if err != nil {
		return err
	}

	err = s.Register(JobCleanupExpired, specs.Cleanup, func(ctx context.Context) error {
		_, err := nj.CleanupExpired(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if nj.digests == nil {
		return nil
	}
	return s.Register(JobDailyDigest, specs.Digest, func(ctx context.Context) error {
		_, err := nj.GenerateDigests(ctx)
		return err
	})
}

// ProcessDue dispatches every due notification with bounded parallelism. It
// keeps taking batches while full batches come back and progress is made.
func (nj *NotificationJobs) ProcessDue(ctx context.Context) (ProcessStats, error) {
	var (
		stats ProcessStats
		errs  error
	)

	for round := 0; round < maxProcessRounds; round++ {
		if ctx.Err() != nil {
			return stats, multierr.Append(errs, ctx.Err())
		}

		pending, err := nj.store.FindPending(ctx, nj.now(), nj.batchSize)
		if err != nil {
			return stats, multierr.Append(errs, utils.NewDatabaseError("find pending notifications", err))
		}
		if len(pending) == 0 {
			break
		}

		batch, batchErr := nj.dispatchBatch(ctx, pending)
		stats.Found += batch.Found
		stats.Delivered += batch.Delivered
		stats.Failed += batch.Failed
		stats.Skipped += batch.Skipped
		stats.Errors += batch.Errors
		errs = multierr.Append(errs, batchErr)

		progressed := batch.Delivered+batch.Failed > 0
		if len(pending) < nj.batchSize || !progressed {
			break
		}
	}

	entry := logrus.WithFields(logrus.Fields{
		"job":       JobProcessDue,
		"found":     stats.Found,
		"delivered": stats.Delivered,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
		"errors":    stats.Errors,
	})
	if stats.Found > 0 {
		entry.Info("Processed due notifications")
	} else {
		entry.Debug("No due notifications")
	}

	return stats, errs
}

func (nj *NotificationJobs) dispatchBatch(ctx context.Context, pending []models.Notification) (ProcessStats, error) {
	stats := ProcessStats{Found: len(pending)}

	var (
		mu   sync.Mutex
		errs error
	)

	// a failed dispatch must not cancel its siblings, so no group context
	var group errgroup.Group
	group.SetLimit(nj.concurrency)
	for i := range pending {
		n := &pending[i]
		group.Go(func() error {
			result, err := nj.dispatcher.Dispatch(ctx, n)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case result == nil || result.Skipped:
				stats.Skipped++
			case result.Delivered():
				stats.Delivered++
			default:
				stats.Failed++
			}
			if err != nil {
				stats.Errors++
				errs = multierr.Append(errs, fmt.Errorf("dispatch %s: %w", n.ID, err))
			}
			return nil
		})
	}
	_ = group.Wait()

	return stats, errs
}

// CleanupExpired deletes every notification past its expiry, whatever its
// status. Running it twice deletes nothing the second time.
func (nj *NotificationJobs) CleanupExpired(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	now := nj.now()

	expired, err := nj.store.FindExpired(ctx, now)
	if err != nil {
		return stats, utils.NewDatabaseError("find expired notifications", err)
	}
	for _, n := range expired {
		if !n.DeliveryMethods.AnyDelivered() {
			stats.NeverDelivered++
		}
	}

	deleted, err := nj.store.DeleteExpired(ctx, now)
	if err != nil {
		return stats, utils.NewDatabaseError("delete expired notifications", err)
	}
	stats.Deleted = deleted
	nj.metrics.AddExpiredDeleted(deleted)

	logrus.WithFields(logrus.Fields{
		"job":            JobCleanupExpired,
		"deleted":        stats.Deleted,
		"neverDelivered": stats.NeverDelivered,
	}).Info("Expired notifications cleaned up")

	return stats, nil
}

// GenerateDigests runs the daily digest for every opted-in recipient.
func (nj *NotificationJobs) GenerateDigests(ctx context.Context) (services.DigestRunStats, error) {
	if nj.digests == nil {
		return services.DigestRunStats{}, nil
	}
	return nj.digests.Run(ctx)
}
