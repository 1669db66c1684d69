package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/bizdesk/bizdesk/internal/jobs"
	"github.com/bizdesk/bizdesk/internal/platform/cache"
	"github.com/bizdesk/bizdesk/internal/subscriptions"
)

// SubscriptionRoller advances subscription payment dates.
type SubscriptionRoller interface {
	RollForward(ctx context.Context, asOf time.Time) (*subscriptions.RollForwardResult, error)
}

// RollForwardJob advances overdue subscriptions to their next payment date.
type RollForwardJob struct {
	Subscriptions SubscriptionRoller
	Redis         *redis.Client
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	LockTTL       time.Duration
	clock         func() time.Time
}

// NewRollForwardJob constructs the roll-forward handler.
func NewRollForwardJob(roller SubscriptionRoller, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *RollForwardJob {
	return &RollForwardJob{
		Subscriptions: roller,
		Redis:         client,
		Logger:        logger,
		Metrics:       metrics,
		LockTTL:       defaultLockTTL,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the clock used when a task carries no date.
func (j *RollForwardJob) WithClock(clock func() time.Time) *RollForwardJob {
	if clock != nil {
		j.clock = clock
	}
	return j
}

// Handle executes a TaskSubscriptionRollForward task.
func (j *RollForwardJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Subscriptions == nil {
		return errors.New("roll forward: handler not configured")
	}
	var payload RollForwardPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}
	logger := j.log().With(slog.String("as_of", asOf.Format(time.DateOnly)))

	release, err := acquireJobLock(ctx, j.Redis, TaskSubscriptionRollForward, j.LockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		logger.Info("roll forward already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	tracker := j.metrics().Track(TaskSubscriptionRollForward)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	result, err := j.Subscriptions.RollForward(ctx, asOf)
	if err != nil {
		logger.Error("roll forward subscriptions", slog.Any("error", err))
		return err
	}
	j.metrics().AddItems(TaskSubscriptionRollForward, "advanced", result.Advanced)
	logger.Info("roll forward finished",
		slog.Int("examined", result.Examined),
		slog.Int("advanced", result.Advanced))
	return nil
}

func (j *RollForwardJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *RollForwardJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSubscriptionRollForward))
	}
	return slog.Default().With(slog.String("job", TaskSubscriptionRollForward))
}

func (j *RollForwardJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
