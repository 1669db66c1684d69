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
	"github.com/bizdesk/bizdesk/internal/ledger"
	"github.com/bizdesk/bizdesk/internal/platform/cache"
	"github.com/bizdesk/bizdesk/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// defaultLockTTL bounds how long a crashed worker can block the next run.
const defaultLockTTL = 10 * time.Minute

// BalanceReconciler recomputes client balances.
type BalanceReconciler interface {
	ReconcileBalances(ctx context.Context, fix bool) (*ledger.ReconcileReport, error)
}

// ReconcileJob runs balance reconciliation under a Redis lock so only one
// worker processes it at a time.
type ReconcileJob struct {
	Ledger  BalanceReconciler
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// NewReconcileJob constructs the reconciliation handler.
func NewReconcileJob(reconciler BalanceReconciler, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Ledger: reconciler, Redis: client, Logger: logger, Metrics: metrics, LockTTL: defaultLockTTL}
}

// Handle executes a TaskReconcileBalances task.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := j.log().With(slog.Bool("fix", payload.Fix))

	release, err := acquireJobLock(ctx, j.Redis, TaskReconcileBalances, j.LockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		logger.Info("reconciliation already running, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	tracker := j.metrics().Track(TaskReconcileBalances)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	report, err := j.Ledger.ReconcileBalances(ctx, payload.Fix)
	if err != nil {
		logger.Error("reconcile balances", slog.Any("error", err))
		return err
	}
	kind := "drift"
	if report.Fixed {
		kind = "fixed"
	}
	j.metrics().AddItems(TaskReconcileBalances, kind, len(report.Drifts))
	logger.Info("reconciliation finished",
		slog.Int("clients", report.ClientsChecked),
		slog.Int("drifts", len(report.Drifts)))
	return nil
}

func (j *ReconcileJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileBalances))
	}
	return slog.Default().With(slog.String("job", TaskReconcileBalances))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// acquireJobLock takes the singleton lock for job. A nil client disables
// locking, which is how single-process deployments and the CLI run.
func acquireJobLock(ctx context.Context, client *redis.Client, job string, ttl time.Duration) (func(), error) {
	if client == nil {
		return func() {}, nil
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lock, err := cache.Acquire(ctx, client, shared.JobLockKey(job), ttl)
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
