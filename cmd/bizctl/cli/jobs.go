package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/bizdesk/bizdesk/jobs"
)

// Queue is the job queue surface used by the jobs commands.
type Queue interface {
	Trigger(ctx context.Context, name string, fix bool) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context, queue string) (QueueStats, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a maintenance job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, fix bool) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.TaskByName(name, fix)
	if err != nil {
		return nil, err
	}
	return c.client.Enqueue(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Failed    int
}

// InspectQueue reports the metrics of one queue.
func (c *JobsCLI) InspectQueue(_ context.Context, queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	stats := QueueStats{Queue: queue}
	info, err := c.inspector.GetQueueInfo(queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return stats, nil
	}
	if err != nil {
		return QueueStats{}, err
	}
	stats.Pending = info.Pending
	stats.Active = info.Active
	stats.Scheduled = info.Scheduled
	stats.Retry = info.Retry
	stats.Failed = info.Failed
	return stats, nil
}

func newJobsCommand(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	withQueue := func(run func(cmd *cobra.Command, q Queue, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if deps.Queue == nil {
				return errors.New("job queue not configured")
			}
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			q, err := deps.Queue(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()
			return run(cmd, q, args)
		}
	}

	var fix bool
	trigger := &cobra.Command{
		Use:       "trigger <reconcile|rollforward|cleanup>",
		Short:     "Enqueue a maintenance job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"reconcile", "rollforward", "cleanup"},
		RunE: withQueue(func(cmd *cobra.Command, q Queue, args []string) error {
			info, err := q.Trigger(cmd.Context(), args[0], fix)
			if err != nil {
				return err
			}
			deps.Logger.Info("job enqueued", slog.String("type", info.Type), slog.String("id", info.ID))
			cmd.Printf("enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
			return nil
		}),
	}
	trigger.Flags().BoolVar(&fix, "fix", false, "let the reconcile job rewrite drifted balances")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		Args:  cobra.NoArgs,
		RunE: withQueue(func(cmd *cobra.Command, q Queue, _ []string) error {
			for _, name := range []string{jobs.QueueDefault, jobs.QueueMail} {
				s, err := q.InspectQueue(cmd.Context(), name)
				if err != nil {
					return err
				}
				cmd.Printf("%-8s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Failed)
			}
			return nil
		}),
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}
