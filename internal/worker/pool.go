// Package worker implements the Background Worker Pool (C7): a bounded set
// of goroutines that claim pending tasks from the queue store, drive them
// through the orchestrator, publish progress to the connection manager, and
// persist the final result, plus a cron-scheduled janitor for stale
// processing rows and old completed tasks.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/zeusagent/zeus/internal/infra"
	"github.com/zeusagent/zeus/internal/modelclient"
	"github.com/zeusagent/zeus/internal/orchestrator"
	"github.com/zeusagent/zeus/internal/queue"
	"github.com/zeusagent/zeus/pkg/models"
)

// ProgressSink publishes live task state. Satisfied by *connmgr.Manager.
type ProgressSink interface {
	SendTaskStatus(ctx context.Context, task *models.Task)
	SendTaskProgress(ctx context.Context, conversationID string, p models.Progress)
}

// TierResolver builds the orchestrator.Tiers a task should run against,
// given its ModelSelection. Lets the caller bind concrete providers without
// this package importing every provider constructor.
type TierResolver func(models.ModelSelection) orchestrator.Tiers

// Config configures the worker pool.
type Config struct {
	Concurrency     int
	PollInterval    time.Duration
	CleanupSchedule string // cron expression, e.g. "0 */1 * * *"
	StuckAfter      time.Duration
	RetainCompleted time.Duration
	Logger          *slog.Logger
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = "0 * * * *"
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 30 * time.Minute
	}
	if c.RetainCompleted <= 0 {
		c.RetainCompleted = 7 * 24 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

var (
	tasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zeus_worker_tasks_total",
		Help: "Tasks processed by the background worker pool, by terminal status.",
	}, []string{"status"})
	taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zeus_worker_task_duration_seconds",
		Help:    "Wall-clock duration of a background task from claim to terminal status.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	tierUsage = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zeus_worker_tier_used_total",
		Help: "Which model tier produced the final response for a task.",
	}, []string{"tier"})
)

func init() {
	prometheus.MustRegister(tasksProcessed, taskDuration, tierUsage)
}

// Pool drives tasks from a queue.Store through the orchestrator.
type Pool struct {
	cfg    Config
	store  queue.Store
	orch   *orchestrator.Orchestrator
	tiers  TierResolver
	sink   ProgressSink
	pool   *infra.WorkerPool[*models.Task, struct{}]
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New builds a worker pool bound to the given queue store, orchestrator,
// and progress sink. Call Start to begin claiming and processing tasks.
func New(store queue.Store, orch *orchestrator.Orchestrator, tiers TierResolver, sink ProgressSink, cfg Config) *Pool {
	cfg.withDefaults()
	p := &Pool{cfg: cfg, store: store, orch: orch, tiers: tiers, sink: sink}
	p.pool = infra.NewWorkerPool(infra.WorkerPoolConfig[*models.Task, struct{}]{
		Workers:   cfg.Concurrency,
		QueueSize: cfg.Concurrency * 4,
		Processor: p.process,
	})
	return p
}

// Start resets any tasks left "processing" from a prior crash, begins the
// worker goroutines, and starts the cron-scheduled cleanup janitor.
func (p *Pool) Start(ctx context.Context) error {
	if _, err := p.store.ResetStuck(ctx, 0); err != nil {
		return fmt.Errorf("worker: reset stuck tasks at startup: %w", err)
	}
	p.pool.Start()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.pollLoop(runCtx)

	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.cfg.CleanupSchedule, func() {
		p.runCleanup(context.Background())
	}); err != nil {
		return fmt.Errorf("worker: schedule cleanup: %w", err)
	}
	p.cron.Start()
	return nil
}

// Stop halts polling, drains in-flight work, and stops the cron scheduler.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.cron != nil {
		p.cron.Stop()
	}
	p.pool.Stop()
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.claimReady(ctx)
		}
	}
}

func (p *Pool) claimReady(ctx context.Context) {
	pending, err := p.store.ListPending(ctx, p.cfg.Concurrency*4)
	if err != nil {
		p.cfg.Logger.Error("worker: list pending failed", "error", err)
		return
	}
	for _, t := range pending {
		ok, err := p.store.Claim(ctx, t.ID)
		if err != nil {
			p.cfg.Logger.Error("worker: claim failed", "task_id", t.ID, "error", err)
			continue
		}
		if !ok {
			continue // claimed by a concurrent worker or no longer pending
		}
		claimed, err := p.store.Get(ctx, t.ID)
		if err != nil {
			p.cfg.Logger.Error("worker: get claimed task failed", "task_id", t.ID, "error", err)
			continue
		}
		if !p.pool.Submit(infra.Job[*models.Task]{ID: t.ID, Data: claimed, Context: ctx}) {
			p.cfg.Logger.Warn("worker: queue full, leaving task processing until next poll", "task_id", t.ID)
		}
	}
}

func (p *Pool) process(ctx context.Context, task *models.Task) (struct{}, error) {
	started := time.Now()
	p.sink.SendTaskStatus(ctx, task)

	progress := func(message string, step models.ProgressStep) {
		_, _ = p.store.AppendProgress(ctx, task.ID, message, step)
		p.sink.SendTaskProgress(ctx, task.ConversationID, models.Progress{Timestamp: time.Now(), Message: message, Step: step})
	}

	result := p.orch.Run(ctx, orchestrator.Request{
		ConversationID: task.ConversationID,
		Messages:       []modelclient.Message{{Role: modelclient.RoleUser, Content: task.UserMessage}},
		Tiers:          p.tiers(task.Models),
		RequireFinishTool: true,
		Progress:       progress,
	})
	tierUsage.WithLabelValues(result.TierUsed).Inc()
	taskDuration.Observe(time.Since(started).Seconds())

	toolCalls := convertToolCalls(result.ToolCalls)
	switch {
	case result.Cancelled:
		tasksProcessed.WithLabelValues(string(models.TaskCancelled)).Inc()
		_ = p.store.UpdateStatus(ctx, task.ID, models.TaskCancelled, "", "cancelled", nil)
	case result.Err != nil:
		tasksProcessed.WithLabelValues(string(models.TaskFailed)).Inc()
		_ = p.store.UpdateStatus(ctx, task.ID, models.TaskFailed, "", result.Err.Error(), toolCalls)
	default:
		tasksProcessed.WithLabelValues(string(models.TaskCompleted)).Inc()
		_ = p.store.UpdateStatus(ctx, task.ID, models.TaskCompleted, result.Content, "", toolCalls)
	}

	final, err := p.store.Get(ctx, task.ID)
	if err == nil {
		p.sink.SendTaskStatus(ctx, final)
	}
	return struct{}{}, nil
}

func convertToolCalls(calls []modelclient.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = models.ToolCall{ID: c.ID, Name: c.Name, Input: c.Arguments}
	}
	return out
}

func (p *Pool) runCleanup(ctx context.Context) {
	if _, err := p.store.ResetStuck(ctx, p.cfg.StuckAfter); err != nil {
		p.cfg.Logger.Error("worker: cleanup reset stuck failed", "error", err)
	}
	if _, err := p.store.CleanupOld(ctx, p.cfg.RetainCompleted); err != nil {
		p.cfg.Logger.Error("worker: cleanup old tasks failed", "error", err)
	}
}
