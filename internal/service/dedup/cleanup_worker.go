package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 30 * 24 * time.Hour
)

var (
	dedupCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agroms_dedup_cleanup_runs_total",
		Help: "Total number of processed events cleanup runs grouped by result.",
	}, []string{"result"})
	dedupCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agroms_dedup_cleanup_deleted_total",
		Help: "Total number of deleted processed event marks.",
	})
	dedupCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agroms_dedup_cleanup_last_deleted",
		Help: "Number of deleted marks during the last cleanup run.",
	})
)

// CleanupOptions задает параметры воркера очистки таблицы обработанных событий.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задает срок хранения отметок. Срок должен с запасом
// перекрывать максимальную задержку повторной доставки у брокера.
func WithRetention(retention time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Retention = retention
	}
}

// CleanupWorker периодически удаляет устаревшие отметки об обработанных
// событиях, чтобы таблица дедупликации не росла бесконечно.
type CleanupWorker struct {
	repo      domain.ProcessedEventRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
}

// NewCleanupWorker создает воркер очистки отметок.
func NewCleanupWorker(repo domain.ProcessedEventRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		Retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "dedup-cleanup-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("dedup cleanup worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx, time.Now().UTC().Add(-w.retention))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx, time.Now().UTC().Add(-w.retention))
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context, before time.Time) {
	deleted, err := w.DeleteExpired(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		dedupCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("dedup cleanup run failed")
		return
	}

	dedupCleanupRunsTotal.WithLabelValues("ok").Inc()
	dedupCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("dedup cleanup completed")
	}
}

// DeleteExpired удаляет все отметки старше before порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			dedupCleanupDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
