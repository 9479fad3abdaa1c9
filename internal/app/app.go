// Package app собирает сервисы из зависимостей и управляет их жизненным
// циклом: HTTP-серверы, шина событий, фоновые воркеры, graceful shutdown.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/agroms/internal/health"
	"github.com/vladislavdragonenkov/agroms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/agroms/internal/metrics"
	"github.com/vladislavdragonenkov/agroms/internal/service/accounting"
	"github.com/vladislavdragonenkov/agroms/internal/service/dedup"
	"github.com/vladislavdragonenkov/agroms/internal/service/inventory"
	"github.com/vladislavdragonenkov/agroms/internal/service/outbox"
	"github.com/vladislavdragonenkov/agroms/internal/service/sales"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
	"github.com/vladislavdragonenkov/agroms/internal/storage/postgres"
	"github.com/vladislavdragonenkov/agroms/internal/transport/rest"
	"github.com/vladislavdragonenkov/agroms/internal/version"
)

const (
	shutdownTimeout = 5 * time.Second
	// outboxBacklogThreshold — размер backlog, после которого readiness
	// считает сервис деградировавшим.
	outboxBacklogThreshold = 1000
)

// serviceRepos — набор репозиториев, общий для всех сервисов.
// Конкретный сервис использует только своё подмножество.
type serviceRepos struct {
	sales     domain.SaleRepository
	customers domain.CustomerRepository
	payments  domain.PaymentRepository
	products  domain.ProductRepository
	movements domain.StockMovementRepository
	accounts  domain.AccountRepository
	ledger    domain.LedgerRepository
	taxes     domain.TaxRepository
	timeline  domain.TimelineRepository
	processed domain.ProcessedEventRepository
	outbox    domain.OutboxRepository
}

// buildRepos создаёт репозитории поверх PostgreSQL либо памяти.
func buildRepos(deps *Dependencies) serviceRepos {
	if deps.Store != nil {
		store := deps.Store
		return serviceRepos{
			sales:     postgres.NewSaleRepository(store),
			customers: postgres.NewCustomerRepository(store),
			payments:  postgres.NewPaymentRepository(store),
			products:  postgres.NewProductRepository(store),
			movements: postgres.NewStockMovementRepository(store),
			accounts:  postgres.NewAccountRepository(store),
			ledger:    postgres.NewLedgerRepository(store),
			taxes:     postgres.NewTaxRepository(store),
			timeline:  postgres.NewTimelineRepository(store),
			processed: postgres.NewProcessedEventRepository(store),
			outbox:    postgres.NewOutboxRepository(store),
		}
	}

	processed := memory.NewProcessedEventRepository()
	outbox := memory.NewOutboxRepository(processed)
	return serviceRepos{
		sales:     memory.NewSaleRepository(processed, outbox),
		customers: memory.NewCustomerRepository(),
		payments:  memory.NewPaymentRepository(outbox),
		products:  memory.NewProductRepository(),
		movements: memory.NewStockMovementRepository(processed, outbox),
		accounts:  memory.NewAccountRepository(),
		ledger:    memory.NewLedgerRepository(),
		taxes:     memory.NewTaxRepository(processed, outbox),
		timeline:  memory.NewTimelineRepository(),
		processed: processed,
		outbox:    outbox,
	}
}

// RunSales запускает сервис продаж.
func RunSales(ctx context.Context, cfg Config) error {
	return runService(ctx, cfg, sales.ProducerName, func(deps *Dependencies, repos serviceRepos, engine *gin.Engine) {
		guard := dedup.NewGuard(sales.ProducerName, repos.processed)
		service := sales.NewService(repos.sales, repos.customers, repos.payments, repos.timeline, repos.outbox, guard, metrics.NewSagaMetrics())
		service.Register(deps.Bus)
		rest.RegisterSalesRoutes(engine, service, deps.Verifier)
	})
}

// RunInventory запускает сервис склада.
func RunInventory(ctx context.Context, cfg Config) error {
	return runService(ctx, cfg, inventory.ProducerName, func(deps *Dependencies, repos serviceRepos, engine *gin.Engine) {
		guard := dedup.NewGuard(inventory.ProducerName, repos.processed)
		service := inventory.NewService(repos.products, repos.movements, repos.outbox, guard, metrics.NewSagaMetrics())
		service.Register(deps.Bus)
		rest.RegisterInventoryRoutes(engine, service, deps.Verifier)
	})
}

// RunAccounting запускает сервис бухгалтерии.
func RunAccounting(ctx context.Context, cfg Config) error {
	return runService(ctx, cfg, accounting.ProducerName, func(deps *Dependencies, repos serviceRepos, engine *gin.Engine) {
		guard := dedup.NewGuard(accounting.ProducerName, repos.processed)
		service := accounting.NewService(repos.accounts, repos.ledger, repos.taxes, repos.outbox, guard, metrics.NewSagaMetrics())
		if err := service.EnsureDefaultAccounts(); err != nil {
			deps.Logger.WithError(err).Error("failed to seed default accounts")
		}
		service.Register(deps.Bus)
		rest.RegisterAccountingRoutes(engine, service, deps.Verifier)
	})
}

// runService — общий жизненный цикл сервиса: зависимости, маршруты,
// воркеры, серверы и порядок остановки.
func runService(ctx context.Context, cfg Config, name string, setup func(*Dependencies, serviceRepos, *gin.Engine)) error {
	logger := log.WithField("component", name)

	deps, err := NewDependencies(ctx, cfg, name, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	repos := buildRepos(deps)
	engine := rest.NewEngine(cfg.Debug, deps.Verifier)
	setup(deps, repos, engine)

	workerOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("worker", "outbox")),
	}
	if deps.producer != nil {
		workerOptions = append(workerOptions, outbox.WithDLQPublisher(kafka.NewDLQPublisher(deps.producer)))
	}
	outboxWorker := outbox.NewWorker(repos.outbox, deps.Publisher, workerOptions...)
	cleanupWorker := dedup.NewCleanupWorker(repos.processed,
		dedup.WithLogger(logger.WithField("worker", "dedup-cleanup")))

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(repos.outbox, outboxBacklogThreshold))
	if deps.Store != nil {
		store := deps.Store
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanupWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := deps.Bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("event bus stopped with error")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("REST API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
