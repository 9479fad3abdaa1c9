package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/app"
)

func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if os.Getenv("AGROMS_DEBUG") == "true" {
		log.SetLevel(log.DebugLevel)
	}
}

func main() {
	setupLogger()
	cfg := app.ConfigFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("запускаем сервис бухгалтерии")

	if err := app.RunAccounting(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("сервис завершился с ошибкой")
	}

	log.Info("сервис бухгалтерии остановлен")
}
