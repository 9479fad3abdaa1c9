package app

import (
	"os"
	"strings"
)

// Config описывает настройки запуска сервиса. Значения читаются из
// переменных окружения с префиксом AGROMS_.
type Config struct {
	// HTTPAddr — адрес REST API сервиса.
	HTTPAddr string
	// MetricsAddr — адрес HTTP-сервера метрик и health-проверок.
	MetricsAddr string
	// PostgresDSN включает хранилище PostgreSQL; пустое значение
	// означает in-memory хранилище (разработка и тесты).
	PostgresDSN string
	// KafkaBrokers включает шину Kafka; пустое значение означает
	// внутрипроцессную шину.
	KafkaBrokers []string
	// AuthKeyHex — симметричный ключ PASETO; пустое значение
	// отключает авторизацию.
	AuthKeyHex string
	Debug      bool
}

// DefaultConfig возвращает базовые адреса сервиса.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
	}
}

// ConfigFromEnv строит конфигурацию из окружения поверх значений
// по умолчанию.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("AGROMS_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("AGROMS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("AGROMS_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("AGROMS_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("AGROMS_AUTH_KEY"); v != "" {
		cfg.AuthKeyHex = v
	}
	cfg.Debug = os.Getenv("AGROMS_DEBUG") == "true"
	return cfg
}
