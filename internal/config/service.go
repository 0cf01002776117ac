package config

import (
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Service holds the settings of the long-running `serve` mode, loaded from
// environment variables. Persistence and Kafka intake are off when their
// connection settings are empty.
type Service struct {
	Port               string
	DatabaseURL        string
	KafkaBrokers       []string
	KafkaTopic         string
	KafkaGroupID       string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration
	BatchSize          int
	BatchFlushInterval time.Duration
}

// LoadService reads the service settings from the environment.
func LoadService() (*Service, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	return &Service{
		Port:               sharedcfg.EnvOrDefault("PORT", "8080"),
		DatabaseURL:        sharedcfg.EnvOrDefault("DATABASE_URL", ""),
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "")),
		KafkaTopic:         sharedcfg.EnvOrDefault("KAFKA_TOPIC", "graphql-queries"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "gqlcost"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}, nil
}

// KafkaEnabled reports whether query intake from Kafka is configured.
func (s *Service) KafkaEnabled() bool {
	if s.KafkaTopic == "" {
		return false
	}
	for _, b := range s.KafkaBrokers {
		if b != "" {
			return true
		}
	}
	return false
}

// DatabaseEnabled reports whether reports and calibrations are persisted.
func (s *Service) DatabaseEnabled() bool { return s.DatabaseURL != "" }
