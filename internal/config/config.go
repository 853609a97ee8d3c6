package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type PostgresConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            string        `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"postgres"`
	Password        string        `envconfig:"DB_PASSWORD" required:"true"`
	DBName          string        `envconfig:"DB_NAME" default:"storefront"`
	SSLMode         string        `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MigrationsPath  string        `envconfig:"DB_MIGRATIONS_PATH" default:"migrations"`
}

type GatewayConfig struct {
	Name     string `envconfig:"GATEWAY_NAME" default:"flexipay"`
	BaseURL  string `envconfig:"GATEWAY_BASE_URL" default:"https://sandbox.flexipay.example/checkout"`
	Currency string `envconfig:"GATEWAY_CURRENCY" default:"USD"`
}

type KafkaConfig struct {
	Brokers    string `envconfig:"KAFKA_BROKERS" default:""`
	OrderTopic string `envconfig:"KAFKA_ORDER_TOPIC" default:"orders.created"`
}

type Config struct {
	Port     string `envconfig:"APP_PORT" default:"8080"`
	Postgres PostgresConfig
	Gateway  GatewayConfig
	Kafka    KafkaConfig
}

// Load reads configuration from the environment, optionally seeding it from a
// .env file first.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("config: failed to load %s: %w", envPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process environment: %w", err)
	}

	return cfg, nil
}
