package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/careroute/referral-engine/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every env-sourced setting of the engine. Only this struct may
// be used to read configuration; no direct env access elsewhere.
type Config struct {
	AppEnv     string `env:"APP_ENV" default:"dev"`
	AppName    string `env:"APP_NAME" default:"referral_engine"`
	AppDebug   bool   `env:"APP_DEBUG" default:"1"`
	AppBaseUrl string `env:"APP_BASE_URL" default:"https://connect.careroute.example"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR" default:":8080"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE" default:"referral_engine"`
	PromAddr      string `env:"PROM_ADDR" default:":9100"`

	GatewayUrl      string        `env:"GATEWAY_URL"`
	GatewayApiKey   string        `env:"GATEWAY_API_KEY"`
	GatewaySenderId string        `env:"GATEWAY_SENDER_ID" default:"CareRoute"`
	GatewayTimeout  time.Duration `env:"GATEWAY_TIMEOUT" default:"5s"`
	GatewayRetries  int           `env:"GATEWAY_RETRIES" default:"2"`

	QueueBatchSize    int           `env:"QUEUE_BATCH_SIZE" default:"200"`
	DispatchBatchSize int           `env:"DISPATCH_BATCH_SIZE" default:"200"`
	DispatchWorkers   int           `env:"DISPATCH_WORKERS" default:"8"`
	TokenClaimRetries int           `env:"TOKEN_CLAIM_RETRIES" default:"5"`
	TokenRefillCount  int           `env:"TOKEN_REFILL_COUNT" default:"500"`
	JobLeaseTTL       time.Duration `env:"JOB_LEASE_TTL" default:"10m"`

	SchedulerEnable   bool          `env:"SCHEDULER_ENABLE" default:"0"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" default:"15m"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// Set replaces the active configuration. Test helper.
func Set(c *Config) {
	config = c
}
