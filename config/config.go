package config

import (
	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/tracing"
)

type AppConfig struct {
	APIPort string `env:"PORT" envDefault:"12333"`
	APIKey  string `env:"API_KEY,required"`
}

type DatabaseConfig struct {
	Host            string `env:"DMARCWATCH_POSTGRES_HOST,required"`
	Port            string `env:"DMARCWATCH_POSTGRES_PORT,required"`
	User            string `env:"DMARCWATCH_POSTGRES_USER,required"`
	DBName          string `env:"DMARCWATCH_POSTGRES_DB_NAME,required"`
	Password        string `env:"DMARCWATCH_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"DMARCWATCH_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"DMARCWATCH_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"DMARCWATCH_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"DMARCWATCH_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"DMARCWATCH_POSTGRES_SSL_MODE" envDefault:"require"`
}

type GeolocationConfig struct {
	// SyncLookups resolves geolocation inline during ingestion instead of
	// queueing. Toggleable at runtime through the API.
	SyncLookups bool `env:"GEO_SYNC_LOOKUPS" envDefault:"false"`
	// CacheTTLHours is how long a durable IP location row stays fresh.
	CacheTTLHours   int `env:"GEO_CACHE_TTL_HOURS" envDefault:"720"`
	TickSeconds     int `env:"GEO_TICK_SECONDS" envDefault:"2"`
	ProviderTimeout int `env:"GEO_PROVIDER_TIMEOUT_SECONDS" envDefault:"10"`
	// IPAPIMinuteLimit caps ip-api.com calls below its free-tier 45/min.
	IPAPIMinuteLimit int `env:"GEO_IPAPI_MINUTE_LIMIT" envDefault:"40"`
	IPWhoisDayLimit  int `env:"GEO_IPWHOIS_DAY_LIMIT" envDefault:"300"`
}

type ReprocessConfig struct {
	// Workers defaults to half the available CPUs when zero.
	Workers         int `env:"REPROCESS_WORKERS"`
	BatchSize       int `env:"REPROCESS_BATCH_SIZE" envDefault:"100"`
	ProgressSeconds int `env:"REPROCESS_PROGRESS_SECONDS" envDefault:"2"`
}

type Config struct {
	AppConfig         *AppConfig
	Logger            *logger.Config
	Tracing           *tracing.JaegerConfig
	DatabaseConfig    *DatabaseConfig
	GeolocationConfig *GeolocationConfig
	ReprocessConfig   *ReprocessConfig
}
