package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Integrity IntegritySettings `mapstructure:"integrity"`
	Sweeper   SweeperSettings   `mapstructure:"sweeper"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and the heartbeat cache keys.
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	HeartbeatPrefix string `mapstructure:"heartbeat_prefix"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the Kafka producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

// AuthSettings configures bearer token verification for the HTTP surface.
// Tokens are issued by the school's auth service; this service only verifies.
type AuthSettings struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// RateLimitSettings configures sliding windows for the student-facing
// endpoints.
type RateLimitSettings struct {
	WindowDuration       time.Duration `mapstructure:"window_duration"`
	JoinMaxAttempts      int           `mapstructure:"join_max_attempts"`
	ViolationMaxAttempts int           `mapstructure:"violation_max_attempts"`
}

// IntegritySettings carries the service-level defaults for exams that do not
// override their own thresholds.
type IntegritySettings struct {
	HighSeverityLimit     int           `mapstructure:"high_severity_limit"`
	CumulativeLimit       int           `mapstructure:"cumulative_limit"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	MissedHeartbeatFactor int           `mapstructure:"missed_heartbeat_factor"`
	GracePeriod           time.Duration `mapstructure:"grace_period"`
}

// SweeperSettings configures the background pass that finalizes overdue
// sessions.
type SweeperSettings struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchLimit int           `mapstructure:"batch_limit"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("CBT")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.heartbeat_prefix",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"auth.secret",
		"auth.issuer",
		"auth.audience",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.join_max_attempts",
		"rate_limit.violation_max_attempts",
		"integrity.high_severity_limit",
		"integrity.cumulative_limit",
		"integrity.heartbeat_interval",
		"integrity.missed_heartbeat_factor",
		"integrity.grace_period",
		"sweeper.interval",
		"sweeper.batch_limit",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cbt-session-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "cbt")
	v.SetDefault("postgres.password", "cbt_password")
	v.SetDefault("postgres.database", "cbt")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.heartbeat_prefix", "cbt:heartbeat")
	v.SetDefault("redis.rate_limit_prefix", "cbt:ratelimit")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "cbt")
	v.SetDefault("kafka.async", true)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "school-auth")
	v.SetDefault("auth.audience", "cbt")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "cbt-session-service")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.join_max_attempts", 10)
	v.SetDefault("rate_limit.violation_max_attempts", 60)

	v.SetDefault("integrity.high_severity_limit", 2)
	v.SetDefault("integrity.cumulative_limit", 5)
	v.SetDefault("integrity.heartbeat_interval", "30s")
	v.SetDefault("integrity.missed_heartbeat_factor", 3)
	v.SetDefault("integrity.grace_period", "5m")

	v.SetDefault("sweeper.interval", "1m")
	v.SetDefault("sweeper.batch_limit", 200)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "CBT_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
