package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Identity IdentityConfig
	Exam     ExamConfig
	Email    EmailConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт).
	Addrs []string `mapstructure:"addrs"`

	// Addr: Адрес для режима 'single', если Addrs пустой.
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	// PoolSize: Размер пула соединений, 0 - значение по умолчанию go-redis
	PoolSize int `mapstructure:"pool_size"`

	// KeyPrefix: Общий префикс ключей кеша и rate limiter
	KeyPrefix string `mapstructure:"key_prefix"`

	MaxRetries      int `mapstructure:"max_retries"`
	MinRetryBackoff int `mapstructure:"min_retry_backoff"` // мс
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"` // мс
}

// IdentityConfig содержит настройки проверки токенов сессии.
// Токены выпускает внешний сервис аутентификации, здесь они только проверяются.
type IdentityConfig struct {
	Secret        string `mapstructure:"secret"`
	Issuer        string `mapstructure:"issuer"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// ExamConfig содержит настройки движка попыток
type ExamConfig struct {
	// Квоты попыток по умолчанию, если в тесте не задано своё значение
	FreeMaxAttempts int `mapstructure:"free_max_attempts"`
	PaidMaxAttempts int `mapstructure:"paid_max_attempts"`

	// Политика оценивания по умолчанию для тестов без своей политики
	NegativeMCQ float64 `mapstructure:"negative_mcq"`
	NegativeMSQ float64 `mapstructure:"negative_msq"`
	NegativeNAT float64 `mapstructure:"negative_nat"`
	NATEpsilon  float64 `mapstructure:"nat_epsilon"`
	ScoreFloor  float64 `mapstructure:"score_floor"`

	TickInterval     time.Duration `mapstructure:"tick_interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval"`
	SweepSpec        string        `mapstructure:"sweep_spec"`
	SweepBatch       int           `mapstructure:"sweep_batch"`
	CatalogCacheTTL  time.Duration `mapstructure:"catalog_cache_ttl"`

	// Лимит записи ответов на пользователя в минуту
	AnswerRateLimit int `mapstructure:"answer_rate_limit"`
}

// EmailConfig содержит настройки уведомлений о результатах
type EmailConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Новый экземпляр Viper, без глобального состояния

	setDefaults(vip)

	// Database
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	// Redis
	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")
	vip.BindEnv("redis.key_prefix", "REDIS_KEY_PREFIX")

	// Identity
	vip.BindEnv("identity.secret", "IDENTITY_SECRET")
	vip.BindEnv("identity.issuer", "IDENTITY_ISSUER")

	// Exam
	vip.BindEnv("exam.free_max_attempts", "EXAM_FREE_MAX_ATTEMPTS")
	vip.BindEnv("exam.paid_max_attempts", "EXAM_PAID_MAX_ATTEMPTS")
	vip.BindEnv("exam.sweep_spec", "EXAM_SWEEP_SPEC")

	// Email
	vip.BindEnv("email.enabled", "EMAIL_ENABLED")
	vip.BindEnv("email.api_key", "RESEND_API_KEY")
	vip.BindEnv("email.from_email", "EMAIL_FROM")

	// Server
	vip.BindEnv("server.port", "SERVER_PORT")
	vip.BindEnv("server.allowed_origins", "SERVER_ALLOWED_ORIGINS")

	if configPath != "" {
		vip.SetConfigFile(configPath)
		// Отсутствие файла не страшно, значения берутся из окружения и умолчаний
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Port: %s", cfg.Database.Port)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Redis Addr: %s", cfg.Redis.Addr)
		log.Printf("Redis Mode: %s", cfg.Redis.Mode)
		log.Printf("Identity Secret Set: %t", cfg.Identity.Secret != "")
		log.Printf("Exam Quotas: free=%d paid=%d", cfg.Exam.FreeMaxAttempts, cfg.Exam.PaidMaxAttempts)
		log.Printf("Exam Sweep Spec: %s", cfg.Exam.SweepSpec)
		log.Printf("Email Enabled: %t", cfg.Email.Enabled)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("-----------------------------------------")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.Identity.Secret == "" {
		return fmt.Errorf("identity secret is required in config (check IDENTITY_SECRET env var)")
	}
	if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
		return fmt.Errorf("database configuration (host, dbname, user) is incomplete in config (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	if c.Exam.FreeMaxAttempts <= 0 || c.Exam.PaidMaxAttempts <= 0 {
		return fmt.Errorf("exam attempt quotas must be positive (free=%d, paid=%d)", c.Exam.FreeMaxAttempts, c.Exam.PaidMaxAttempts)
	}
	if c.Exam.NATEpsilon < 0 {
		return fmt.Errorf("exam nat_epsilon must not be negative")
	}
	if c.Email.Enabled && c.Email.APIKey == "" {
		return fmt.Errorf("email is enabled but api key is empty (check RESEND_API_KEY env var)")
	}
	return nil
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.readtimeout", 10)
	vip.SetDefault("server.writetimeout", 10)
	vip.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	vip.SetDefault("database.sslmode", "disable")
	vip.SetDefault("redis.mode", "single")
	vip.SetDefault("redis.key_prefix", "mocktest")

	vip.SetDefault("identity.token_ttl_hours", 24)

	vip.SetDefault("exam.free_max_attempts", 1)
	vip.SetDefault("exam.paid_max_attempts", 3)
	vip.SetDefault("exam.negative_mcq", 0.25)
	vip.SetDefault("exam.negative_msq", 0.5)
	vip.SetDefault("exam.negative_nat", 0)
	vip.SetDefault("exam.nat_epsilon", 0.01)
	vip.SetDefault("exam.score_floor", 0)
	vip.SetDefault("exam.tick_interval", time.Second)
	vip.SetDefault("exam.retry_interval", 500*time.Millisecond)
	vip.SetDefault("exam.max_retry_interval", 30*time.Second)
	vip.SetDefault("exam.sweep_spec", "@every 1m")
	vip.SetDefault("exam.sweep_batch", 200)
	vip.SetDefault("exam.catalog_cache_ttl", 10*time.Minute)
	vip.SetDefault("exam.answer_rate_limit", 120)

	vip.SetDefault("email.from_name", "Mock Tests")
}
