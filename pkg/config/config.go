package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logger struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logger"`
	Source struct {
		Type string `yaml:"type" default:"csv" validate:"oneof=csv clickhouse"`
		Path string `yaml:"path" default:"data/processed/daily_facts.csv"`
	} `yaml:"source"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"deskcast"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	GLPI struct {
		DSN           string        `yaml:"dsn"`
		HistoryMonths int           `yaml:"history_months" default:"12" validate:"gt=0"`
		QueryTimeout  time.Duration `yaml:"query_timeout" default:"2m"`
	} `yaml:"glpi"`
	ETL struct {
		CategoryMapping string `yaml:"category_mapping"`
		DefaultCategory string `yaml:"default_category" default:"OTHER"`
		ToClickHouse    bool   `yaml:"to_clickhouse"`
	} `yaml:"etl"`
	Calendar struct {
		Holidays []string `yaml:"holidays" default:"[\"2025-01-01\",\"2025-02-25\",\"2025-02-26\",\"2025-04-18\",\"2025-04-21\",\"2025-05-01\",\"2025-09-07\",\"2025-10-12\",\"2025-11-02\",\"2025-11-15\",\"2025-11-20\",\"2025-12-25\"]"`
	} `yaml:"calendar"`
	Forecast struct {
		ModelID            string  `yaml:"model_id" default:"gbrt_grid_v1"`
		Horizons           []int   `yaml:"horizons" default:"[7,14,30]" validate:"min=1,dive,gt=0"`
		EvalWindow         int     `yaml:"eval_window" default:"30" validate:"gt=0"`
		ColdStartThreshold int     `yaml:"cold_start_threshold" default:"30" validate:"gte=0"`
		SafetyCeiling      float64 `yaml:"safety_ceiling" default:"5000" validate:"gt=0"`
		P90Multiplier      float64 `yaml:"p90_multiplier" default:"1.2" validate:"gte=1"`
		AccuracyTarget     float64 `yaml:"accuracy_target" default:"15" validate:"gt=0"`
		Lambda             float64 `yaml:"lambda" default:"1" validate:"gte=0"`
		Grid               struct {
			LearningRates []float64 `yaml:"learning_rates" default:"[0.05,0.1,0.2]" validate:"min=1,dive,gt=0"`
			TreeCounts    []int     `yaml:"tree_counts" default:"[100,300,500]" validate:"min=1,dive,gt=0"`
			MaxDepths     []int     `yaml:"max_depths" default:"[3,5]" validate:"min=1,dive,gt=0"`
		} `yaml:"grid"`
	} `yaml:"forecast"`
	Output struct {
		Path         string        `yaml:"path" default:"data/forecast/forecast_output.csv" validate:"required"`
		FallbackPath string        `yaml:"fallback_path" default:"data/forecast/forecast_output_v2.csv" validate:"required"`
		MetricsPath  string        `yaml:"metrics_path" default:"data/forecast/model_metrics.csv" validate:"required"`
		ClickHouse   bool          `yaml:"clickhouse"`
		LockTTL      time.Duration `yaml:"lock_ttl" default:"10m"`
	} `yaml:"output"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"deskcast.runs"`
		LogTopic     string   `yaml:"log_topic" default:"deskcast.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"deskcast-api"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"deskcast"`
		PoolSize int    `yaml:"pool_size" default:"10"`
	} `yaml:"redis"`
	API struct {
		CacheTTL   time.Duration `yaml:"cache_ttl" default:"1m"`
		SampleSize int           `yaml:"sample_size" default:"5" validate:"gt=0"`
		RateLimit  struct {
			RPS   float64 `yaml:"rps" default:"20"`
			Burst int     `yaml:"burst" default:"40"`
		} `yaml:"rate_limit"`
	} `yaml:"api"`
	KPI struct {
		URL           string        `yaml:"url"`
		Timeout       time.Duration `yaml:"timeout" default:"3s"`
		SLACompliance float64       `yaml:"sla_compliance" default:"95.5"`
		TTRAverage    float64       `yaml:"ttr_average" default:"5.2"`
	} `yaml:"kpi"`
	Ledger struct {
		Path string `yaml:"path" default:"data/deskcast.db"`
	} `yaml:"ledger"`
	Schedule struct {
		Cron string `yaml:"cron" default:"0 3 * * *"`
	} `yaml:"schedule"`
}

var validate = validator.New()

// Default returns a config populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// An empty path means defaults only.
func LoadWithEnv(path string) (*Config, error) {
	var (
		c   *Config
		err error
	)
	if path == "" {
		c, err = Default()
	} else {
		c, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DESKCAST_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("SOURCE_TYPE"); v != "" {
		c.Source.Type = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("GLPI_DSN"); v != "" {
		c.GLPI.DSN = v
	}
	if v := os.Getenv("OUTPUT_PATH"); v != "" {
		c.Output.Path = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Source.Type == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when source.type is clickhouse")
	}
	if c.Output.ClickHouse && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when output.clickhouse is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Output.Path == c.Output.FallbackPath {
		return fmt.Errorf("output.fallback_path must differ from output.path")
	}
	for _, d := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return fmt.Errorf("calendar.holidays: invalid date %q", d)
		}
	}
	maxHorizon := 0
	for _, h := range c.Forecast.Horizons {
		if h > maxHorizon {
			maxHorizon = h
		}
	}
	if maxHorizon > 366 {
		return fmt.Errorf("forecast.horizons: %d exceeds one year", maxHorizon)
	}
	return nil
}

// Holidays parses the configured holiday calendar.
func (c *Config) Holidays() []time.Time {
	out := make([]time.Time, 0, len(c.Calendar.Holidays))
	for _, d := range c.Calendar.Holidays {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}
