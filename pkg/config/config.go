package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Digest     struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"digest"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Path string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Bus struct {
		Type string `yaml:"type" default:"memory" validate:"oneof=memory kafka redis"`
	} `yaml:"bus"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"5ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			Workers    int           `yaml:"workers" default:"4" validate:"gt=0"`
			BufferSize int           `yaml:"buffer_size" default:"64" validate:"gt=0"`
			RetryMax   int           `yaml:"retry_max" default:"3" validate:"gte=0"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"glm.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"glm"`
		Stream   struct {
			Consumer   string        `yaml:"consumer"`
			BatchSize  int64         `yaml:"batch_size" default:"16"`
			Block      time.Duration `yaml:"block" default:"1s"`
			RetryLimit int           `yaml:"retry_limit" default:"3"`
			ClaimIdle  time.Duration `yaml:"claim_idle" default:"1m"`
			MaxLen     int64         `yaml:"max_len" default:"100000"`
		} `yaml:"stream"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"glm"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		BatchSize        int           `yaml:"batch_size" default:"200"`
		FlushInterval    time.Duration `yaml:"flush_interval" default:"2s"`
	} `yaml:"clickhouse"`
	Sentiment struct {
		URLs          []string      `yaml:"urls"`
		Query         string        `yaml:"query" default:"BTC"`
		MaxResults    int           `yaml:"max_results" default:"20"`
		Timeout       time.Duration `yaml:"timeout" default:"5s"`
		RatePerSecond float64       `yaml:"rate_per_second" default:"1"`
		Burst         int           `yaml:"burst" default:"2"`
	} `yaml:"sentiment"`
	Portfolio struct {
		Store          string  `yaml:"store" default:"memory" validate:"oneof=memory redis"`
		InitialBalance float64 `yaml:"initial_balance" default:"10000" validate:"gte=0"`
		PnLHistory     int     `yaml:"pnl_history" default:"10000" validate:"gt=1"`
	} `yaml:"portfolio"`
	Pricing struct {
		RiskFreeRate float64 `yaml:"risk_free_rate" default:"0.03"`
		DefaultVol   float64 `yaml:"default_vol" default:"0.6" validate:"gt=0"`
	} `yaml:"pricing"`
	Trading Trading `yaml:"trading"`
}

// Trading is the single configuration surface of the trading core. Engines
// receive their part of it at construction and never read globals.
type Trading struct {
	Strategy  StrategyParams  `yaml:"strategy"`
	Risk      RiskParams      `yaml:"risk"`
	Hedge     HedgeParams     `yaml:"hedge"`
	Execution ExecutionParams `yaml:"execution"`
}

// StrategyInstance is one running intent engine.
type StrategyInstance struct {
	ID         string `yaml:"id" validate:"required"`
	Underlying string `yaml:"underlying" validate:"required"`
}

type StrategyParams struct {
	VolThreshold          float64            `yaml:"vol_threshold" default:"0.05" validate:"gt=0"`
	MaxFOMOScore          float64            `yaml:"max_fomo_score" default:"0.7" validate:"gt=0,lte=1"`
	MaxPositionSize       float64            `yaml:"max_position_size" default:"1.0" validate:"gt=0"`
	IntentBaseSize        float64            `yaml:"intent_base_size" default:"0.1" validate:"gt=0"`
	SignalCooldownSeconds int                `yaml:"signal_cooldown_seconds" default:"3600" validate:"gte=0"`
	ForecastHorizon       string             `yaml:"forecast_horizon" default:"24h"`
	PublishHolds          bool               `yaml:"publish_holds"`
	LegacySignals         bool               `yaml:"legacy_signals"`
	Instances             []StrategyInstance `yaml:"instances" validate:"min=1,dive"`
}

// Cooldown returns the minimum spacing between directional intents.
func (p StrategyParams) Cooldown() time.Duration {
	return time.Duration(p.SignalCooldownSeconds) * time.Second
}

type RiskParams struct {
	MaxLeverage            float64       `yaml:"max_leverage" default:"3.0" validate:"gt=0"`
	MaxDrawdownPct         float64       `yaml:"max_drawdown_pct" default:"0.20" validate:"gt=0,lte=1"`
	MaxPositionRatio       float64       `yaml:"max_position_ratio" default:"0.80" validate:"gt=0,lte=1"`
	MaxSinglePositionPct   float64       `yaml:"max_single_position_pct" default:"0.30" validate:"gt=0,lte=1"`
	MacroBroadcastInterval time.Duration `yaml:"macro_broadcast_interval" default:"60s" validate:"gt=0"`
	BroadcastInterval      time.Duration `yaml:"broadcast_interval" default:"30s" validate:"gt=0"`
	VerdictTTL             time.Duration `yaml:"verdict_ttl" default:"24h" validate:"gt=0"`
}

type HedgeParams struct {
	DeltaThreshold    float64       `yaml:"delta_threshold" default:"0.05" validate:"gt=0"`
	HedgeInstrument   string        `yaml:"hedge_instrument" default:"BTC/USDT:USDT" validate:"required"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval" default:"60s" validate:"gte=0"`
	StrategyID        string        `yaml:"strategy_id" default:"delta_hedger" validate:"required"`
}

type ExecutionParams struct {
	SurfaceMaxAge   time.Duration `yaml:"surface_max_age" default:"2m" validate:"gt=0"`
	DedupLease      time.Duration `yaml:"dedup_lease" default:"10s" validate:"gt=0"`
	DedupTTL        time.Duration `yaml:"dedup_ttl" default:"24h" validate:"gt=0"`
	OptionOrderType string        `yaml:"option_order_type" default:"limit" validate:"oneof=limit market"`
	HedgeOrderType  string        `yaml:"hedge_order_type" default:"market" validate:"oneof=limit market"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse fills defaults, decodes YAML over them and validates. Defaults go
// first so an explicit zero in the file survives.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("BUS_TYPE"); v != "" {
		c.Bus.Type = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("SENTIMENT_URLS"); v != "" {
		c.Sentiment.URLs = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("HEDGE_INSTRUMENT"); v != "" {
		c.Trading.Hedge.HedgeInstrument = v
	}
	if v := getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks struct tags and the rules that span several sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	switch c.Bus.Type {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when bus.type is kafka")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when bus.type is redis")
		}
	}
	if c.Portfolio.Store == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when portfolio.store is redis")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}

	seen := make(map[string]struct{}, len(c.Trading.Strategy.Instances))
	for _, inst := range c.Trading.Strategy.Instances {
		if _, dup := seen[inst.ID]; dup {
			return fmt.Errorf("duplicate strategy id %q", inst.ID)
		}
		if inst.ID == c.Trading.Hedge.StrategyID {
			return fmt.Errorf("strategy id %q collides with hedge.strategy_id", inst.ID)
		}
		seen[inst.ID] = struct{}{}
	}
	return nil
}

// DefaultTrading returns the trading parameters with every default applied
// and one BTC/USDT strategy instance.
func DefaultTrading() Trading {
	var t Trading
	_ = defaults.Set(&t)
	t.Strategy.Instances = []StrategyInstance{{ID: "pq_vol_trader", Underlying: "BTC/USDT"}}
	return t
}
