package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Egress      EgressPoolConfig  `mapstructure:"egress"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Extractor   ExtractorConfig   `mapstructure:"extractor"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	APIToken     string        `mapstructure:"api_token"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DeliveryConfig struct {
	Workers       int             `mapstructure:"workers"`
	QueueSize     int             `mapstructure:"queue_size"`
	MaxAttempts   int             `mapstructure:"max_attempts"`
	RetrySchedule []time.Duration `mapstructure:"retry_schedule"`
	SettleDelay   time.Duration   `mapstructure:"settle_delay"`
	BusyText      string          `mapstructure:"busy_text"`
	ApologyText   string          `mapstructure:"apology_text"`
	DedupeWindow  time.Duration   `mapstructure:"dedupe_window"`
}

type EgressPoolConfig struct {
	FailureThreshold int            `mapstructure:"failure_threshold"`
	Cooldown         time.Duration  `mapstructure:"cooldown"`
	Endpoints        []EgressConfig `mapstructure:"endpoints"`
}

// EgressConfig is one statically configured proxy exit point. Endpoints are
// tried in the order they appear in the file.
type EgressConfig struct {
	ID       string `mapstructure:"id"`
	Scheme   string `mapstructure:"scheme"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type CredentialsConfig struct {
	CookiesDir string `mapstructure:"cookies_dir"`
}

type ExtractorConfig struct {
	Binary           string        `mapstructure:"binary"`
	OutputDir        string        `mapstructure:"output_dir"`
	Format           string        `mapstructure:"format"`
	AudioFormat      string        `mapstructure:"audio_format"`
	SocketTimeoutMin time.Duration `mapstructure:"socket_timeout_min"`
	SocketTimeoutMax time.Duration `mapstructure:"socket_timeout_max"`
	UserAgents       []string      `mapstructure:"user_agents"`
}

type EscalationConfig struct {
	Operators         []int64       `mapstructure:"operators"`
	NotifyTTL         time.Duration `mapstructure:"notify_ttl"`
	RenotifySchedule  string        `mapstructure:"renotify_schedule"`
	RenotifyBatchSize int           `mapstructure:"renotify_batch_size"`
}

type MetricsConfig struct {
	RecentCapacity int    `mapstructure:"recent_capacity"`
	ReportSchedule string `mapstructure:"report_schedule"`
}

type GatewayConfig struct {
	URL           string        `mapstructure:"url"`
	Secret        string        `mapstructure:"secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("mediarelay")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/mediarelay")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MEDIARELAY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/mediarelay.db")

	viper.SetDefault("delivery.workers", 16)
	viper.SetDefault("delivery.queue_size", 256)
	viper.SetDefault("delivery.max_attempts", 3)
	viper.SetDefault("delivery.retry_schedule", []time.Duration{
		0,
		10 * time.Second,
		40 * time.Second,
	})
	viper.SetDefault("delivery.settle_delay", 1*time.Second)
	viper.SetDefault("delivery.busy_text", "The server is busy right now, retrying your request. Please wait...")
	viper.SetDefault("delivery.apology_text", "Sorry, we could not download this link. An operator has been notified and will retry it for you.")
	viper.SetDefault("delivery.dedupe_window", 10*time.Minute)

	viper.SetDefault("egress.failure_threshold", 3)
	viper.SetDefault("egress.cooldown", 60*time.Second)

	viper.SetDefault("credentials.cookies_dir", "./data/cookies")

	viper.SetDefault("extractor.binary", "")
	viper.SetDefault("extractor.output_dir", "./data/downloads")
	viper.SetDefault("extractor.format", "bv*[height<=1080]+ba/b[height<=1080]/b")
	viper.SetDefault("extractor.audio_format", "ba/b")
	viper.SetDefault("extractor.socket_timeout_min", 8*time.Second)
	viper.SetDefault("extractor.socket_timeout_max", 12*time.Second)

	viper.SetDefault("escalation.notify_ttl", 7*24*time.Hour)
	viper.SetDefault("escalation.renotify_schedule", "*/5 * * * *")
	viper.SetDefault("escalation.renotify_batch_size", 20)

	viper.SetDefault("metrics.recent_capacity", 100)
	viper.SetDefault("metrics.report_schedule", "@hourly")

	viper.SetDefault("gateway.timeout", 15*time.Second)
	viper.SetDefault("gateway.upload_timeout", 10*time.Minute)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
