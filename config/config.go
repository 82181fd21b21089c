package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/AlexRomero01/Bridge-Server/normalize"
)

// Config is the application configuration.
type Config struct {
	Launch      LaunchConfig                      `mapstructure:"launch"`
	MQTT        MQTTConfig                        `mapstructure:"mqtt"`
	Window      WindowConfig                      `mapstructure:"window"`
	Sinks       SinksConfig                       `mapstructure:"sinks"`
	Normalizers map[string]normalize.ScriptConfig `mapstructure:"normalizers"`
	Query       QueryConfig                       `mapstructure:"query"`
	Logger      LoggerConfig                      `mapstructure:"logger"`
}

// LaunchConfig is the startup safety rail: the orchestrator passes a
// capability token through the environment and the process refuses to start
// without it.
type LaunchConfig struct {
	Token string `mapstructure:"token"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string   `mapstructure:"broker"`
	ClientID string   `mapstructure:"client_id"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Topics   []string `mapstructure:"topics"`
	QoS      byte     `mapstructure:"qos"`
}

// WindowConfig configures the aggregation window.
type WindowConfig struct {
	Resolution       time.Duration       `mapstructure:"resolution"`
	Timeout          time.Duration       `mapstructure:"timeout"`
	MaxOpen          int                 `mapstructure:"max_open"`
	DedupFor         time.Duration       `mapstructure:"dedup_for"`
	ExpectedVariants map[string][]string `mapstructure:"expected_variants"`
	CommitWorkers    int                 `mapstructure:"commit_workers"`
	CommitQueue      int                 `mapstructure:"commit_queue"`
}

// SinksConfig configures both persistence backends and the shared write
// policy.
type SinksConfig struct {
	Document     DocumentConfig `mapstructure:"document"`
	Influx       InfluxConfig   `mapstructure:"influx"`
	Retry        RetryConfig    `mapstructure:"retry"`
	WriteTimeout time.Duration  `mapstructure:"write_timeout"`
}

// DocumentConfig configures the document store sink.
type DocumentConfig struct {
	Backend    string `mapstructure:"backend"`
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	DSN        string `mapstructure:"dsn"`
}

// InfluxConfig configures the time-series sink.
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// RetryConfig bounds per-sink write retries.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// QueryConfig configures the read-only HTTP facade.
type QueryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	DefaultLimit int    `mapstructure:"default_limit"`
	MaxLimit     int    `mapstructure:"max_limit"`
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// ConfigChangeCallback runs when the config file changes on disk.
type ConfigChangeCallback func(cfg *Config) error

func setDefaults() {
	viper.SetDefault("launch.token", "supervised")
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topics", []string{"telemetry/#"})
	viper.SetDefault("mqtt.qos", 1)
	viper.SetDefault("window.resolution", "1s")
	viper.SetDefault("window.timeout", "2s")
	viper.SetDefault("window.max_open", 1024)
	viper.SetDefault("window.dedup_for", "30s")
	viper.SetDefault("window.commit_workers", 4)
	viper.SetDefault("window.commit_queue", 256)
	viper.SetDefault("sinks.document.backend", "mongo")
	viper.SetDefault("sinks.document.uri", "mongodb://localhost:27017")
	viper.SetDefault("sinks.document.database", "telemetry")
	viper.SetDefault("sinks.document.collection", "readings")
	viper.SetDefault("sinks.influx.url", "http://localhost:8086")
	viper.SetDefault("sinks.influx.org", "bridge")
	viper.SetDefault("sinks.influx.bucket", "telemetry")
	viper.SetDefault("sinks.retry.max_attempts", 5)
	viper.SetDefault("sinks.retry.initial_delay", "100ms")
	viper.SetDefault("sinks.retry.max_delay", "5s")
	viper.SetDefault("sinks.retry.multiplier", 2.0)
	viper.SetDefault("sinks.write_timeout", "10s")
	viper.SetDefault("query.enabled", true)
	viper.SetDefault("query.addr", ":8080")
	viper.SetDefault("query.default_limit", 10)
	viper.SetDefault("query.max_limit", 1000)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.file_path", "./logs/bridge.log")
	viper.SetDefault("logger.max_size", 10)
	viper.SetDefault("logger.max_backups", 5)
	viper.SetDefault("logger.console", true)
}

// LoadConfig loads the configuration file from the given path.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// WatchConfig watches the configuration file and invokes the callback on
// change. Writes are debounced because editors fire several events per save.
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	viper.SetConfigFile(absPath)
	viper.WatchConfig()

	var lastChangeTime time.Time
	debounceInterval := 2 * time.Second

	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write != fsnotify.Write {
			return
		}
		now := time.Now()
		if now.Sub(lastChangeTime) < debounceInterval {
			return
		}
		lastChangeTime = now

		log.Printf("config file changed: %s", e.Name)

		var newConfig Config
		if err := viper.Unmarshal(&newConfig); err != nil {
			log.Printf("failed to parse updated config: %v", err)
			return
		}

		if err := callback(&newConfig); err != nil {
			log.Printf("failed to apply updated config: %v", err)
			return
		}

		log.Println("config updated and applied")
	})

	return nil
}
