// Package config loads the bot configuration from defaults, an optional config file, a .env file
// and DDPBOT_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "DDPBOT"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Account  AccountConfig  `mapstructure:"account"`
	Bot      BotConfig      `mapstructure:"bot"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Session  SessionConfig  `mapstructure:"session"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	TLS                bool   `mapstructure:"tls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type AccountConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type BotConfig struct {
	Prefix string `mapstructure:"prefix"`
	// Rooms maps a group name to the room ids commands of that group are restricted to.
	Rooms        map[string][]string `mapstructure:"rooms"`
	MemeDir      string              `mapstructure:"meme_dir"`
	FeedbackFile string              `mapstructure:"feedback_file"`
	TimerMax     int                 `mapstructure:"timer_max"`
}

type DispatchConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	// MaxConcurrency caps concurrently running handlers. Zero means unbounded.
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

type SessionConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	NoColor    bool   `mapstructure:"no_color"`
}

type MetricsConfig struct {
	// Addr enables the /metrics endpoint when non-empty.
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default so environment variables bind to it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.tls", true)
	v.SetDefault("server.insecure_skip_verify", false)

	v.SetDefault("account.username", "")
	v.SetDefault("account.password", "")

	v.SetDefault("bot.prefix", "!")
	v.SetDefault("bot.meme_dir", "memes")
	v.SetDefault("bot.feedback_file", "feedback.txt")
	v.SetDefault("bot.timer_max", 300)

	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.max_concurrency", 0)

	v.SetDefault("session.handshake_timeout", 30*time.Second)
	v.SetDefault("session.write_timeout", 10*time.Second)
	v.SetDefault("session.ping_interval", 54*time.Second)
	v.SetDefault("session.http_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.file", "ddpbot.log")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.no_color", false)

	v.SetDefault("metrics.addr", "")
}

// Load reads and validates the configuration. configFile may be empty; a missing .env file is
// not an error.
func Load(configFile string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	return LoadWith(viper.New(), configFile)
}

// Read is Load without validation, for commands that never connect.
func Read(configFile string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	return Decode(viper.New(), configFile)
}

func loadDotenv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadWith reads and validates the configuration into v. It does not touch .env files.
func LoadWith(v *viper.Viper, configFile string) (*Config, error) {
	cfg, err := Decode(v, configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads the configuration into v without validating it.
func Decode(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings the bot cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, errors.New("server.host is required"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Account.Username == "" {
		errs = append(errs, errors.New("account.username is required"))
	}
	if c.Account.Password == "" {
		errs = append(errs, errors.New("account.password is required"))
	}
	if c.Bot.Prefix == "" {
		errs = append(errs, errors.New("bot.prefix must not be empty"))
	}
	if c.Bot.TimerMax < 0 {
		errs = append(errs, errors.New("bot.timer_max must not be negative"))
	}
	if c.Dispatch.QueueSize <= 0 {
		errs = append(errs, errors.New("dispatch.queue_size must be positive"))
	}
	if c.Dispatch.MaxConcurrency < 0 {
		errs = append(errs, errors.New("dispatch.max_concurrency must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) hostPort() string {
	if c.Server.Port == 0 {
		return c.Server.Host
	}
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// WebsocketURL is the realtime endpoint, e.g. wss://chat.example.com/websocket.
func (c *Config) WebsocketURL() string {
	scheme := "ws"
	if c.Server.TLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.hostPort(), Path: "/websocket"}
	return u.String()
}

// BaseURL is the REST and file root, e.g. https://chat.example.com.
func (c *Config) BaseURL() string {
	scheme := "http"
	if c.Server.TLS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: c.hostPort()}
	return u.String()
}

// RoomGroup returns the room allow-list for group, nil when it is not configured.
func (c *Config) RoomGroup(group string) []string {
	// viper lower-cases map keys
	return c.Bot.Rooms[strings.ToLower(group)]
}
