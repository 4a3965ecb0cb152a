package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Game     GameConfig     `yaml:"game"`
	Discord  DiscordConfig  `yaml:"discord"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Policy   PolicyConfig   `yaml:"policy"`
	Auth     AuthConfig     `yaml:"auth"`
	Backup   BackupConfig   `yaml:"backup"`
}

// GameConfig holds game-server connection settings
type GameConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	BridgePath     string        `yaml:"bridge_path"`
	BridgeToken    string        `yaml:"bridge_token"`
	Greeting       string        `yaml:"greeting"`
	GreetingDelay  time.Duration `yaml:"greeting_delay"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ReconnectBase  time.Duration `yaml:"reconnect_base"`
	ReconnectMax   time.Duration `yaml:"reconnect_max"`
	ReconnectLimit int           `yaml:"reconnect_limit"`
	AdminHandles   []string      `yaml:"admin_handles"`
	CaptureWindow  time.Duration `yaml:"capture_window"`
}

// DiscordConfig holds control-channel settings
type DiscordConfig struct {
	Token           string `yaml:"token"`
	OperatorID      string `yaml:"operator_id"`
	NotifyChannelID string `yaml:"notify_channel_id"`
	CommandPrefix   string `yaml:"command_prefix"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PolicyConfig holds the command policy file location
type PolicyConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// BackupConfig holds database snapshot settings
type BackupConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Retain   int           `yaml:"retain"`
}

// GameAddr returns the host:port of the game server for reachability probes
func (c *Config) GameAddr() string {
	return fmt.Sprintf("%s:%d", c.Game.Host, c.Game.Port)
}

// Load reads configuration from a YAML file, applies environment overrides
// and fills in defaults
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv overrides file settings from PERKBRIDGE_* environment variables
func (c *Config) applyEnv() {
	envString(&c.Game.Host, "PERKBRIDGE_GAME_HOST")
	envInt(&c.Game.Port, "PERKBRIDGE_GAME_PORT")
	envString(&c.Game.BridgePath, "PERKBRIDGE_BRIDGE_PATH")
	envString(&c.Game.BridgeToken, "PERKBRIDGE_BRIDGE_TOKEN")
	envString(&c.Discord.Token, "PERKBRIDGE_DISCORD_TOKEN")
	envString(&c.Discord.OperatorID, "PERKBRIDGE_OPERATOR_ID")
	envString(&c.Discord.NotifyChannelID, "PERKBRIDGE_NOTIFY_CHANNEL")
	envString(&c.HTTP.ListenAddr, "PERKBRIDGE_HTTP_ADDR")
	envInt(&c.HTTP.Port, "PERKBRIDGE_HTTP_PORT")
	envString(&c.Database.Path, "PERKBRIDGE_DB_PATH")
	envString(&c.Policy.Path, "PERKBRIDGE_POLICY_PATH")
	envString(&c.Auth.JWTSecret, "PERKBRIDGE_JWT_SECRET")
}

func (c *Config) applyDefaults() {
	if c.Game.Host == "" {
		c.Game.Host = "127.0.0.1"
	}
	if c.Game.Port == 0 {
		c.Game.Port = 25565
	}
	if c.Game.BridgePath == "" {
		c.Game.BridgePath = "/bridge"
	}
	if c.Game.Greeting == "" {
		c.Game.Greeting = "say PerkBridge connected"
	}
	if c.Game.GreetingDelay == 0 {
		c.Game.GreetingDelay = 2 * time.Second
	}
	if c.Game.ProbeInterval == 0 {
		c.Game.ProbeInterval = 15 * time.Second
	}
	if c.Game.ProbeTimeout == 0 {
		c.Game.ProbeTimeout = 3 * time.Second
	}
	if c.Game.ReconnectBase == 0 {
		c.Game.ReconnectBase = 5 * time.Second
	}
	if c.Game.ReconnectMax == 0 {
		c.Game.ReconnectMax = 2 * time.Minute
	}
	if c.Game.ReconnectLimit == 0 {
		c.Game.ReconnectLimit = 10
	}
	if c.Game.CaptureWindow == 0 {
		c.Game.CaptureWindow = 8 * time.Second
	}
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = "."
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "perkbridge.db"
	}
	if c.Policy.Path == "" {
		c.Policy.Path = "policy.json"
	}
	if c.Auth.TokenDuration == 0 {
		c.Auth.TokenDuration = 24 * time.Hour
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 6 * time.Hour
	}
	if c.Backup.Retain == 0 {
		c.Backup.Retain = 5
	}
}

// Validate checks mandatory settings. A missing Discord token or operator
// identity is the only fatal startup error class.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token is required (discord.token or PERKBRIDGE_DISCORD_TOKEN)")
	}
	if c.Discord.OperatorID == "" {
		return fmt.Errorf("operator identity is required (discord.operator_id or PERKBRIDGE_OPERATOR_ID)")
	}
	return nil
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
