package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CLAUDESCHED_"

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// Config holds all runtime configuration.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig

	// StateDir holds the task registry. Defaults to ~/.claude.
	StateDir string
	// LogDir receives task output and generated scripts. Defaults to <StateDir>/logs.
	LogDir string
	// Platform selects the native backend; defaults to the running OS.
	Platform  string
	ClaudeBin string
	// Retention is the number of registration records kept per task.
	Retention     int
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "127.0.0.1:7071"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultClaudeBin     = "claude"
	defaultRetention     = 50
	defaultShutdownGrace = 5 * time.Second
)

// Overrides carries CLI flag values. Empty fields leave the config as is.
type Overrides struct {
	StateDir  string
	LogDir    string
	LogLevel  string
	LogFormat string
	Platform  string
	Addr      string
	AuthToken string
}

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Load reads optional .env files, then the environment.
// Priority: CLI flags (Apply) > environment > .env file > defaults.
func Load() (*Config, error) {
	envFiles := []string{}
	for _, path := range envFileCandidates() {
		if _, err := os.Stat(path); err == nil {
			envFiles = append(envFiles, path)
		}
	}
	if len(envFiles) > 0 {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}
	return FromEnv()
}

func envFileCandidates() []string {
	files := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(configDir, "claudesched", ".env"))
	}
	return files
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("ADDR", defaultAddr),
			AuthToken: getEnvString("AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("LOG_FORMAT", defaultLogFormat),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("BARK_URL", ""),
				Enabled: getEnvBool("BARK_ENABLED", false),
			},
		},
		StateDir:      getEnvString("STATE_DIR", ""),
		LogDir:        getEnvString("LOG_DIR", ""),
		Platform:      getEnvString("PLATFORM", runtime.GOOS),
		ClaudeBin:     getEnvString("CLAUDE_BIN", defaultClaudeBin),
		Retention:     getEnvInt("RETENTION", defaultRetention),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overlays CLI flag values. A new state dir moves the default log dir
// along with it unless a log dir was given explicitly.
func (c *Config) Apply(o Overrides) error {
	if o.StateDir != "" {
		if c.LogDir == filepath.Join(c.StateDir, "logs") && o.LogDir == "" {
			c.LogDir = ""
		}
		c.StateDir = o.StateDir
	}
	if o.LogDir != "" {
		c.LogDir = o.LogDir
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Log.Format = o.LogFormat
	}
	if o.Platform != "" {
		c.Platform = o.Platform
	}
	if o.Addr != "" {
		c.Server.Addr = o.Addr
	}
	if o.AuthToken != "" {
		c.Server.AuthToken = o.AuthToken
	}
	return c.resolve()
}

func (c *Config) resolve() error {
	if c.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return fmt.Errorf("resolve default state dir: %w", err)
		}
		c.StateDir = dir
	}
	c.StateDir = expandHome(c.StateDir)
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.StateDir, "logs")
	}
	c.LogDir = expandHome(c.LogDir)
	if c.Retention < 1 {
		c.Retention = defaultRetention
	}
	if c.ClaudeBin == "" {
		c.ClaudeBin = defaultClaudeBin
	}
	if c.Platform == "" {
		c.Platform = runtime.GOOS
	}
	if c.Notification.Bark.Enabled && c.Notification.Bark.URL == "" {
		return fmt.Errorf("%sBARK_ENABLED is set but %sBARK_URL is empty", EnvPrefix, EnvPrefix)
	}
	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".claude"), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
