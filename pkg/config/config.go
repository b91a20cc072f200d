package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. FACTLINE_API_BASE_URL.
const EnvPrefix = "FACTLINE"

var configDir string
var configFilePath string
var credentialsPath string

// getConfigDir returns platform-specific config directory
func getConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		// Windows: %LOCALAPPDATA%\factline\cli
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "factline", "cli"), nil
	}

	// Unix-like (macOS, Linux): ~/.config/factline/cli
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "factline", "cli"), nil
}

// getSystemConfigPaths returns platform-specific system config paths
func getSystemConfigPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{filepath.Join(os.Getenv("ProgramFiles"), "Factline", "cli", "config.toml")}
	}

	return []string{
		"/etc/factline/cli/config.toml",
		"/usr/local/etc/factline/cli/config.toml",
	}
}

// Init initializes the configuration
func Init(configPath string) error {
	var err error
	if configPath != "" {
		configDir = filepath.Dir(configPath)
		configFilePath = configPath
	} else {
		configDir, err = getConfigDir()
		if err != nil {
			return err
		}
		configFilePath = filepath.Join(configDir, "config.toml")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	credentialsPath = filepath.Join(configDir, "credentials")

	// A .env in the working directory only seeds variables that are not already set.
	_ = godotenv.Load()

	viper.Reset()
	viper.SetConfigType("toml")
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// System config first, user config overrides it.
	for _, sysConfigPath := range getSystemConfigPaths() {
		if _, err := os.Stat(sysConfigPath); err == nil {
			viper.SetConfigFile(sysConfigPath)
			_ = viper.ReadInConfig()
			break
		}
	}

	viper.SetConfigFile(configFilePath)
	_ = viper.MergeInConfig()

	return nil
}

func setDefaults() {
	viper.SetDefault("api.base_url", "http://localhost:8000")
	viper.SetDefault("api.web_base_url", "http://localhost:3000")
	viper.SetDefault("api.timeout", 30)
	viper.SetDefault("output.format", "text")

	viper.SetDefault("stream.transport", "sse")
	viper.SetDefault("stream.max_reconnect_attempts", 5)
	viper.SetDefault("stream.reconnect_step_ms", 2000)

	viper.SetDefault("poller.interval_ms", 2000)
	viper.SetDefault("poller.video_timeout_ms", 180000)
	viper.SetDefault("poller.max_consecutive_errors", 5)

	viper.SetDefault("upload.max_image_mb", 20)
	viper.SetDefault("upload.max_video_mb", 100)
	viper.SetDefault("upload.image_extensions", []string{".jpg", ".jpeg", ".png", ".gif", ".webp"})
	viper.SetDefault("upload.video_extensions", []string{".mp4", ".mov", ".webm", ".m4v"})
	viper.SetDefault("upload.compress_images", true)
	viper.SetDefault("upload.compress_max_dimension", 2048)
	viper.SetDefault("upload.compress_quality", 85)

	viper.SetDefault("notify.snackbar_ms", 6000)

	viper.SetDefault("pending.backend", "file")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("metrics.addr", "")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", filepath.Join(configDir, "factline-cli.log"))
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// GetString returns a string configuration value
func GetString(key string) string {
	value := viper.GetString(key)
	if key == "log.file" {
		return expandPath(value)
	}
	return value
}

// GetInt returns an int configuration value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool configuration value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStringSlice returns a list configuration value. Comma separated strings
// (as they arrive from the environment) are split.
func GetStringSlice(key string) []string {
	values := strings.Split(strings.Join(viper.GetStringSlice(key), ","), ",")
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// GetMillis reads an integer millisecond value as a duration.
func GetMillis(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Millisecond
}

// GetMegabytes reads an integer megabyte value as a byte count.
func GetMegabytes(key string) int64 {
	return viper.GetInt64(key) * 1024 * 1024
}

// Set overrides a value for the current process only.
func Set(key string, value interface{}) {
	viper.Set(key, value)
}

// SetString sets a string configuration value and persists it
func SetString(key string, value string) error {
	viper.Set(key, value)
	return viper.WriteConfigAs(configFilePath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	return configDir
}

// GetCredentialsPath returns the path to the credentials file
func GetCredentialsPath() string {
	return credentialsPath
}

// GetPendingPath returns the path of the file-backed pending content store.
func GetPendingPath() string {
	return filepath.Join(configDir, "pending.json")
}
