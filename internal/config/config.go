// Package config holds the application bootstrap configuration: where the
// data directory lives, where the game writes its log, and how the cloud
// aggregation service is reached. Runtime-tunable settings live in the
// settings table (internal/db), not here.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Relative path of the game log inside an install directory.
const LogRelativePath = "UE_Game/Torchlight/Saved/Logs/UE_game.log"

// steamPaths are the common install locations probed when no log
// directory has been configured.
var steamPaths = []string{
	`C:/Program Files (x86)/Steam/steamapps/common/Torchlight Infinite`,
	`C:/Program Files/Steam/steamapps/common/Torchlight Infinite`,
	`D:/Steam/steamapps/common/Torchlight Infinite`,
	`D:/SteamLibrary/steamapps/common/Torchlight Infinite`,
	`E:/SteamLibrary/steamapps/common/Torchlight Infinite`,
}

// Environment variables configuring the remote aggregation service.
// Both must be set for cloud sync to be available.
const (
	EnvCloudURL     = "TI_CLOUD_URL"
	EnvCloudAnonKey = "TI_CLOUD_ANON_KEY"
)

// Config is the resolved bootstrap configuration for one process.
type Config struct {
	DataDir  string `json:"data_dir"`
	LogPath  string `json:"log_path"`
	Port     int    `json:"port"`
	Portable bool   `json:"portable"`

	// Window/overlay preferences recorded for the presentation layer.
	NoWindow    bool `json:"no_window"`
	Overlay     bool `json:"overlay"`
	OverlayOnly bool `json:"overlay_only"`

	CloudURL     string `json:"-"`
	CloudAnonKey string `json:"-"`
}

// Default returns a Config with defaults applied; call Resolve afterwards.
func Default() *Config {
	return &Config{Port: 8716}
}

// Resolve fills in the data directory, cloud environment, and (when not
// explicitly set) the game log path. It creates the data directory.
func (c *Config) Resolve() error {
	if c.DataDir == "" {
		dir, err := dataDir(c.Portable)
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	c.CloudURL, c.CloudAnonKey = CloudEnv()
	if c.LogPath == "" {
		c.LogPath = FindGameLog("")
	}
	return nil
}

// CloudAvailable reports whether the remote aggregation service is configured.
func (c *Config) CloudAvailable() bool {
	return c.CloudURL != "" && c.CloudAnonKey != ""
}

// DBPath returns the canonical store file path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "tracker.db")
}

// LogFilePath returns the application (not game) log file path.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.DataDir, "app.log")
}

// IconCacheDir returns the on-disk icon cache directory.
func (c *Config) IconCacheDir() string {
	return filepath.Join(c.DataDir, "icons")
}

// dataDir resolves the per-user data directory, or ./data in portable mode.
func dataDir(portable bool) (string, error) {
	if portable {
		exe, err := os.Executable()
		if err == nil {
			return filepath.Join(filepath.Dir(exe), "data"), nil
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve portable data dir: %w", err)
		}
		return filepath.Join(wd, "data"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("resolve data dir: %w", err)
		}
		return filepath.Join(home, ".ti-tracker"), nil
	}
	return filepath.Join(base, "ti-tracker"), nil
}

// LegacyDBPath returns the pre-rename store location probed for one-shot
// migration, or "" if it does not exist.
func LegacyDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	legacy := filepath.Join(home, ".titrack", "tracker.db")
	if _, err := os.Stat(legacy); err != nil {
		return ""
	}
	return legacy
}

// FindGameLog locates the game log file. A configured install directory is
// probed first, then the common Steam locations. Returns "" when not found.
func FindGameLog(installDir string) string {
	if installDir != "" {
		p := filepath.Join(installDir, filepath.FromSlash(LogRelativePath))
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, base := range steamPaths {
		p := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(LogRelativePath))
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// CloudEnv reads the aggregation service configuration from the environment,
// loading a .env file beside the process first when present.
func CloudEnv() (url, anonKey string) {
	godotenv.Load()
	return os.Getenv(EnvCloudURL), os.Getenv(EnvCloudAnonKey)
}
