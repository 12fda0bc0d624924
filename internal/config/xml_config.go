// Package config provides XML-based configuration for the dictionary server
// and CLI.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/logdict/backend/internal/dictionary"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"LogDictionary"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Dictionary build settings
	Build BuildConfig `xml:"Build"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory         string `xml:"DataDirectory"`
	UploadsDirectory      string `xml:"UploadsDirectory"`
	DictionariesDirectory string `xml:"DictionariesDirectory"`
	EnablePersistence     bool   `xml:"EnablePersistence"`
}

// BuildConfig contains dictionary build defaults
type BuildConfig struct {
	Workers                int    `xml:"Workers"`
	MaxWorkers             int    `xml:"MaxWorkers"` // ceiling for per-request worker counts
	Shards                 int    `xml:"Shards"`
	DefaultFormat          string `xml:"DefaultFormat"`
	TolerateMalformed      bool   `xml:"TolerateMalformed"`
	FormatsFile            string `xml:"FormatsFile"`
	MaxSessions            int    `xml:"MaxSessions"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogFormat            string `xml:"LogFormat"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	EnableMetrics        bool   `xml:"EnableMetrics"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "2G",
		},
		Storage: StorageConfig{
			DataDirectory:         "./data",
			UploadsDirectory:      "./data/uploads",
			DictionariesDirectory: "./data/dictionaries",
			EnablePersistence:     true,
		},
		Build: BuildConfig{
			Workers:                dictionary.DefaultWorkers,
			MaxWorkers:             64,
			Shards:                 64,
			DefaultFormat:          "whitespace",
			MaxSessions:            10,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "text",
			EnableRequestLogging: true,
			EnableMetrics:        true,
			DuckDBThreads:        4,
			DuckDBMemoryLimit:    "1GB",
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, config.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so sections missing from the file keep sane values.
	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Log Dictionary Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings a build cannot run with.
func (c *AppConfig) Validate() error {
	if c.Build.Workers <= 0 {
		return &dictionary.ConfigurationError{Field: "Build.Workers", Value: c.Build.Workers, Reason: "must be at least 1"}
	}
	if c.Build.MaxWorkers < c.Build.Workers || c.Build.MaxWorkers > dictionary.MaxWorkers {
		return &dictionary.ConfigurationError{
			Field:  "Build.MaxWorkers",
			Value:  c.Build.MaxWorkers,
			Reason: fmt.Sprintf("must be between Build.Workers (%d) and %d", c.Build.Workers, dictionary.MaxWorkers),
		}
	}
	if c.Build.Shards < 0 {
		return &dictionary.ConfigurationError{Field: "Build.Shards", Value: c.Build.Shards, Reason: "must not be negative"}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if workers := os.Getenv("LOGDICT_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			c.Build.Workers = w
		}
	}

	if level := os.Getenv("LOGDICT_LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	paths := []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.DictionariesDirectory,
	}
	if c.Build.FormatsFile != "" {
		paths = append(paths, &c.Build.FormatsFile)
	}
	for _, p := range paths {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetDictionaryDir returns the directory holding persisted dictionaries
func (c *AppConfig) GetDictionaryDir() string {
	return c.Storage.DictionariesDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// SessionTimeout is how long finished builds are kept in memory.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Build.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval is how often expired builds are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Build.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.DictionariesDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
