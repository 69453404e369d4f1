package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Remote backend names.
const (
	BackendAzureFile = "azurefile"
	BackendS3        = "s3"
	BackendGCS       = "gcs"
	BackendLocal     = "local"
)

// Config is the top-level configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Download DownloadConfig `yaml:"download"`
	Remote   RemoteConfig   `yaml:"remote"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	DataDir      string        `yaml:"data_dir"`
	DBPath       string        `yaml:"db_path"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DownloadConfig controls how a folder is fetched and packed.
type DownloadConfig struct {
	SizeLimit    string `yaml:"size_limit"`
	Concurrency  int    `yaml:"concurrency"`
	RetryConnect int    `yaml:"retry_connect"`
	RetryRead    int    `yaml:"retry_read"`
	StagingDir   string `yaml:"staging_dir"`
	EarlyAbort   bool   `yaml:"early_abort"`
}

// RemoteConfig selects and configures the share backend.
type RemoteConfig struct {
	Backend   string          `yaml:"backend"`
	AzureFile AzureFileConfig `yaml:"azurefile"`
	S3        S3Config        `yaml:"s3"`
	GCS       GCSConfig       `yaml:"gcs"`
	Local     LocalConfig     `yaml:"local"`
}

// AzureFileConfig holds Azure File Share credentials.
type AzureFileConfig struct {
	AccountName    string `yaml:"account_name"`
	AccountKey     string `yaml:"account_key"`
	ShareName      string `yaml:"share_name"`
	Protocol       string `yaml:"protocol"`
	EndpointSuffix string `yaml:"endpoint_suffix"`
	// Endpoint overrides the file service URL, e.g. for Azurite.
	Endpoint string `yaml:"endpoint"`
}

// S3Config holds settings for S3-compatible object stores.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

// LocalConfig serves a directory on the host.
type LocalConfig struct {
	Root string `yaml:"root"`
}

// LoggingConfig configures the optional rotating log file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       "0.0.0.0:8080",
			DataDir:      "/var/lib/sharezip",
			DBPath:       "",
			MaxBodyBytes: 64 * 1024,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Minute,
		},
		Download: DownloadConfig{
			SizeLimit:    "1GiB",
			Concurrency:  10,
			RetryConnect: 5,
			RetryRead:    5,
		},
		Remote: RemoteConfig{
			Backend: BackendAzureFile,
			AzureFile: AzureFileConfig{
				Protocol:       "https",
				EndpointSuffix: "core.windows.net",
			},
		},
		Logging: LoggingConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"sharezip.yaml",
		"/etc/sharezip/sharezip.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "sharezip", "sharezip.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values from environment variables. lookup is
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SYSTEM_STORAGE_NAME"); ok && v != "" {
		c.Remote.AzureFile.AccountName = v
	}
	if v, ok := lookup("SYSTEM_STORAGE_KEY"); ok && v != "" {
		c.Remote.AzureFile.AccountKey = v
	}
	if v, ok := lookup("SHAREZIP_SHARE_NAME"); ok && v != "" {
		c.Remote.AzureFile.ShareName = v
	}
	if v, ok := lookup("SHAREZIP_BACKEND"); ok && v != "" {
		c.Remote.Backend = v
	}
	if v, ok := lookup("SHAREZIP_SIZE_LIMIT"); ok && v != "" {
		c.Download.SizeLimit = v
	}
	if v, ok := lookup("SHAREZIP_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SHAREZIP_CONCURRENCY: %w", err)
		}
		c.Download.Concurrency = n
	}
	return nil
}

// Validate checks the config for values the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if _, err := c.SizeLimitBytes(); err != nil {
		problems = append(problems, fmt.Sprintf("download.size_limit: %v", err))
	}
	if c.Download.Concurrency < 1 {
		problems = append(problems, "download.concurrency must be at least 1")
	}
	if c.Download.RetryConnect < 0 {
		problems = append(problems, "download.retry_connect must not be negative")
	}
	if c.Download.RetryRead < 0 {
		problems = append(problems, "download.retry_read must not be negative")
	}
	if c.Server.MaxBodyBytes <= 0 {
		problems = append(problems, "server.max_body_bytes must be positive")
	}

	switch c.Remote.Backend {
	case BackendAzureFile:
		az := c.Remote.AzureFile
		if az.AccountName == "" || az.AccountKey == "" {
			problems = append(problems, "remote.azurefile: account_name and account_key are required")
		}
		if az.ShareName == "" {
			problems = append(problems, "remote.azurefile.share_name is required")
		}
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			problems = append(problems, "remote.s3.bucket is required")
		}
	case BackendGCS:
		if c.Remote.GCS.Bucket == "" {
			problems = append(problems, "remote.gcs.bucket is required")
		}
	case BackendLocal:
		if c.Remote.Local.Root == "" {
			problems = append(problems, "remote.local.root is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("remote.backend: unknown backend %q", c.Remote.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SizeLimitBytes parses download.size_limit. IEC suffixes ("1GiB") are
// binary, SI suffixes ("1GB") are decimal.
func (c *Config) SizeLimitBytes() (uint64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(c.Download.SizeLimit))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", c.Download.SizeLimit, err)
	}
	return n, nil
}

// StagingDir returns the parent directory for request staging areas. An
// empty value means the OS temp directory.
func (c *Config) StagingDir() string {
	if c.Download.StagingDir != "" {
		return c.Download.StagingDir
	}
	return os.TempDir()
}

// DBPath returns the history database path.
func (c *Config) DBPath() string {
	if c.Server.DBPath != "" {
		return c.Server.DBPath
	}
	return filepath.Join(c.Server.DataDir, "sharezip.db")
}
