package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Remote   RemoteConfig   `toml:"remote"`
	Jobs     JobsConfig     `toml:"jobs"`
	Tools    ToolsConfig    `toml:"tools"`
	Cover    CoverConfig    `toml:"cover"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
}

// StorageConfig locates the local cache tier.
type StorageConfig struct {
	Root string `toml:"root"`
}

// RemoteConfig selects and tunes the remote content store.
type RemoteConfig struct {
	// Backend is one of "github", "s3" or "none".
	Backend         string        `toml:"backend"`
	MaxObjectSize   ByteSize      `toml:"max_object_size"`
	ContentTimeout  time.Duration `toml:"content_timeout"`
	MetadataTimeout time.Duration `toml:"metadata_timeout"`
	ListDepth       int           `toml:"list_depth"`
	RequestsPerSec  float64       `toml:"requests_per_second"`
	DeleteWorkers   int           `toml:"delete_workers"`
	GitHub          GitHubConfig  `toml:"github"`
	S3              S3Config      `toml:"s3"`
}

// GitHubConfig holds the repository used as a content store.
type GitHubConfig struct {
	Token      string `toml:"token"`
	Repo       string `toml:"repo"`
	Branch     string `toml:"branch"`
	PathPrefix string `toml:"path_prefix"`
	APIURL     string `toml:"api_url"`
	RawURL     string `toml:"raw_url"`
}

// S3Config holds bucket settings for S3 compatible stores.
type S3Config struct {
	Bucket       string `toml:"bucket"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	Prefix       string `toml:"prefix"`
	UsePathStyle bool   `toml:"use_path_style"`
	PublicURL    string `toml:"public_url"`
}

// JobsConfig tunes the job runner and event stream.
type JobsConfig struct {
	KeepAlive   time.Duration `toml:"keepalive"`
	IdleTimeout time.Duration `toml:"idle_timeout"`
	GCInterval  time.Duration `toml:"gc_interval"`
}

// ToolsConfig names the external programs bridged by jobs.
type ToolsConfig struct {
	Downloader      string        `toml:"downloader"`
	Separator       string        `toml:"separator"`
	SeparatorModel  string        `toml:"separator_model"`
	Analyzer        string        `toml:"analyzer"`
	Timeout         time.Duration `toml:"timeout"`
	// DownloadTimeout is the ceiling for the downloader only.
	DownloadTimeout time.Duration `toml:"download_timeout"`
}

// CoverConfig contains generative cover API settings.
type CoverConfig struct {
	APIURL       string        `toml:"api_url"`
	APIKey       string        `toml:"api_key"`
	Model        string        `toml:"model"`
	CallbackURL  string        `toml:"callback_url"`
	PollInterval time.Duration `toml:"poll_interval"`
	Timeout      time.Duration `toml:"timeout"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// PublicBaseURL is the externally reachable address of this server, used to hand audio URLs to the cover API
	// when the remote tier is disabled.
	PublicBaseURL string `toml:"public_base_url"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// ByteSize is a size parsed from a human string such as "100MiB".
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("%w: size %q: %v", ErrInvalidConfig, text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(humanize.IBytes(uint64(b))), nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 { return int64(b) }

// LoadConfig reads and parses a TOML configuration file from the specified path.
// Values absent from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overlays the deployment environment variables onto c. getenv is usually [os.Getenv].
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("GITHUB_TOKEN"); v != "" {
		c.Remote.GitHub.Token = v
	}
	if v := getenv("GITHUB_REPO"); v != "" {
		c.Remote.GitHub.Repo = v
	}
	if v := getenv("GITHUB_BRANCH"); v != "" {
		c.Remote.GitHub.Branch = v
	}
	if v := getenv("KIE_API_KEY"); v != "" {
		c.Cover.APIKey = v
	}
	if v := getenv("PUBLIC_BASE_URL"); v != "" {
		c.Server.PublicBaseURL = strings.TrimRight(v, "/")
	}
	if v := getenv("STEMX_S3_BUCKET"); v != "" {
		c.Remote.S3.Bucket = v
	}
}

// RemoteEnabled reports whether the selected backend has what it needs to talk to the remote store.
func (c *Config) RemoteEnabled() bool {
	switch c.Remote.Backend {
	case "github":
		return c.Remote.GitHub.Token != "" && c.Remote.GitHub.Repo != ""
	case "s3":
		return c.Remote.S3.Bucket != ""
	default:
		return false
	}
}

// Validate checks the values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("%w: storage.root is empty", ErrInvalidConfig)
	}
	switch c.Remote.Backend {
	case "github", "s3", "none", "":
	default:
		return fmt.Errorf("%w: unknown remote backend %q", ErrInvalidConfig, c.Remote.Backend)
	}
	if c.Remote.MaxObjectSize <= 0 {
		return fmt.Errorf("%w: remote.max_object_size must be positive", ErrInvalidConfig)
	}
	if c.Tools.Timeout <= 0 || c.Tools.DownloadTimeout <= 0 || c.Cover.PollInterval <= 0 || c.Cover.Timeout <= 0 {
		return fmt.Errorf("%w: tool and cover timeouts must be positive", ErrInvalidConfig)
	}
	return nil
}

// Addr returns host:port for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
