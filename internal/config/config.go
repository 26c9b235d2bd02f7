// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Harvest HarvestConfig `mapstructure:"harvest"`
	OAI     OAIConfig     `mapstructure:"oai"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// HarvestConfig governs the record pipeline and the output tree.
type HarvestConfig struct {
	DownloadRoot      string        `mapstructure:"download_root"`
	StateDir          string        `mapstructure:"state_dir"`
	SetPrefix         string        `mapstructure:"set_prefix"`
	AggregatorDomain  string        `mapstructure:"aggregator_domain"`
	ArtifactHost      string        `mapstructure:"artifact_host"`
	ArtifactScheme    string        `mapstructure:"artifact_scheme"`
	CollectionPrefix  string        `mapstructure:"collection_prefix"`
	Group             string        `mapstructure:"group"`
	ToolName          string        `mapstructure:"tool_name"`
	Workers           int           `mapstructure:"workers"`
	MaxRecordAttempts int           `mapstructure:"max_record_attempts"`
	RecordBackoff     time.Duration `mapstructure:"record_backoff"`
	LinkMaxAttempts   int           `mapstructure:"link_max_attempts"`
	LinkBackoff       time.Duration `mapstructure:"link_backoff"`
}

// OAIConfig points at the OAI-PMH endpoint.
type OAIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MetadataPrefix string        `mapstructure:"metadata_prefix"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
}

// HTTPConfig configures the shared HTTP fetcher.
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
}

// LoggingConfig toggles zap features and the on-disk log copy.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Dir         string `mapstructure:"dir"`
}

// MetricsConfig controls the optional Prometheus endpoint and textfile dump.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Textfile   string `mapstructure:"textfile"`
}

// PubSubConfig holds metadata for package-archived notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// Override pins Key to Value above file and environment values. Commands use
// it for flags that mirror config keys.
type Override struct {
	Key   string
	Value any
}

// Load builds a Config from disk/environment.
func Load(path string, overrides ...Override) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for _, o := range overrides {
		v.Set(o.Key, o.Value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func newDefaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("harvest.download_root", "")
	v.SetDefault("harvest.state_dir", ".")
	v.SetDefault("harvest.set_prefix", "HINDAWI")
	v.SetDefault("harvest.aggregator_domain", "hindawi.com")
	v.SetDefault("harvest.artifact_host", "downloads.hindawi.com")
	v.SetDefault("harvest.artifact_scheme", "https")
	v.SetDefault("harvest.collection_prefix", "Open Access E-Journals/Hindawi")
	v.SetDefault("harvest.group", "Hindawi Publishing Corporation")
	v.SetDefault("harvest.tool_name", "journal-harvester")
	v.SetDefault("harvest.workers", 1)
	v.SetDefault("harvest.max_record_attempts", 3)
	v.SetDefault("harvest.record_backoff", 10*time.Second)
	v.SetDefault("harvest.link_max_attempts", 3)
	v.SetDefault("harvest.link_backoff", 10*time.Second)
	v.SetDefault("oai.base_url", "https://www.hindawi.com/oai-pmh/oai.aspx")
	v.SetDefault("oai.metadata_prefix", "oai_dc")
	v.SetDefault("oai.page_delay", 2*time.Second)
	v.SetDefault("http.user_agent", "journal-harvester/1.0")
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits. The download root
// is checked separately since only downloading commands need it.
func (c Config) Validate() error {
	if c.Harvest.SetPrefix == "" {
		return errors.New("harvest.set_prefix must be set")
	}
	if c.Harvest.AggregatorDomain == "" {
		return errors.New("harvest.aggregator_domain must be set")
	}
	if c.Harvest.ArtifactHost == "" {
		return errors.New("harvest.artifact_host must be set")
	}
	if s := c.Harvest.ArtifactScheme; s != "http" && s != "https" {
		return fmt.Errorf("harvest.artifact_scheme must be http or https, got %q", s)
	}
	if c.Harvest.Workers < 1 || c.Harvest.Workers > 4 {
		return fmt.Errorf("harvest.workers must be between 1 and 4, got %d", c.Harvest.Workers)
	}
	// Parallel records must still wait on the per-host limiter.
	if c.Harvest.Workers > 1 && c.HTTP.RequestsPerSecond <= 0 {
		return fmt.Errorf("http.requests_per_second must be > 0 when harvest.workers is %d", c.Harvest.Workers)
	}
	if c.Harvest.MaxRecordAttempts <= 0 {
		return errors.New("harvest.max_record_attempts must be > 0")
	}
	if c.Harvest.LinkMaxAttempts <= 0 {
		return errors.New("harvest.link_max_attempts must be > 0")
	}
	if c.Harvest.RecordBackoff < 0 || c.Harvest.LinkBackoff < 0 || c.OAI.PageDelay < 0 {
		return errors.New("harvest backoffs and oai.page_delay must be >= 0")
	}
	if u, err := url.Parse(c.OAI.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("oai.base_url must be an absolute URL, got %q", c.OAI.BaseURL)
	}
	if c.OAI.MetadataPrefix == "" {
		return errors.New("oai.metadata_prefix must be set")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return errors.New("http.max_body_bytes must be >= 0")
	}
	return nil
}

// CheckDownloadRoot ensures the download root is set and usable: it either
// exists as a directory or its parent does.
func (c Config) CheckDownloadRoot() error {
	if c.Harvest.DownloadRoot == "" {
		return errors.New("harvest.download_root must be set")
	}
	root := filepath.Clean(c.Harvest.DownloadRoot)
	if info, err := os.Stat(root); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("download root %s is not a directory", root)
		}
		return nil
	}
	parent := filepath.Dir(root)
	info, err := os.Stat(parent)
	if err != nil {
		return fmt.Errorf("download root parent %s: %w", parent, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("download root parent %s is not a directory", parent)
	}
	return nil
}
