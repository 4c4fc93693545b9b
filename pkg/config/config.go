// package config loads release configuration using koanf.
//
// Layers, lowest priority first:
//   - built-in defaults
//   - a YAML file (--config, else .release.yml when present)
//   - RELEASE_ environment variables, with "__" separating nested keys,
//     e.g. RELEASE_SERVER__PORT=8080
//
// GITHUB_TOKEN is used when no token is configured.
package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/release/pkg/changelog"
	"github.com/open-sauced/pizza/release/pkg/reconcile"
	"github.com/open-sauced/pizza/release/pkg/release"
	"github.com/open-sauced/pizza/release/pkg/semver"
)

// DefaultPath is read when no config path is given and the file exists
const DefaultPath = ".release.yml"

const envPrefix = "RELEASE_"

// Config is the complete release configuration
type Config struct {
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Token string `koanf:"token"`

	// APIURL overrides the forge API root, e.g. for GitHub Enterprise
	APIURL string `koanf:"api_url"`

	// BaseURL is the web URL changelog links point to
	BaseURL string `koanf:"base_url"`

	OnlyPublishWithReleaseLabel bool     `koanf:"only_publish_with_release_label"`
	SkipReleaseLabels           []string `koanf:"skip_release_labels"`

	// Labels are merged over semver.DefaultLabels by name at load time
	Labels []semver.LabelDefinition `koanf:"labels"`
	Bots   []string                 `koanf:"bots"`

	Concurrency    int  `koanf:"concurrency"`
	ConfirmMatches bool `koanf:"confirm_matches"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
}

// ServerConfig configures the serve command
type ServerConfig struct {
	Port            string   `koanf:"port"`
	GitProvider     string   `koanf:"git_provider"`
	CacheDir        string   `koanf:"cache_dir"`
	MinFreeDiskGB   uint64   `koanf:"min_free_disk_gb"`
	NeverEvictRepos []string `koanf:"never_evict_repos"`
}

// DatabaseConfig enables report persistence when Host is set
type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
}

// Enabled reports whether a database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// LoadOptions tune Load
type LoadOptions struct {
	// Path of the YAML file. Empty means DefaultPath if it exists.
	Path string

	Logger *zap.SugaredLogger
}

// GetDefaults returns the default values keyed by koanf path
func GetDefaults() map[string]interface{} {
	return map[string]interface{}{
		"concurrency":             reconcile.DefaultConcurrency,
		"confirm_matches":         false,
		"bots":                    changelog.DefaultBots,
		"server.port":             "8080",
		"server.git_provider":     "memory",
		"server.cache_dir":        "/tmp/release-cache",
		"server.min_free_disk_gb": uint64(25),
		"database.port":           "5432",
	}
}

// Load builds a Config from defaults, the YAML file and the environment
func Load(opts LoadOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	k := koanf.New(".")

	for key, value := range GetDefaults() {
		if err := k.Set(key, value); err != nil {
			return nil, errors.Wrapf(err, "could not set default %s", key)
		}
	}

	path := opts.Path
	if path == "" && fileExists(DefaultPath) {
		path = DefaultPath
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "could not load config file %s", path)
		}
		logger.Infof("Configuration was set using yaml file: %s", path)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, errors.Wrap(err, "could not load environment config")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal config")
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("GITHUB_TOKEN")
	}
	if cfg.Concurrency < 1 {
		logger.Warnf("Invalid concurrency %d, using %d", cfg.Concurrency, reconcile.DefaultConcurrency)
		cfg.Concurrency = reconcile.DefaultConcurrency
	}

	cfg.Labels = semver.MergeLabels(semver.DefaultLabels, cfg.Labels, func(label semver.LabelDefinition) {
		logger.Warnf("Ignoring label %q with unknown release type %q", label.Name, label.ReleaseType)
	})

	return &cfg, nil
}

// SetRepository fills Owner and Repo from an "owner/name" slug unless they
// are already configured
func (c *Config) SetRepository(owner, repo string) {
	if c.Owner == "" {
		c.Owner = owner
	}
	if c.Repo == "" {
		c.Repo = repo
	}
}

// ReleaseOptions returns the options of a release.Release for owner/repo
func (c *Config) ReleaseOptions(owner, repo string) release.Options {
	return release.Options{
		Owner:                       owner,
		Repo:                        repo,
		BaseURL:                     c.BaseURL,
		Labels:                      c.Labels,
		Bots:                        c.Bots,
		OnlyPublishWithReleaseLabel: c.OnlyPublishWithReleaseLabel,
		SkipReleaseLabels:           c.SkipReleaseLabels,
		Concurrency:                 c.Concurrency,
		ConfirmMatches:              c.ConfirmMatches,
	}
}

// envTransform maps RELEASE_SERVER__PORT to server.port
func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
