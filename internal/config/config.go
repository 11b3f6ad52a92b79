// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default timing values for the download-detection pipeline.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultStablePeriod = 2 * time.Second
	DefaultMaxWait      = 3 * time.Minute
	DefaultMarkerTTL    = 10 * time.Minute
)

// Config is the application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Watch        WatchConfig        `mapstructure:"watch"`
	Destinations DestinationsConfig `mapstructure:"destinations"`
	Extensions   ExtensionsConfig   `mapstructure:"extensions"`
	Journal      JournalConfig      `mapstructure:"journal"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// WatchConfig holds the watched directory and the timing constants that
// gate the download-detection state machine.
type WatchConfig struct {
	Path           string        `mapstructure:"path"`
	PollInterval   time.Duration `mapstructure:"pollInterval"`
	StablePeriod   time.Duration `mapstructure:"stablePeriod"`
	MaxWait        time.Duration `mapstructure:"maxWait"`
	MarkerTTL      time.Duration `mapstructure:"markerTTL"`
	TempExtensions []string      `mapstructure:"tempExtensions"`
}

// DestinationsConfig holds the destination directory for each category.
type DestinationsConfig struct {
	Videos    string `mapstructure:"videos"`
	Documents string `mapstructure:"documents"`
	Pictures  string `mapstructure:"pictures"`
	Music     string `mapstructure:"music"`
	Archives  string `mapstructure:"archives"`
}

// ExtensionsConfig holds the recognized extensions per category.
// Video and document extensions are configurable like the rest even though
// the defaults only carry one entry each.
type ExtensionsConfig struct {
	Video    []string `mapstructure:"video"`
	Document []string `mapstructure:"document"`
	Image    []string `mapstructure:"image"`
	Audio    []string `mapstructure:"audio"`
	Archive  []string `mapstructure:"archive"`
}

// JournalConfig holds move-history persistence configuration.
// An empty Path disables the journal.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly.
// Otherwise, it searches default locations ($HOME, current directory,
// /config) for a file named downsort.yaml.
//
// Environment variables with prefix DOWNSORT_ override config file values.
func Load(opts LoadOptions) (Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
		v.SetConfigType("yaml")
		v.SetConfigName("downsort")
	}

	// Environment variables
	v.SetEnvPrefix("DOWNSORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	home, _ := os.UserHomeDir()
	watchPath := filepath.Join(home, "Downloads")

	v.SetDefault("server.listen", "[::]:8400")
	v.SetDefault("watch.path", watchPath)
	v.SetDefault("watch.pollInterval", DefaultPollInterval)
	v.SetDefault("watch.stablePeriod", DefaultStablePeriod)
	v.SetDefault("watch.maxWait", DefaultMaxWait)
	v.SetDefault("watch.markerTTL", DefaultMarkerTTL)
	v.SetDefault("watch.tempExtensions", []string{".crdownload", ".part", ".tmp"})
	v.SetDefault("destinations.videos", filepath.Join(home, "Videos"))
	v.SetDefault("destinations.documents", filepath.Join(home, "Documents"))
	v.SetDefault("destinations.pictures", filepath.Join(home, "Pictures"))
	v.SetDefault("destinations.music", filepath.Join(home, "Music"))
	v.SetDefault("destinations.archives", filepath.Join(watchPath, "_Archives"))
	v.SetDefault("extensions.video", []string{".mp4"})
	v.SetDefault("extensions.document", []string{".pdf"})
	v.SetDefault("extensions.image", []string{".jpg", ".jpeg", ".png", ".webp", ".heic"})
	v.SetDefault("extensions.audio", []string{".mp3", ".wav", ".m4a"})
	v.SetDefault("extensions.archive", []string{".zip", ".7z", ".rar"})
	v.SetDefault("journal.path", "")

	// Read config file (ignore error if not found)
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	normalize(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// normalize lowercases extensions and ensures each carries a leading dot,
// so lookups can rely on a single canonical form.
func normalize(cfg *Config) {
	cfg.Watch.TempExtensions = normalizeExts(cfg.Watch.TempExtensions)
	cfg.Extensions.Video = normalizeExts(cfg.Extensions.Video)
	cfg.Extensions.Document = normalizeExts(cfg.Extensions.Document)
	cfg.Extensions.Image = normalizeExts(cfg.Extensions.Image)
	cfg.Extensions.Audio = normalizeExts(cfg.Extensions.Audio)
	cfg.Extensions.Archive = normalizeExts(cfg.Extensions.Archive)
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// validate checks that the configuration is valid.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Watch.Path == "" {
		errs = append(errs, errors.New("watch.path is required"))
	}
	if cfg.Watch.PollInterval <= 0 {
		errs = append(errs, errors.New("watch.pollInterval must be positive"))
	}
	if cfg.Watch.StablePeriod <= 0 {
		errs = append(errs, errors.New("watch.stablePeriod must be positive"))
	}
	if cfg.Watch.MaxWait < cfg.Watch.StablePeriod {
		errs = append(errs, errors.New("watch.maxWait must be at least watch.stablePeriod"))
	}
	if cfg.Watch.MarkerTTL <= 0 {
		errs = append(errs, errors.New("watch.markerTTL must be positive"))
	}
	if len(cfg.Watch.TempExtensions) == 0 {
		errs = append(errs, errors.New("watch.tempExtensions must not be empty"))
	}

	dests := map[string]string{
		"destinations.videos":    cfg.Destinations.Videos,
		"destinations.documents": cfg.Destinations.Documents,
		"destinations.pictures":  cfg.Destinations.Pictures,
		"destinations.music":     cfg.Destinations.Music,
		"destinations.archives":  cfg.Destinations.Archives,
	}
	for key, dir := range dests {
		if dir == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	// Temp classification takes precedence over routing, so an extension
	// listed in both sets would silently never route. Reject it up front.
	temp := make(map[string]bool, len(cfg.Watch.TempExtensions))
	for _, e := range cfg.Watch.TempExtensions {
		temp[e] = true
	}
	for _, group := range [][]string{
		cfg.Extensions.Video,
		cfg.Extensions.Document,
		cfg.Extensions.Image,
		cfg.Extensions.Audio,
		cfg.Extensions.Archive,
	} {
		for _, e := range group {
			if temp[e] {
				errs = append(errs, fmt.Errorf("extension %q is listed both as a temp artifact and a routed type", e))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
