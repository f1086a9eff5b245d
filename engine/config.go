package engine

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/reportlens/source"
)

// Config is the top-level reportlens configuration.
type Config struct {
	Product       string        `yaml:"product"`
	Source        SourceConfig  `yaml:"source"`
	Debounce      time.Duration `yaml:"debounce"`
	SettingsDB    string        `yaml:"settings_db"`
	ExcludeList   string        `yaml:"exclude_list"`
	Listen        string        `yaml:"listen"`
	AuthTokenHash string        `yaml:"auth_token_hash"` // bcrypt; empty disables auth
}

// SourceConfig selects where report documents come from.
type SourceConfig struct {
	Mode     string        `yaml:"mode"` // file | http | browser
	Path     string        `yaml:"path"` // for file
	URL      string        `yaml:"url"`  // for http/browser
	Interval time.Duration `yaml:"interval"`
	Escalate bool          `yaml:"escalate"` // http only: fall back to browser on thin pages
	Browser  BrowserConfig `yaml:"browser"`
}

// BrowserConfig controls the Chrome-backed source.
type BrowserConfig struct {
	Remote string `yaml:"remote"` // ws:// of external Chrome; empty = launch
	Mode   string `yaml:"mode"`   // headless | headful
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("engine: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Product == "" {
		c.Product = "reportlens"
	}
	if c.Source.Mode == "" {
		c.Source.Mode = "file"
	}
	if c.Source.Interval <= 0 {
		c.Source.Interval = 5 * time.Second
	}
	if c.Source.Browser.Mode == "" {
		c.Source.Browser.Mode = "headless"
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.SettingsDB == "" {
		c.SettingsDB = "db/settings.db"
	}
	if c.ExcludeList == "" {
		c.ExcludeList = "all"
	}
	if c.Listen == "" {
		c.Listen = ":8090"
	}
}

// NewSource builds the document source described by sc. For http with
// escalate enabled the source probes the fetched page and hands thin
// JS-shell pages to a browser instead.
func NewSource(sc SourceConfig, logger *slog.Logger) (source.Source, error) {
	newBrowser := func() *source.Browser {
		return source.NewBrowser(sc.URL,
			source.WithRemote(sc.Browser.Remote),
			source.WithHeadless(sc.Browser.Mode != "headful"),
			source.WithBrowserInterval(sc.Interval),
			source.WithBrowserLogger(logger),
		)
	}

	switch sc.Mode {
	case "file":
		if sc.Path == "" {
			return nil, fmt.Errorf("engine: file source needs source.path")
		}
		return source.NewFile(sc.Path, source.WithFileLogger(logger)), nil
	case "http":
		if sc.URL == "" {
			return nil, fmt.Errorf("engine: http source needs source.url")
		}
		h := source.NewHTTP(sc.URL,
			source.WithInterval(sc.Interval),
			source.WithHTTPLogger(logger),
		)
		if sc.Escalate {
			return source.NewAuto(h, newBrowser(), logger), nil
		}
		return h, nil
	case "browser":
		if sc.URL == "" {
			return nil, fmt.Errorf("engine: browser source needs source.url")
		}
		return newBrowser(), nil
	default:
		return nil, fmt.Errorf("engine: unknown source mode %q", sc.Mode)
	}
}
