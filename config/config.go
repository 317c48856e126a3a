package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL = "https://ai-chat-api-production.up.railway.app"
	DefaultModel   = "gpt-4o-mini"
	DefaultDetail  = "high"

	chatPath   = "/api/openai/chat"
	speechPath = "/api/openai/speech"
)

var ErrInvalidBaseURL = errors.New("invalid base URL")

// Config is the single source for endpoint and credential settings. Both the
// chat and the speech endpoint derive from BaseURL.
type Config struct {
	APIKey      string `toml:"api_key"`
	BaseURL     string `toml:"api_url"`
	Model       string `toml:"model"`
	ImageDetail string `toml:"image_detail"`
	Platform    string `toml:"platform"`
}

// Overrides carries command-line values; empty fields are ignored.
type Overrides struct {
	BaseURL string
	Model   string
}

func Default() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		ImageDetail: DefaultDetail,
	}
}

// Load layers defaults, the TOML file, a .env file, the environment and
// finally the overrides. A missing config or .env file is not an error.
func Load(path, envFile string, o Overrides) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("env file %s: %w", envFile, err)
		}
	}

	if v := firstEnv("NATTER_API_KEY", "OPENAI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := firstEnv("NATTER_API_URL", "API_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("NATTER_MODEL"); v != "" {
		cfg.Model = v
	}

	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.Model != "" {
		cfg.Model = o.Model
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidBaseURL, c.BaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w %q: need absolute http(s) URL", ErrInvalidBaseURL, c.BaseURL)
	}
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	return nil
}

func (c Config) ChatURL() string { return c.BaseURL + chatPath }

func (c Config) SpeechURL() string { return c.BaseURL + speechPath }

// DefaultPath returns $XDG_CONFIG_HOME/natter/config.toml, or "" when no home
// directory can be resolved.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "natter", "config.toml")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
