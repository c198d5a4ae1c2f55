// Package config loads lokitd.yaml and applies LOKITD_* environment
// overrides on top of built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "lokitd.yaml"

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// Config is the top-level lokitd.yaml structure.
type Config struct {
	// Listen is the HTTP listen address for `lokitd serve`.
	Listen string `yaml:"listen"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	Store     StoreConfig               `yaml:"store"`
	Remote    RemoteConfig              `yaml:"remote"`
	Generate  GenerateConfig            `yaml:"generate"`
	Translate TranslateConfig           `yaml:"translate"`
	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`
	Jobs      JobsConfig                `yaml:"jobs"`
	Log       LogConfig                 `yaml:"log"`

	// Languages is the default locale list for apps that do not set their own.
	Languages []string `yaml:"languages,omitempty"`
	// Apps are the applications bulk jobs enumerate when no targets are given.
	Apps []App `yaml:"apps,omitempty"`
}

// StoreConfig locates the Entry Store.
type StoreConfig struct {
	// Dir holds the local working copies, one PO file per file id.
	Dir string `yaml:"dir"`
}

// RemoteConfig locates the remote repository.
type RemoteConfig struct {
	// Dir holds one subdirectory per ref.
	Dir string `yaml:"dir"`
	// DefaultRef is used when a request names no ref.
	DefaultRef string `yaml:"default_ref,omitempty"`
}

// GenerateConfig controls the generate bulk job.
type GenerateConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// TranslateConfig holds translation defaults.
type TranslateConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model,omitempty"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Language   string        `yaml:"language,omitempty"`
	// Prompt overrides the built-in system prompt.
	Prompt string `yaml:"prompt,omitempty"`
}

// ProviderConfig overrides or adds a translation provider.
type ProviderConfig struct {
	Name    string        `yaml:"name,omitempty"`
	API     string        `yaml:"api,omitempty"`
	BaseURL string        `yaml:"base_url,omitempty"`
	Model   string        `yaml:"model,omitempty"`
	Proxy   string        `yaml:"proxy,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// APIKeyEnv names an environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// JobsConfig tunes the bulk job orchestrator.
type JobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	TargetTimeout time.Duration `yaml:"target_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LogConfig selects level and format of the root logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// App is one application with its locales.
type App struct {
	Name string `yaml:"name"`
	// Languages overrides the global language list for this app.
	Languages []string `yaml:"languages,omitempty"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Store:    StoreConfig{Dir: "data/local"},
		Remote:   RemoteConfig{Dir: "data/remote", DefaultRef: "main"},
		Generate: GenerateConfig{OutputDir: "data/generated"},
		Translate: TranslateConfig{
			Provider:   "openai",
			BatchSize:  20,
			Timeout:    120 * time.Second,
			MaxRetries: 3,
		},
		Jobs: JobsConfig{
			Retention:     time.Hour,
			TargetTimeout: 5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the config file at path over the defaults, then applies
// environment overrides and validates the result. An empty path looks for
// lokitd.yaml in the working directory; a missing default file is not an
// error, a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// resolvePaths makes relative directories relative to the config file.
func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Store.Dir, &c.Remote.Dir, &c.Generate.OutputDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// ApplyEnv overrides fields from LOKITD_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("LOKITD_LISTEN", &c.Listen)
	str("LOKITD_STORE_DIR", &c.Store.Dir)
	str("LOKITD_REMOTE_DIR", &c.Remote.Dir)
	str("LOKITD_REMOTE_REF", &c.Remote.DefaultRef)
	str("LOKITD_GENERATE_DIR", &c.Generate.OutputDir)
	str("LOKITD_PROVIDER", &c.Translate.Provider)
	str("LOKITD_MODEL", &c.Translate.Model)
	str("LOKITD_LANGUAGE", &c.Translate.Language)
	str("LOKITD_LOG_LEVEL", &c.Log.Level)
	str("LOKITD_LOG_FORMAT", &c.Log.Format)

	if v := strings.TrimSpace(getenv("LOKITD_CORS_ORIGINS")); v != "" {
		c.CORSOrigins = c.CORSOrigins[:0]
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	if v := strings.TrimSpace(getenv("LOKITD_BATCH_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOKITD_BATCH_SIZE: %w", err)
		}
		c.Translate.BatchSize = n
	}
	durations := map[string]*time.Duration{
		"LOKITD_TRANSLATE_TIMEOUT": &c.Translate.Timeout,
		"LOKITD_JOB_RETENTION":     &c.Jobs.Retention,
		"LOKITD_TARGET_TIMEOUT":    &c.Jobs.TargetTimeout,
	}
	for key, dst := range durations {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate checks values that would make the engine misbehave.
func (c *Config) Validate() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if c.Translate.BatchSize <= 0 {
		return fmt.Errorf("translate.batch_size must be positive, got %d", c.Translate.BatchSize)
	}
	if c.Translate.Timeout <= 0 {
		return fmt.Errorf("translate.timeout must be positive")
	}
	if c.Translate.MaxRetries < 0 {
		return fmt.Errorf("translate.max_retries must not be negative")
	}
	if c.Jobs.TargetTimeout <= 0 || c.Jobs.Retention <= 0 || c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("jobs durations must be positive")
	}
	seen := make(map[string]bool, len(c.Apps))
	for i, a := range c.Apps {
		if a.Name == "" {
			return fmt.Errorf("app #%d has no name", i+1)
		}
		if seen[a.Name] {
			return fmt.Errorf("app %q declared twice", a.Name)
		}
		seen[a.Name] = true
	}
	for id, p := range c.Providers {
		switch p.API {
		case "", "openai", "gemini", "anthropic":
		default:
			return fmt.Errorf("provider %q has unknown api %q (valid: openai, gemini, anthropic)", id, p.API)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolving apps
// ---------------------------------------------------------------------------

// AppLocale is one app × locale pair.
type AppLocale struct {
	App    string
	Locale string
}

// FileID is the Entry Store id of the pair's catalog.
func (a AppLocale) FileID() string { return a.App + "/" + a.Locale }

// AppLocales expands apps by their languages (or the global list), in
// declaration order with languages sorted.
func (c *Config) AppLocales() []AppLocale {
	var out []AppLocale
	for _, a := range c.Apps {
		langs := a.Languages
		if len(langs) == 0 {
			langs = c.Languages
		}
		langs = append([]string(nil), langs...)
		sort.Strings(langs)
		for _, l := range langs {
			out = append(out, AppLocale{App: a.Name, Locale: l})
		}
	}
	return out
}
