// Package config loads amanvec job configuration from .amanvec.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanvec/internal/errors"
)

// Config is the complete amanvec job configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Source     SourceConfig     `yaml:"source"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Container  ContainerConfig  `yaml:"container"`
	Index      IndexConfig      `yaml:"index"`
	Watch      WatchConfig      `yaml:"watch"`
	LogLevel   string           `yaml:"log_level"`
}

// SourceConfig selects which documents get cracked.
type SourceConfig struct {
	// Root is the directory to index, relative paths resolve against the
	// config file's directory.
	Root string `yaml:"root"`

	// Include are path glob patterns to index (empty = all files).
	// Patterns use path.Match syntax against the path relative to Root;
	// "**/" prefixes and "/**" suffixes match recursively, and a plain
	// pattern like "*.md" also matches by base name at any depth.
	Include []string `yaml:"include"`

	// Exclude are path glob patterns to skip, same syntax as Include.
	// Merged with the built-in defaults rather than replacing them.
	Exclude []string `yaml:"exclude"`

	// MaxFileSizeMB is the per-file size ceiling in megabytes.
	MaxFileSizeMB int `yaml:"max_file_size_mb"`

	// Workers is the number of concurrent discovery workers.
	Workers int `yaml:"workers"`
}

// ChunkingConfig configures how documents are split.
type ChunkingConfig struct {
	// MaxChars is the chunk size ceiling in characters.
	MaxChars int `yaml:"max_chars"`
}

// EmbeddingsConfig configures the embedding backend.
type EmbeddingsConfig struct {
	// Provider selects the backend: "ollama" or "static".
	Provider string `yaml:"provider"`

	// Model is the embedding model name (ollama only).
	Model string `yaml:"model"`

	// Endpoint is the backend API endpoint. Empty uses the provider
	// default (http://localhost:11434 for ollama).
	Endpoint string `yaml:"endpoint"`

	// BatchSize is texts per backend request.
	BatchSize int `yaml:"batch_size"`

	// CacheSize is the query embedding LRU capacity.
	CacheSize int `yaml:"cache_size"`
}

// ContainerConfig locates the persisted embeddings container.
type ContainerConfig struct {
	// Path is the container directory. Relative paths resolve against
	// the config file's directory.
	Path string `yaml:"path"`
}

// IndexConfig configures the derived search indexes.
type IndexConfig struct {
	// SyncEnabled keeps a lexical index in step with the container after
	// each merge.
	SyncEnabled bool `yaml:"sync_enabled"`

	// Path is the lexical index directory. Empty derives
	// "<container>.bleve" next to the container.
	Path string `yaml:"path"`
}

// WatchConfig configures continuous re-indexing.
type WatchConfig struct {
	// Debounce is how long to wait after the last filesystem event
	// before re-indexing, as a duration string.
	Debounce string `yaml:"debounce"`
}

// defaultExcludePatterns are always skipped during discovery.
var defaultExcludePatterns = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	"dist",
	"build",
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"go.sum",
}

// FileName is the project config file amanvec looks for.
const FileName = ".amanvec.yaml"

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Version: 1,
		Source: SourceConfig{
			Root:          ".",
			Exclude:       defaultExcludePatterns,
			MaxFileSizeMB: 10,
			Workers:       runtime.NumCPU(),
		},
		Chunking: ChunkingConfig{
			MaxChars: 2048,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			CacheSize: 1024,
		},
		Container: ContainerConfig{
			Path: ".amanvec/container",
		},
		Index: IndexConfig{
			SyncEnabled: false,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration for a project directory, in order of
// increasing precedence: defaults, .amanvec.yaml (or .yml), AMANVEC_*
// environment variables. Relative paths are resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := New()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile merges the project config file into cfg when one exists.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{FileName, ".amanvec.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.New(errors.ErrCodeConfigNotFound,
				fmt.Sprintf("failed to read config file %s", path), err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return errors.ConfigError(
				fmt.Sprintf("failed to parse config file %s", path), err)
		}
		c.mergeWith(&parsed)
		return nil
	}
	// No config file means defaults.
	return nil
}

// mergeWith overlays non-zero values from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Source.Root != "" {
		c.Source.Root = other.Source.Root
	}
	if len(other.Source.Include) > 0 {
		c.Source.Include = other.Source.Include
	}
	if len(other.Source.Exclude) > 0 {
		c.Source.Exclude = append(c.Source.Exclude, other.Source.Exclude...)
	}
	if other.Source.MaxFileSizeMB != 0 {
		c.Source.MaxFileSizeMB = other.Source.MaxFileSizeMB
	}
	if other.Source.Workers != 0 {
		c.Source.Workers = other.Source.Workers
	}

	if other.Chunking.MaxChars != 0 {
		c.Chunking.MaxChars = other.Chunking.MaxChars
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Container.Path != "" {
		c.Container.Path = other.Container.Path
	}

	if other.Index.SyncEnabled {
		c.Index.SyncEnabled = true
	}
	if other.Index.Path != "" {
		c.Index.Path = other.Index.Path
	}

	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies AMANVEC_* environment variable overrides,
// the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANVEC_SOURCE_ROOT"); v != "" {
		c.Source.Root = v
	}
	if v := os.Getenv("AMANVEC_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("AMANVEC_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("AMANVEC_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("AMANVEC_EMBEDDINGS_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("AMANVEC_CONTAINER_PATH"); v != "" {
		c.Container.Path = v
	}
	if v := os.Getenv("AMANVEC_INDEX_SYNC"); v != "" {
		c.Index.SyncEnabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("AMANVEC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// resolvePaths anchors relative paths at the project directory.
func (c *Config) resolvePaths(dir string) {
	if !filepath.IsAbs(c.Source.Root) {
		c.Source.Root = filepath.Join(dir, c.Source.Root)
	}
	if !filepath.IsAbs(c.Container.Path) {
		c.Container.Path = filepath.Join(dir, c.Container.Path)
	}
	if c.Index.Path == "" {
		c.Index.Path = c.Container.Path + ".bleve"
	} else if !filepath.IsAbs(c.Index.Path) {
		c.Index.Path = filepath.Join(dir, c.Index.Path)
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	validProviders := map[string]bool{"ollama": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return errors.ConfigError(
			fmt.Sprintf("embeddings.provider must be 'ollama' or 'static', got %q", c.Embeddings.Provider), nil)
	}
	if c.Embeddings.Provider == "ollama" && c.Embeddings.Model == "" {
		return errors.ConfigError("embeddings.model is required for the ollama provider", nil)
	}
	if c.Embeddings.BatchSize < 0 {
		return errors.ConfigError(
			fmt.Sprintf("embeddings.batch_size must be non-negative, got %d", c.Embeddings.BatchSize), nil)
	}
	if c.Source.MaxFileSizeMB <= 0 {
		return errors.ConfigError(
			fmt.Sprintf("source.max_file_size_mb must be positive, got %d", c.Source.MaxFileSizeMB), nil)
	}
	if c.Chunking.MaxChars <= 0 {
		return errors.ConfigError(
			fmt.Sprintf("chunking.max_chars must be positive, got %d", c.Chunking.MaxChars), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return errors.ConfigError(
			fmt.Sprintf("log_level must be 'debug', 'info', 'warn', or 'error', got %q", c.LogLevel), nil)
	}

	if _, err := c.WatchDebounce(); err != nil {
		return errors.ConfigError(
			fmt.Sprintf("watch.debounce %q is not a valid duration", c.Watch.Debounce), err)
	}
	return nil
}

// EmbedURI renders the embedding selection as the container URI form,
// "<provider>://model/<name>".
func (c *Config) EmbedURI() string {
	model := c.Embeddings.Model
	if c.Embeddings.Provider == "static" && model == "" {
		model = "default"
	}
	return fmt.Sprintf("%s://model/%s", strings.ToLower(c.Embeddings.Provider), model)
}

// WatchDebounce parses the watch debounce duration.
func (c *Config) WatchDebounce() (time.Duration, error) {
	if c.Watch.Debounce == "" {
		return 500 * time.Millisecond, nil
	}
	return time.ParseDuration(c.Watch.Debounce)
}

// MaxFileSizeBytes returns the per-file size ceiling in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Source.MaxFileSizeMB) * 1024 * 1024
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.ConfigError("failed to marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.ConfigError(fmt.Sprintf("failed to write config file %s", path), err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for a .amanvec.yaml/.yml
// or a .git directory. Falls back to startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errors.ConfigError("failed to resolve project directory", err)
	}

	current := absDir
	for {
		if fileExists(filepath.Join(current, FileName)) ||
			fileExists(filepath.Join(current, ".amanvec.yml")) ||
			dirExists(filepath.Join(current, ".git")) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
