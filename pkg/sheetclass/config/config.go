package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
	"github.com/cognicore/sheetclass/pkg/sheetclass/source"
)

// Config is the service configuration file.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Tokenizer  TokenizerConfig  `yaml:"tokenizer"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Worker     WorkerConfig     `yaml:"worker"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// SourceConfig locates the training data. Either Address or SheetID is
// needed; Address wins when both are set.
type SourceConfig struct {
	Address    string        `yaml:"address"`
	SheetID    string        `yaml:"sheet_id"`
	SheetPage  int           `yaml:"sheet_page"`
	Format     string        `yaml:"format"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// TokenizerConfig points at the optional tokenizer resources.
type TokenizerConfig struct {
	Stoplist string `yaml:"stoplist"`
	Lexicon  string `yaml:"lexicon"`
	Dict     string `yaml:"dict"`
}

type ClassifierConfig struct {
	ApplyInverse         bool    `yaml:"apply_inverse"`
	ProbabilityThreshold float64 `yaml:"probability_threshold"`
	DefaultCategory      string  `yaml:"default_category"`
}

type WorkerConfig struct {
	MaxPending  int `yaml:"max_pending"`
	MailboxSize int `yaml:"mailbox_size"`
}

type SupervisorConfig struct {
	MaxRestarts    uint64        `yaml:"max_restarts"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`
}

// StoreConfig selects persistence. An empty path keeps everything in memory.
type StoreConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		Source: SourceConfig{
			SheetPage:  1,
			Timeout:    30 * time.Second,
			RetryDelay: time.Second,
		},
		Classifier: ClassifierConfig{
			ApplyInverse:    true,
			DefaultCategory: "unknown",
		},
		Worker: WorkerConfig{
			MaxPending:  1024,
			MailboxSize: 64,
		},
		Supervisor: SupervisorConfig{
			MaxRestarts:    3,
			RestartBackoff: time.Second,
		},
		Server: ServerConfig{
			Port:           8080,
			RequestTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults, expands environment
// variables in the source address and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}

	cfg.Source.Address = strings.TrimSpace(os.ExpandEnv(cfg.Source.Address))
	cfg.Source.SheetID = strings.TrimSpace(os.ExpandEnv(cfg.Source.SheetID))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch source.Format(c.Source.Format) {
	case source.FormatAuto, source.FormatCells, source.FormatCSV, source.FormatJSONL:
	default:
		return fmt.Errorf("%w: unknown source format %q", internalerr.ErrInvalidConfig, c.Source.Format)
	}
	if c.Classifier.ProbabilityThreshold < 0 || c.Classifier.ProbabilityThreshold > 1 {
		return fmt.Errorf("%w: probability_threshold must be within [0,1]", internalerr.ErrInvalidConfig)
	}
	if c.Worker.MaxPending < 0 || c.Worker.MailboxSize < 0 {
		return fmt.Errorf("%w: worker sizes must not be negative", internalerr.ErrInvalidConfig)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", internalerr.ErrInvalidConfig, c.Server.Port)
	}
	return nil
}

// SourceAddress resolves the data-source address, building the cells-feed
// URL from the sheet id when no explicit address is set.
func (c *Config) SourceAddress() string {
	if c.Source.Address != "" {
		return c.Source.Address
	}
	if c.Source.SheetID != "" {
		return source.SheetURL(c.Source.SheetID, c.Source.SheetPage)
	}
	return ""
}

// Stoplist represents the stopword list configuration
type Stoplist struct {
	Terms []string `yaml:"terms"`
}

// LoadStoplist loads stopwords from a YAML file
func LoadStoplist(path string) (*Stoplist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sl Stoplist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, err
	}
	return &sl, nil
}

// Dict represents the multi-token dictionary
type Dict struct {
	Entries []DictEntry
}

// DictEntry is one dictionary line.
type DictEntry struct {
	Canonical string
	Variants  []string
}

// LoadDict loads the multi-token dictionary from a file.
// Format: canonical|variant1|variant2
func LoadDict(path string) (*Dict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDict(string(data)), nil
}

// ParseDict parses dictionary text. Blank lines and # comments are skipped.
func ParseDict(data string) *Dict {
	dict := &Dict{Entries: []DictEntry{}}
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] == "" {
			continue
		}

		entry := DictEntry{Canonical: parts[0]}
		for _, v := range parts[1:] {
			if v != "" {
				entry.Variants = append(entry.Variants, v)
			}
		}
		dict.Entries = append(dict.Entries, entry)
	}
	return dict
}
