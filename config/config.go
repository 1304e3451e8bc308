package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	. "github.com/pattyshack/edb/debugger/common"
)

const (
	configDir  = ".edb"
	configFile = "config.yml"

	DefaultPrompt          = "edb > "
	DefaultLogLevel        = "warning"
	DefaultMaxBreakpoints  = 64
	DefaultSourceContext   = 3
	DefaultSourceCacheSize = 16
)

const (
	TextLogFormat = "text"
	JSONLogFormat = "json"
)

// Config defines all options available to be set through the config file.
// Zero / missing values are replaced by defaults.
type Config struct {
	LogLevel  string `yaml:"log-level"`
	LogFormat string `yaml:"log-format"`

	Prompt string `yaml:"prompt"`

	// Empty means no history is persisted.
	HistoryFile string `yaml:"history-file"`

	MaxBreakpoints int `yaml:"max-breakpoints"`

	// 0 means the decoder's default bound.
	MaxLineRows int `yaml:"max-line-rows"`

	// Number of source lines shown around a stop.  Negative disables source
	// display.
	SourceContext *int `yaml:"source-context,omitempty"`

	SourceCacheSize int `yaml:"source-cache-size"`
}

func Default() *Config {
	conf := &Config{}
	conf.setDefaults()
	return conf
}

func (conf *Config) setDefaults() {
	if conf.LogLevel == "" {
		conf.LogLevel = DefaultLogLevel
	}

	if conf.LogFormat == "" {
		conf.LogFormat = TextLogFormat
	}

	if conf.Prompt == "" {
		conf.Prompt = DefaultPrompt
	}

	if conf.MaxBreakpoints == 0 {
		conf.MaxBreakpoints = DefaultMaxBreakpoints
	}

	if conf.SourceContext == nil {
		context := DefaultSourceContext
		conf.SourceContext = &context
	}

	if conf.SourceCacheSize == 0 {
		conf.SourceCacheSize = DefaultSourceCacheSize
	}
}

func (conf *Config) Validate() error {
	switch conf.LogFormat {
	case TextLogFormat, JSONLogFormat:
	default:
		return fmt.Errorf(
			"%w. invalid log-format (%s)",
			ErrInvalidArgument,
			conf.LogFormat)
	}

	if conf.MaxBreakpoints < 0 {
		return fmt.Errorf(
			"%w. invalid max-breakpoints (%d)",
			ErrInvalidArgument,
			conf.MaxBreakpoints)
	}

	if conf.MaxLineRows < 0 {
		return fmt.Errorf(
			"%w. invalid max-line-rows (%d)",
			ErrInvalidArgument,
			conf.MaxLineRows)
	}

	if conf.SourceCacheSize < 0 {
		return fmt.Errorf(
			"%w. invalid source-cache-size (%d)",
			ErrInvalidArgument,
			conf.SourceCacheSize)
	}

	return nil
}

// DefaultPath returns $HOME/.edb/config.yml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w. %v", ErrResource, err)
	}

	return filepath.Join(home, configDir, configFile), nil
}

func Parse(content []byte) (*Config, error) {
	conf := &Config{}
	err := yaml.Unmarshal(content, conf)
	if err != nil {
		return nil, fmt.Errorf(
			"%w. failed to decode config: %v",
			ErrInvalidArgument,
			err)
	}

	conf.setDefaults()

	err = conf.Validate()
	if err != nil {
		return nil, err
	}

	return conf, nil
}

// Load reads the config file at path.  A missing file yields the default
// config.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	} else if err != nil {
		return nil, fmt.Errorf(
			"%w. failed to read config %s: %v",
			ErrResource,
			path,
			err)
	}

	conf, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return conf, nil
}

func (conf *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(conf)
}
