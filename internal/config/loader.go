package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "ticketocr"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "TICKETOCR"
)

// mapKeys are defaults registered as a whole map instead of per entry, so a
// configured table replaces the entries it names without dropping the rest.
var mapKeys = map[string]bool{
	"fusion.preferences": true,
}

// Loader reads a Config from defaults, an optional YAML file and TICKETOCR_
// environment variables, in increasing order of precedence. Flags bound to
// the viper instance beat all three.
type Loader struct {
	v *viper.Viper
}

// NewLoaderWithViper creates a loader backed by the given viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load searches the standard paths for a config file and validates the
// result. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithFile loads configFile, or searches the standard paths when it is
// empty, and validates the result.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without validation, for
// commands that display a broken configuration.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if err := l.setDefaults(); err != nil {
		return nil, err
	}
	l.v.SetEnvPrefix(EnvPrefix)
	// TICKETOCR_SCHEDULER_WORKERS maps to scheduler.workers
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	if configFile != "" {
		if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		for _, p := range GetConfigSearchPaths() {
			l.v.AddConfigPath(p)
		}
		var notFound viper.ConfigFileNotFoundError
		if err := l.v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &cfg, nil
}

// setDefaults registers every key of DefaultConfig. Registering each leaf is
// what lets AutomaticEnv resolve environment overrides for keys that no file
// mentions.
func (l *Loader) setDefaults() error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	l.setTree("", tree)
	return nil
}

func (l *Loader) setTree(prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok && !mapKeys[key] {
			l.setTree(key, sub)
			continue
		}
		l.v.SetDefault(key, val)
	}
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Settings returns every resolved key, for debugging.
func (l *Loader) Settings() map[string]interface{} {
	return l.v.AllSettings()
}

// GenerateDefaultConfigFile writes the defaults as YAML to filename, or to
// ticketocr.yaml when filename is empty.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	if err := loader.setDefaults(); err != nil {
		return err
	}
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the directories searched for ticketocr.yaml,
// most specific first.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if homeErr == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}
