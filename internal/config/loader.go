package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "checkercal"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "CHECKERCAL"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the root command take part in resolution.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on v.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first checkercal.* file found on the search paths,
// applies environment overrides and defaults, and validates the result.
// A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty
// path falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}
	l.setupEnvironmentVariables()
	if err := l.setDefaults(); err != nil {
		return nil, err
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// CHECKERCAL_BOARD_ROWS -> board.rows
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key of DefaultConfig. Viper only resolves
// environment variables for keys it knows about.
func (l *Loader) setDefaults() error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	for key, value := range flatten("", tree) {
		l.v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// GetResolvedConfig returns the current resolved settings for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfig writes cfg as YAML.
func WriteConfig(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// GenerateDefaultConfigFile writes the default configuration to filename
// (checkercal.yaml when empty). Existing files are not overwritten.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G302: config files are world readable
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := WriteConfig(f, &cfg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}

// PrintConfigInfo writes where configuration was loaded from.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
