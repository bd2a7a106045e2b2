package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" usage:"Minimum log level (debug, info, warn, error, fatal)"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Script    string `usage:"Plan script to run instead of the built-in Arch setup"`
	StateFile string `usage:"File that records which steps completed"`
	WorkDir   string `default:"." usage:"Directory steps run in"`
	AssumeYes bool   `default:"false" usage:"Answer yes to all confirmation prompts"`
	Debug     bool   `default:"false" usage:"Dump every log event and include stack traces in errors"`

	Connection struct {
		URL     string        `default:"https://aur.archlinux.org" usage:"URL used to verify network access"`
		Timeout time.Duration `default:"3s" usage:"How long to wait for the connection check"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// DefaultFiles returns the config files that are looked for, the first one that exists is used
func DefaultFiles() []string {
	files := []string{}

	configDir, err := os.UserConfigDir()
	if err == nil {
		files = append(files, filepath.Join(configDir, "ass", "config.toml"))
	}

	return append(files, "/etc/ass/config.toml")
}

// DefaultStateFile returns $XDG_STATE_HOME/ass/stamps.json
func DefaultStateFile() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "ass", "stamps.json")
		}
		stateHome = filepath.Join(home, ".local", "state")
	}

	return filepath.Join(stateHome, "ass", "stamps.json")
}

// Loader initializes an empty config object and returns a new Loader for this object. Flags are
// left to the CLI.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags:        true,
		AllowUnknownEnvs: true,
		EnvPrefix:        "ASS",
		Files:            files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the config file and environment and validates the result. If file is empty, the
// first of DefaultFiles() that exists is used.
func Load(file string) (*Config, error) {
	files := []string{}
	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, eris.Wrapf(err, "Failed to read config file %s", file)
		}
		files = append(files, file)
	} else {
		for _, candidate := range DefaultFiles() {
			if _, err := os.Stat(candidate); err == nil {
				files = append(files, candidate)
				break
			}
		}
	}

	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "Failed to load config")
	}

	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Connection.Timeout <= 0 {
		return eris.Errorf(`Invalid value for connection.timeout: %s (must be positive)`, cfg.Connection.Timeout)
	}

	parsed, err := url.Parse(cfg.Connection.URL)
	if err != nil {
		return eris.Wrapf(err, `Invalid value for connection.url`)
	}

	switch parsed.Scheme {
	case "http", "https":
		// valid
	default:
		return eris.Errorf(`Invalid value for connection.url: %s (must be an http or https URL)`, cfg.Connection.URL)
	}

	if cfg.WorkDir == "" {
		return eris.New(`Invalid value for workdir: must not be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
