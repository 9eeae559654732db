package config

import (
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/ngld/knossos/packages/pio-hooks/pkg/buildenv"
)

// DefaultFile is the config file looked up in the working directory
const DefaultFile = "pio-hooks.toml"

// Config describes all configuration options
type Config struct {
	ProjectDir string   `default:"." env:"PROJECT_DIR" toml:"project_dir" usage:"PlatformIO project directory"`
	LibDepsDir string   `env:"PROJECT_LIBDEPS_DIR" toml:"libdeps_dir" usage:"Library dependencies directory (defaults to <project>/.pio/libdeps)"`
	Env        string   `env:"PIOENV" toml:"env" usage:"Name of the build target"`
	Hooks      []string `default:"exclude-asm" toml:"hooks" usage:"Hooks applied by flags, src-filter and sources when none are passed"`
	Log        struct {
		Level string `default:"info" toml:"level"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Flags are handled by cobra so aconfig only reads defaults, the config files and the environment.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = []string{DefaultFile}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load is a shortcut for Loader + Load + Validate
func Load(files ...string) (*Config, error) {
	cfg, loader := Loader(files...)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values. Hook names are checked when the hooks run.
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.ProjectDir == "" {
		return eris.New("project_dir must not be empty")
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// LibDeps returns the configured libdeps directory or PlatformIO's default location
func (cfg *Config) LibDeps() string {
	if cfg.LibDepsDir != "" {
		return cfg.LibDepsDir
	}

	return filepath.Join(cfg.ProjectDir, ".pio", "libdeps")
}

// BuildEnv creates an empty build environment for the configured target
func (cfg *Config) BuildEnv() (*buildenv.Env, error) {
	projectDir, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", cfg.ProjectDir)
	}

	libDeps, err := filepath.Abs(cfg.LibDeps())
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", cfg.LibDeps())
	}

	return buildenv.New(projectDir, libDeps, cfg.Env), nil
}
