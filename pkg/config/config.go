package config

import (
	"os"
	"path/filepath"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DefaultFile is looked up in the workspace root.
const DefaultFile = "xverify.toml"

// Config describes all configuration options
type Config struct {
	// Debug enables stack traces in error output. It maps to XVERIFY_DEBUG.
	Debug bool `default:"false" usage:"Print stack traces and raw log events"`
	Log   struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Workspace string `default:"verify.star" usage:"Workspace declaration, relative to the project root"`
	Parallel  int    `default:"1" usage:"Number of jobs to run at the same time"`
	Home      string `usage:"Directory that replaces ~ and $HOME in env script paths"`
	History   struct {
		Path     string `usage:"Location of the history database (default: target/xverify/history.db)"`
		Disabled bool   `default:"false"`
	}
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Files that don't exist are skipped. Command line flags are handled by cobra.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	existing := make([]string, 0, len(files))
	for _, item := range files {
		info, err := os.Stat(item)
		if err == nil && !info.IsDir() {
			existing = append(existing, item)
		}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "XVERIFY",
		Files:     existing,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration for the workspace at root.
func Load(root string) (*Config, error) {
	cfg, loader := Loader(filepath.Join(root, DefaultFile))
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "Failed to load config")
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

	if cfg.Parallel < 1 {
		return eris.Errorf(`Invalid value for parallel: %d (must be at least 1)`, cfg.Parallel)
	}

	if cfg.Workspace == "" {
		return eris.New(`Invalid value for workspace: must not be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// HistoryPath returns the location of the history database for the workspace at root.
func (cfg *Config) HistoryPath(root string) string {
	if cfg.History.Path == "" {
		return filepath.Join(root, "target", "xverify", "history.db")
	}

	if filepath.IsAbs(cfg.History.Path) {
		return cfg.History.Path
	}
	return filepath.Join(root, cfg.History.Path)
}

// WorkspacePath returns the location of the workspace declaration.
func (cfg *Config) WorkspacePath(root string) string {
	if filepath.IsAbs(cfg.Workspace) {
		return cfg.Workspace
	}
	return filepath.Join(root, cfg.Workspace)
}
