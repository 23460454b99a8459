// Package config loads docgraph settings from defaults, an optional config
// file in the data directory, DOCGRAPH_* environment variables and CLI flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g.
// DOCGRAPH_ENGINE_CYCLE_CHECK_DEPTH.
const EnvPrefix = "DOCGRAPH"

// DefaultDataDir is used when neither a flag nor the environment names one.
const DefaultDataDir = ".docgraph"

// Config is the resolved configuration.
type Config struct {
	DataDir   string
	DBPath    string
	DocsDir   string
	RelsDir   string
	TypesFile string

	Engine engine.Config
	Log    logging.Options

	DashboardPort  int
	DaemonDebounce time.Duration

	// File is the config file that was read, or "" if none was found.
	File string
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()

	def := engine.DefaultConfig()
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("db.path", "")
	v.SetDefault("docs.dir", "")
	v.SetDefault("rels.dir", "")
	v.SetDefault("types.file", "")
	v.SetDefault("engine.permissive_unknown_types", def.PermissiveUnknownTypes)
	v.SetDefault("engine.cycle_check_depth", def.CycleCheckDepth)
	v.SetDefault("engine.ancestor_depth", def.AncestorDepth)
	v.SetDefault("engine.descendant_depth", def.DescendantDepth)
	v.SetDefault("engine.max_chars_per_parent", def.MaxCharsPerParent)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("daemon.debounce", 100*time.Millisecond)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the named flags to their config keys. Flags that were not
// set on the command line leave lower layers in effect.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := flags.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// Load reads the first config file found in the data directory
// (config.toml, config.yaml, config.yml) and resolves the result.
func Load(v *viper.Viper) (*Config, error) {
	dataDir := v.GetString("data_dir")
	var file string
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err == nil {
			file = path
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	cfg, err := resolve(v)
	if err != nil {
		return nil, err
	}
	cfg.File = file
	return cfg, nil
}

func resolve(v *viper.Viper) (*Config, error) {
	dataDir := v.GetString("data_dir")
	cfg := &Config{
		DataDir:   dataDir,
		DBPath:    orJoin(v.GetString("db.path"), dataDir, "docgraph.db"),
		DocsDir:   orJoin(v.GetString("docs.dir"), dataDir, "docs"),
		RelsDir:   orJoin(v.GetString("rels.dir"), dataDir, "rels"),
		TypesFile: v.GetString("types.file"),
		Engine: engine.Config{
			PermissiveUnknownTypes: v.GetBool("engine.permissive_unknown_types"),
			CycleCheckDepth:        v.GetInt("engine.cycle_check_depth"),
			AncestorDepth:          v.GetInt("engine.ancestor_depth"),
			DescendantDepth:        v.GetInt("engine.descendant_depth"),
			MaxCharsPerParent:      v.GetInt("engine.max_chars_per_parent"),
		},
		Log: logging.Options{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Compress:   v.GetBool("log.compress"),
		},
		DashboardPort:  v.GetInt("dashboard.port"),
		DaemonDebounce: v.GetDuration("daemon.debounce"),
	}

	if cfg.Engine.CycleCheckDepth <= 0 {
		return nil, fmt.Errorf("engine.cycle_check_depth must be positive, got %d", cfg.Engine.CycleCheckDepth)
	}
	if cfg.DashboardPort <= 0 || cfg.DashboardPort > 65535 {
		return nil, fmt.Errorf("dashboard.port out of range: %d", cfg.DashboardPort)
	}
	return cfg, nil
}

func orJoin(value, dir, name string) string {
	if value != "" {
		return value
	}
	return filepath.Join(dir, name)
}
