package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	v := New()
	v.Set("data_dir", dir)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	if cfg.DBPath != filepath.Join(dir, "docgraph.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.DocsDir != filepath.Join(dir, "docs") || cfg.RelsDir != filepath.Join(dir, "rels") {
		t.Errorf("DocsDir/RelsDir = %q, %q", cfg.DocsDir, cfg.RelsDir)
	}
	if !cfg.Engine.PermissiveUnknownTypes || cfg.Engine.CycleCheckDepth != 20 ||
		cfg.Engine.AncestorDepth != 10 || cfg.Engine.DescendantDepth != 20 ||
		cfg.Engine.MaxCharsPerParent != 2000 {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.DashboardPort != 8080 || cfg.DaemonDebounce != 100*time.Millisecond {
		t.Errorf("DashboardPort = %d, DaemonDebounce = %v", cfg.DashboardPort, cfg.DaemonDebounce)
	}
}

func TestLoad_FileEnvFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	toml := `
[engine]
permissive_unknown_types = false
cycle_check_depth = 30
ancestor_depth = 5

[log]
level = "debug"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCGRAPH_ENGINE_ANCESTOR_DEPTH", "7")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("cycle-depth", 0, "")
	if err := flags.Parse([]string{"--cycle-depth=40"}); err != nil {
		t.Fatal(err)
	}

	v := New()
	v.Set("data_dir", dir)
	if err := BindFlags(v, flags, map[string]string{"cycle-depth": "engine.cycle_check_depth"}); err != nil {
		t.Fatalf("BindFlags() failed: %v", err)
	}

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.File != filepath.Join(dir, "config.toml") {
		t.Errorf("File = %q", cfg.File)
	}
	if cfg.Engine.PermissiveUnknownTypes {
		t.Error("file value for permissive_unknown_types ignored")
	}
	if cfg.Engine.AncestorDepth != 7 {
		t.Errorf("AncestorDepth = %d, want env override 7", cfg.Engine.AncestorDepth)
	}
	if cfg.Engine.CycleCheckDepth != 40 {
		t.Errorf("CycleCheckDepth = %d, want flag override 40", cfg.Engine.CycleCheckDepth)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	yaml := "db:\n  path: /tmp/custom.db\ndashboard:\n  port: 9090\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	v := New()
	v.Set("data_dir", dir)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBPath != "/tmp/custom.db" || cfg.DashboardPort != 9090 {
		t.Errorf("DBPath = %q, DashboardPort = %d", cfg.DBPath, cfg.DashboardPort)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"zero cycle depth", "engine.cycle_check_depth", 0},
		{"port out of range", "dashboard.port", 70000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set("data_dir", t.TempDir())
			v.Set(tt.key, tt.val)
			if _, err := Load(v); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestBindFlags_Unknown(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(New(), flags, map[string]string{"nope": "x"}); err == nil {
		t.Error("BindFlags() accepted unknown flag")
	}
}
