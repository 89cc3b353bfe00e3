package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Backend != "badger" {
		t.Errorf("Store.Backend = %v, want badger", cfg.Store.Backend)
	}
	if cfg.Store.DBName != "coda" {
		t.Errorf("Store.DBName = %v, want coda", cfg.Store.DBName)
	}
	if !cfg.Store.Write {
		t.Error("Store.Write should default to true")
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 30s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoad_FileEnvAndOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "coda.yaml")
	content := `
store:
  backend: redis
  host: db.internal
  port: 6380
  dbname: tags
logger:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CODA_STORE_DBNAME", "fromenv")

	cfg, err := Load(path, map[string]any{"store.write": false})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Backend != "redis" {
		t.Errorf("Store.Backend = %v, want redis", cfg.Store.Backend)
	}
	if cfg.Store.Addr() != "db.internal:6380" {
		t.Errorf("Store.Addr() = %v, want db.internal:6380", cfg.Store.Addr())
	}
	if cfg.Store.DBName != "fromenv" {
		t.Errorf("Store.DBName = %v, want fromenv", cfg.Store.DBName)
	}
	if cfg.Store.Write {
		t.Error("override should disable writes")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %v, want debug", cfg.Logger.Level)
	}
}

func TestLoad_UserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	content := "store:\n  backend: memory\n"
	if err := os.WriteFile(filepath.Join(home, ".coda.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %v, want memory", cfg.Store.Backend)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/coda.yaml", nil); err == nil {
		t.Error("Load should fail for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Store.Backend = "cassandra" }, "Backend"},
		{"missing dbname", func(c *Config) { c.Store.DBName = "" }, "DBName"},
		{"badger without data dir", func(c *Config) { c.Store.DataDir = "" }, "DataDir"},
		{"memory without data dir", func(c *Config) {
			c.Store.Backend = "memory"
			c.Store.DataDir = ""
		}, ""},
		{"redis without port", func(c *Config) {
			c.Store.Backend = "redis"
			c.Store.Port = 0
		}, "store.port"},
		{"mongo without port", func(c *Config) {
			c.Store.Backend = "mongo"
			c.Store.Port = 0
		}, "store.port"},
		{"mongo with uri", func(c *Config) {
			c.Store.Backend = "mongo"
			c.Store.Port = 0
			c.Store.URI = "mongodb://db.internal:27017"
		}, ""},
		{"bad log level", func(c *Config) { c.Logger.Level = "trace" }, "Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestStoreConfig_MongoURI(t *testing.T) {
	cfg := StoreConfig{Host: "db.internal", Port: 27017}
	if got := cfg.MongoURI(); got != "mongodb://db.internal:27017" {
		t.Errorf("MongoURI() = %v, want mongodb://db.internal:27017", got)
	}
	cfg.URI = "mongodb+srv://cluster.example.net"
	if got := cfg.MongoURI(); got != cfg.URI {
		t.Errorf("MongoURI() = %v, want %v", got, cfg.URI)
	}
}

func TestStoreConfig_Options(t *testing.T) {
	opts := DefaultConfig().Store.Options()
	for _, key := range []string{"host", "port", "write", "dbname"} {
		if _, ok := opts[key]; !ok {
			t.Errorf("Options() missing %q", key)
		}
	}
}
