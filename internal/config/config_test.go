package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := writeFile(t, `
tablebase_base_url: http://file.example
tablebase_cache_size: 42
opponent_delay: 250ms
listen_addr: ":9000"
`)
	t.Setenv("TABLEBASE_BASE_URL", "http://env.example")
	t.Setenv("OPPONENT_DELAY_MS", "0")
	t.Setenv("TABLEBASE_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TablebaseBaseURL != "http://env.example" {
		t.Fatalf("base url = %q, env must win", cfg.TablebaseBaseURL)
	}
	if cfg.TablebaseCacheSize != 42 || cfg.ListenAddr != ":9000" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.OpponentDelay != 0 || cfg.TablebaseTimeout != 2*time.Second {
		t.Fatalf("durations = %v %v", cfg.OpponentDelay, cfg.TablebaseTimeout)
	}
	if cfg.TablebaseMaxPieces != 7 || !cfg.RandomFallback {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("missing explicit file accepted")
	}
}

func TestLoadDefaultPathMayBeAbsent(t *testing.T) {
	cfg := Defaults()
	if err := cfg.loadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected not-exist error")
	}
	if !strings.HasSuffix(DefaultPath(), filepath.Join("endgame-trainer", "config.yaml")) {
		t.Fatalf("DefaultPath = %q", DefaultPath())
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"TABLEBASE_CACHE_SIZE":     "-1",
		"TABLEBASE_CACHE_TTL":      "soon",
		"OPPONENT_DELAY_MS":        "fast",
		"OPPONENT_RANDOM_FALLBACK": "maybe",
	}
	for key, val := range cases {
		cfg := Defaults()
		env := map[string]string{key: val}
		if err := cfg.applyEnv(func(k string) string { return env[k] }); err == nil {
			t.Fatalf("%s=%q accepted", key, val)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.TablebaseMaxPieces = 8
	if err := cfg.Validate(); err == nil {
		t.Fatalf("8 pieces accepted")
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestApplyEnvClientSettings(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{
		"TABLEBASE_MOVES":      "40",
		"TABLEBASE_MAX_CONNS":  "4",
		"TABLEBASE_USER_AGENT": "trainer-ci",
	}
	if err := cfg.applyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.TablebaseMoves != 40 || cfg.TablebaseMaxConns != 4 || cfg.TablebaseUserAgent != "trainer-ci" {
		t.Fatalf("client settings = %+v", cfg)
	}
}
