package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "endgame-trainer"

type AppConfig struct {
	TablebaseBaseURL     string        `yaml:"tablebase_base_url"`
	TablebaseMaxPieces   int           `yaml:"tablebase_max_pieces"`
	TablebaseCacheSize   int           `yaml:"tablebase_cache_size"`
	TablebaseCacheTTL    time.Duration `yaml:"tablebase_cache_ttl"`
	TablebaseTimeout     time.Duration `yaml:"tablebase_timeout"`
	TablebaseMaxAttempts int           `yaml:"tablebase_max_attempts"`
	TablebaseMoves       int           `yaml:"tablebase_moves"`
	TablebaseMaxConns    int           `yaml:"tablebase_max_conns"`
	TablebaseUserAgent   string        `yaml:"tablebase_user_agent"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	OpponentDelay    time.Duration `yaml:"opponent_delay"`
	OptimalMoveLimit int           `yaml:"optimal_move_limit"`
	RandomFallback   bool          `yaml:"random_fallback"`

	ListenAddr  string `yaml:"listen_addr"`
	MessagesDir string `yaml:"messages_dir"`
	PlayerID    string `yaml:"player_id"`
}

func Defaults() *AppConfig {
	return &AppConfig{
		TablebaseBaseURL:     "https://tablebase.lichess.ovh",
		TablebaseMaxPieces:   7,
		TablebaseCacheSize:   500,
		TablebaseCacheTTL:    30 * time.Minute,
		TablebaseTimeout:     5 * time.Second,
		TablebaseMaxAttempts: 3,
		TablebaseMoves:       256,
		TablebaseMaxConns:    16,
		TablebaseUserAgent:   appName,
		OpponentDelay:        600 * time.Millisecond,
		OptimalMoveLimit:     3,
		RandomFallback:       true,
		ListenAddr:           ":8080",
		PlayerID:             "local",
	}
}

// DefaultPath is $XDG_CONFIG_HOME/endgame-trainer/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Load layers defaults, the YAML file at path and the environment. An empty
// path means DefaultPath, which may be absent; an explicit path must exist.
func Load(path string) (*AppConfig, error) {
	cfg := Defaults()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if v := get("TABLEBASE_BASE_URL"); v != "" {
		c.TablebaseBaseURL = v
	}
	if v := get("TABLEBASE_USER_AGENT"); v != "" {
		c.TablebaseUserAgent = v
	}
	if v := get("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := get("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := get("TRAINER_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := get("MESSAGES_DIR"); v != "" {
		c.MessagesDir = v
	}
	if v := get("TRAINER_PLAYER_ID"); v != "" {
		c.PlayerID = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TABLEBASE_MAX_PIECES", &c.TablebaseMaxPieces},
		{"TABLEBASE_CACHE_SIZE", &c.TablebaseCacheSize},
		{"TABLEBASE_MAX_ATTEMPTS", &c.TablebaseMaxAttempts},
		{"TABLEBASE_MOVES", &c.TablebaseMoves},
		{"TABLEBASE_MAX_CONNS", &c.TablebaseMaxConns},
		{"OPTIMAL_MOVE_LIMIT", &c.OptimalMoveLimit},
	}
	for _, e := range ints {
		v := get(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", e.key, v)
		}
		*e.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TABLEBASE_CACHE_TTL", &c.TablebaseCacheTTL},
		{"TABLEBASE_TIMEOUT", &c.TablebaseTimeout},
	}
	for _, e := range durations {
		v := get(e.key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = d
	}

	// milliseconds, matching the variable name
	if v := get("OPPONENT_DELAY_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("OPPONENT_DELAY_MS must be a non-negative integer, got %q", v)
		}
		c.OpponentDelay = time.Duration(n) * time.Millisecond
	}
	if v := get("OPPONENT_RANDOM_FALLBACK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OPPONENT_RANDOM_FALLBACK: %w", err)
		}
		c.RandomFallback = b
	}
	return nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.TablebaseBaseURL) == "" {
		return errors.New("tablebase base url is required")
	}
	if c.TablebaseMaxPieces < 2 || c.TablebaseMaxPieces > 7 {
		return fmt.Errorf("tablebase max pieces must be within 2..7, got %d", c.TablebaseMaxPieces)
	}
	if c.TablebaseCacheSize <= 0 {
		return fmt.Errorf("tablebase cache size must be positive, got %d", c.TablebaseCacheSize)
	}
	if c.OpponentDelay < 0 {
		return fmt.Errorf("opponent delay must not be negative")
	}
	return nil
}
