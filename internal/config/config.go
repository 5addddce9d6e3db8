package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

type StorageConfig struct {
	// Backend 选择持久化后端：sqlite 或 redis
	// Backend selects the persistence backend: sqlite or redis
	Backend string `json:"backend"`
	// DBPath 为空时使用 <root>/.ledger/ledger.db；相对路径相对于被追踪根目录
	// DBPath defaults to <root>/.ledger/ledger.db; relative paths are taken from the tracked root
	DBPath string      `json:"db_path"`
	Redis  RedisConfig `json:"redis"`
}

type LedgerConfig struct {
	DefaultAgentID string `json:"default_agent_id"`
}

type DiffConfig struct {
	MaxLines int `json:"max_lines"`
	MaxBytes int `json:"max_bytes"`
}

type WatchConfig struct {
	Ignore     []string `json:"ignore"`
	DebounceMS int      `json:"debounce_ms"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type Config struct {
	Storage StorageConfig `json:"storage"`
	Ledger  LedgerConfig  `json:"ledger"`
	Diff    DiffConfig    `json:"diff"`
	Watch   WatchConfig   `json:"watch"`
	Log     LogConfig     `json:"log"`
}

type fileWatchConfig struct {
	Ignore     *[]string `json:"ignore"`
	DebounceMS *int      `json:"debounce_ms"`
}

type fileConfig struct {
	Storage *StorageConfig   `json:"storage"`
	Ledger  *LedgerConfig    `json:"ledger"`
	Diff    *DiffConfig      `json:"diff"`
	Watch   *fileWatchConfig `json:"watch"`
	Log     *LogConfig       `json:"log"`
}

func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "ledger:",
			},
		},
		Ledger: LedgerConfig{
			DefaultAgentID: DefaultAgentID,
		},
		Diff: DiffConfig{
			MaxLines: DefaultDiffMaxLines,
			MaxBytes: DefaultDiffMaxBytes,
		},
		Watch: WatchConfig{
			Ignore:     []string{".git", ".ledger", "node_modules", "*.swp", "*~"},
			DebounceMS: DefaultWatchDebounceMS,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load 按优先级合并配置：默认值 → 全局 → 项目/显式 → 环境变量
// Load merges configuration: defaults → global → project or explicit file → environment
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("LEDGER_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".ledger", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"ledger.config.json",
		".ledger/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Storage != nil {
		cfg.Storage = mergeStorage(cfg.Storage, *fc.Storage)
	}
	if fc.Ledger != nil && strings.TrimSpace(fc.Ledger.DefaultAgentID) != "" {
		cfg.Ledger.DefaultAgentID = fc.Ledger.DefaultAgentID
	}
	if fc.Diff != nil {
		if fc.Diff.MaxLines > 0 {
			cfg.Diff.MaxLines = fc.Diff.MaxLines
		}
		if fc.Diff.MaxBytes > 0 {
			cfg.Diff.MaxBytes = fc.Diff.MaxBytes
		}
	}
	if fc.Watch != nil {
		// ignore 列表整体替换，允许显式置空
		if fc.Watch.Ignore != nil {
			cfg.Watch.Ignore = append([]string(nil), (*fc.Watch.Ignore)...)
		}
		if fc.Watch.DebounceMS != nil {
			cfg.Watch.DebounceMS = *fc.Watch.DebounceMS
		}
	}
	if fc.Log != nil {
		if strings.TrimSpace(fc.Log.Level) != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if strings.TrimSpace(fc.Log.Format) != "" {
			cfg.Log.Format = fc.Log.Format
		}
	}
}

func mergeStorage(base StorageConfig, override StorageConfig) StorageConfig {
	if strings.TrimSpace(override.Backend) != "" {
		base.Backend = override.Backend
	}
	if strings.TrimSpace(override.DBPath) != "" {
		base.DBPath = override.DBPath
	}
	if strings.TrimSpace(override.Redis.Addr) != "" {
		base.Redis.Addr = override.Redis.Addr
	}
	if override.Redis.Password != "" {
		base.Redis.Password = override.Redis.Password
	}
	if override.Redis.DB > 0 {
		base.Redis.DB = override.Redis.DB
	}
	if strings.TrimSpace(override.Redis.Prefix) != "" {
		base.Redis.Prefix = override.Redis.Prefix
	}
	return base
}

func normalize(cfg *Config) error {
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	switch cfg.Storage.Backend {
	case "":
		cfg.Storage.Backend = BackendSQLite
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Redis.DB < 0 {
		return fmt.Errorf("invalid redis db %d", cfg.Storage.Redis.DB)
	}

	// db_path 只展开 ~，相对路径保留给会话根目录解析
	dbPath := strings.TrimSpace(cfg.Storage.DBPath)
	if strings.HasPrefix(dbPath, "~") {
		expanded, err := expandPath(dbPath)
		if err != nil {
			return err
		}
		dbPath = expanded
	}
	cfg.Storage.DBPath = dbPath

	cfg.Ledger.DefaultAgentID = strings.TrimSpace(cfg.Ledger.DefaultAgentID)
	if cfg.Ledger.DefaultAgentID == "" {
		cfg.Ledger.DefaultAgentID = DefaultAgentID
	}
	if cfg.Diff.MaxLines <= 0 {
		cfg.Diff.MaxLines = DefaultDiffMaxLines
	}
	if cfg.Diff.MaxBytes <= 0 {
		cfg.Diff.MaxBytes = DefaultDiffMaxBytes
	}
	if cfg.Watch.DebounceMS < 0 {
		cfg.Watch.DebounceMS = DefaultWatchDebounceMS
	}
	cfg.Watch.Ignore = normalizePatterns(cfg.Watch.Ignore)

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Log.Format)
	}
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("LEDGER_DB_PATH")); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_BACKEND")); v != "" {
		cfg.Storage.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_REDIS_ADDR")); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("LEDGER_REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid LEDGER_REDIS_DB: %q", v)
		}
		cfg.Storage.Redis.DB = n
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_AGENT_ID")); v != "" {
		cfg.Ledger.DefaultAgentID = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_LOG_FORMAT")); v != "" {
		cfg.Log.Format = v
	}

	return cfg, normalize(&cfg)
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	seen := map[string]struct{}{}
	for _, p := range patterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
