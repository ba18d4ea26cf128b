package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// OCRLanguages are the tesseract languages tried first (full capability).
	OCRLanguages []string `json:"ocr_languages,omitempty"`

	// OCRFallbackLanguages are tried when the full language set fails to start.
	// The worker then runs in degraded mode.
	OCRFallbackLanguages []string `json:"ocr_fallback_languages,omitempty"`

	// TesseractPath is the tesseract binary name or absolute path.
	TesseractPath string `json:"tesseract_path,omitempty"`

	// OCRCacheSize is the number of recent recognition results kept in memory.
	OCRCacheSize int `json:"ocr_cache_size,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "scrap", "category", "ocr".
	DisabledTypes []string `json:"disabled_types,omitempty"`

	// AllowedPaths are extra directories that export and import may use
	// besides ~/.scrapflow/exports. Only absolute paths are honored.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths lifts the directory restriction on export and import.
	// Symlinks are still rejected.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// WebBind and WebPort are the defaults for the ui command.
	WebBind string `json:"web_bind,omitempty"`
	WebPort int    `json:"web_port,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OCRLanguages:         []string{"eng", "kor"},
		OCRFallbackLanguages: []string{"eng"},
		TesseractPath:        "tesseract",
		OCRCacheSize:         10,
		LogLevel:             "info",
		WebBind:              "127.0.0.1",
		WebPort:              8765,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.scrapflow.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars and language lists (order matters there);
// tool and type lists are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.OCRLanguages = cleanStringSlice(overlay.OCRLanguages)
	if result.OCRLanguages == nil {
		result.OCRLanguages = cleanStringSlice(base.OCRLanguages)
	}

	result.OCRFallbackLanguages = cleanStringSlice(overlay.OCRFallbackLanguages)
	if result.OCRFallbackLanguages == nil {
		result.OCRFallbackLanguages = cleanStringSlice(base.OCRFallbackLanguages)
	}

	result.TesseractPath = firstNonEmpty(overlay.TesseractPath, base.TesseractPath)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)
	result.WebBind = firstNonEmpty(overlay.WebBind, base.WebBind)

	result.OCRCacheSize = firstNonZero(overlay.OCRCacheSize, base.OCRCacheSize)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.WebPort = firstNonZero(overlay.WebPort, base.WebPort)

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	return result
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func firstNonEmpty(a, b string) string {
	if s := strings.TrimSpace(a); s != "" {
		return s
	}
	return strings.TrimSpace(b)
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// cleanStringSlice trims entries and drops blanks, keeping order and duplicates out.
func cleanStringSlice(s []string) []string {
	return mergeStringSlice(s, nil)
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
