package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EXTRACTD_"

// envAliases maps flat, documented variable names to their dotted config
// paths. Anything not listed falls back to the SECTION_FIELD convention.
var envAliases = map[string]string{
	"SYNC_MAX_BYTES":      "extraction.sync_max_bytes",
	"MAX_RETRIES":         "extraction.max_retries",
	"POLL_CEILING":        "extraction.poll_ceiling",
	"ARCHIVE_CONCURRENCY": "extraction.archive_concurrency",
	"MIN_CONFIDENCE":      "extraction.min_confidence",
	"REQUEST_TIMEOUT":     "parse_api.request_timeout",
	"CONNECT_TIMEOUT":     "parse_api.connect_timeout",
	"DATABASE_URL":        "database.url",
	"REDIS_ADDR":          "redis.addr",
	"WATCH_DIR":           "ingest.watch_dir",
}

// Load reads configuration from an optional YAML file, then overrides with
// EXTRACTD_* environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (EXTRACTD_PARSE_API_BASE_URL, EXTRACTD_MAX_RETRIES, ...)
//  2. YAML config file (configPath, skipped when empty or missing)
//  3. Hardcoded defaults
//
// Variable names map to dotted paths by section: EXTRACTD_SERVER_HTTP_ADDR
// -> server.http_addr, EXTRACTD_PARSE_API_BASE_URL -> parse_api.base_url.
// A handful of flat names (EXTRACTD_MAX_RETRIES, EXTRACTD_POLL_CEILING, ...)
// are aliased to their extraction.* paths.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnv), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// transformEnv maps a stripped variable name to its dotted config path.
func transformEnv(s string) string {
	name := strings.TrimPrefix(s, envPrefix)

	if path, ok := envAliases[name]; ok {
		return path
	}

	// parse_api is the only two-word section; peel it off before the
	// generic section_field split.
	if rest, ok := strings.CutPrefix(name, "PARSE_API_"); ok {
		return "parse_api." + strings.ToLower(rest)
	}

	lower := strings.ToLower(name)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}
