package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "WATCHBRIDGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "WATCHBRIDGE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WATCHBRIDGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "bridge.variant", typ: kString, env: "WATCHBRIDGE_BRIDGE_VARIANT",
		apply:   func(cfg *Config, v any) { cfg.Bridge.Variant = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.Variant },
	},
	{
		key: "bridge.page_url", typ: kString, env: "WATCHBRIDGE_BRIDGE_PAGE_URL",
		apply:   func(cfg *Config, v any) { cfg.Bridge.PageURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.PageURL },
	},
	{
		key: "bridge.variants_file", typ: kString, env: "WATCHBRIDGE_BRIDGE_VARIANTS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Bridge.VariantsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.VariantsFile },
	},
	{
		key: "bridge.flow_timeout", typ: kString, env: "WATCHBRIDGE_BRIDGE_FLOW_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Bridge.FlowTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.FlowTimeout },
	},
	{
		key: "bridge.opener", typ: kString, env: "WATCHBRIDGE_BRIDGE_OPENER",
		apply:   func(cfg *Config, v any) { cfg.Bridge.Opener = v.(string) },
		extract: func(cfg Config) any { return cfg.Bridge.Opener },
	},
	{
		key: "device.ack_timeout", typ: kString, env: "WATCHBRIDGE_DEVICE_ACK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Device.AckTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Device.AckTimeout },
	},
	{
		key: "log.level", typ: kString, env: "WATCHBRIDGE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "WATCHBRIDGE_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "log.max_size_mb", typ: kInt, env: "WATCHBRIDGE_LOG_MAX_SIZE_MB",
		apply:   func(cfg *Config, v any) { cfg.Log.MaxSizeMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Log.MaxSizeMB },
	},
	{
		key: "log.max_backups", typ: kInt, env: "WATCHBRIDGE_LOG_MAX_BACKUPS",
		apply:   func(cfg *Config, v any) { cfg.Log.MaxBackups = v.(int) },
		extract: func(cfg Config) any { return cfg.Log.MaxBackups },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
