package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rtdb/internal/config"
)

// EnvAuthToken overrides session.auth_token.
const EnvAuthToken = "RTDB_AUTH_TOKEN"

// loadFile decodes path over config.Default. Keys the file format does not know
// are returned for the caller to warn about; -check-config rejects them.
func loadFile(path string) (config.File, []string, error) {
	cfg := config.Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return config.File{}, nil, fmt.Errorf("load rtdbctl config: %w", err)
	}

	if meta.IsDefined("session", "host") {
		cfg.Session.Host = strings.TrimSpace(cfg.Session.Host)
	}
	if meta.IsDefined("session", "auth_token") {
		cfg.Session.AuthToken = strings.TrimSpace(cfg.Session.AuthToken)
	}
	if meta.IsDefined("watch") {
		cfg.Watch = normalizeWatches(cfg.Watch)
	}

	undecoded := make([]string, 0, len(meta.Undecoded()))
	for _, key := range meta.Undecoded() {
		undecoded = append(undecoded, key.String())
	}
	return cfg, undecoded, nil
}

// applyOverrides layers the environment and command line over cfg, then
// validates the result.
func applyOverrides(cfg *config.File, opts options) error {
	if tok := strings.TrimSpace(os.Getenv(EnvAuthToken)); tok != "" {
		cfg.Session.AuthToken = tok
	}
	if host := strings.TrimSpace(opts.host); host != "" {
		cfg.Session.Host = host
	}
	for _, path := range opts.watches {
		cfg.Watch = append(cfg.Watch, config.WatchConfig{Path: path})
	}
	cfg.Watch = normalizeWatches(cfg.Watch)
	if opts.adminAddr != "" {
		cfg.Admin.Enabled = true
		cfg.Admin.Addr = opts.adminAddr
	}
	return cfg.Validate()
}

// normalizeWatches trims paths and drops repeats of the same path and filter.
func normalizeWatches(in []config.WatchConfig) []config.WatchConfig {
	out := make([]config.WatchConfig, 0, len(in))
	seen := make(map[config.WatchConfig]struct{}, len(in))
	for _, w := range in {
		w.Path = strings.TrimSpace(w.Path)
		w.OrderBy = strings.TrimSpace(w.OrderBy)
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
