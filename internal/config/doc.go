// Package config loads, normalizes, and validates Gazette configuration.
//
// Configuration is TOML with a default search order of
// ~/.config/gazette/config.toml followed by ./gazette.toml. Load applies
// defaults, expands ~ in paths, fills secrets from the environment, and
// validates cross-field constraints before anything else starts up.
package config
