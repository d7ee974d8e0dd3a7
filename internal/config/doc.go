// Package config loads, normalizes, and validates replate configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REPLATE_OUTPUT_DIR. The Config type centralizes every knob the CLI needs,
// letting the default output directory, ledger location, and log routing be
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
