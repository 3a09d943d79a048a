// Package config holds finwatch settings: defaults, the YAML configuration
// file with its company seed list, environment overrides for API keys and
// the XDG directories used for the database.
package config
