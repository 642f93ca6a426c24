// Package config loads buttbee settings from a YAML or TOML file.
//
// Values are resolved in three layers: built-in defaults, the file, then
// BUTTBEE_SECTION_KEY environment variables. The result is validated
// before it is returned.
package config
