// Package config reads the Scene Plus TOML file and derives every path the
// daemon and CLI use from it.
//
// Load fills gaps from Default, expands "~", applies HASS_URL, HASS_TOKEN and
// the SCENEPLUS_* environment overrides, then validates. Derived locations
// (scenes document, socket, daemon lock, log file) come from Config methods
// rather than string joins at call sites.
package config
