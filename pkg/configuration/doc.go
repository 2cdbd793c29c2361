// Package configuration provides loading facilities for watchdog's YAML and
// TOML configuration files, which describe observer settings and the watches
// to schedule.
package configuration
