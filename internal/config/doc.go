// Package config provides configuration management for the copilot daemon,
// loading a JSON file and filling unset fields with production defaults.
package config
