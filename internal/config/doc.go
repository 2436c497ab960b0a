// Package config loads the server configuration from a YAML file.
//
// ${VAR} references are expanded from the environment before parsing. Missing
// optional fields get the defaults in defaults.go, then Validate checks the
// result. The limits section maps onto beepit.Limits and can be reloaded at
// runtime.
package config
