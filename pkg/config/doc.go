// Package config handles loading the owners-notify YAML configuration,
// filling defaults, validating it and resolving secrets such as the SMTP
// password from the OS keyring.
package config
