// Package config loads the load balancer configuration from a YAML file and
// environment variables, validates it and watches the file for changes.
//
// Keys map onto environment variables by upper-casing and replacing dots
// with underscores, so logging.level can be overridden with LOGGING_LEVEL.
package config
