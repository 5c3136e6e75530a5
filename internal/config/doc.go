// Package config handles configuration loading for agentd.
//
// # Overview
//
// Configuration is read from a YAML file, or a TOML file when the path ends
// in .toml. Values missing from the file keep the ones from Default().
// Environment variables in the ${VAR_NAME} form are expanded before parsing.
//
// # Configuration Structure
//
//	logging:
//	  level: "info"       # debug, info, warn, error
//	  format: "text"      # text or json
//
//	database:
//	  driver: "sqlite"    # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "./agentd.db"
//
//	transport:
//	  buffer_size: 64     # per-subscription queue length
//	  send_timeout: "5s"
//
//	dedupe:
//	  enabled: true
//	  ttl: "5m"
//	  max_size: 10000
//
//	agents:
//	  snapshot_every: 100 # 0 disables snapshots
//
//	telemetry:
//	  enabled: true
//	  service_name: "agentd"
//
// # Duration Parsing
//
// Duration fields accept Go duration strings ("500ms", "5s", "1h30m"). The
// raw string is kept in the *Raw field beside the parsed time.Duration.
//
// # Validation
//
// Validate returns the first problem found: unknown database driver, empty
// database path, unknown log level or format, negative sizes, a dedupe
// window without TTL or size, or telemetry without a service name.
package config
