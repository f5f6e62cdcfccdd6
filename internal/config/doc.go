// Package config handles configuration loading for familiar-bridge.
//
// Configuration is loaded from YAML files with ${VAR_NAME} environment
// variable expansion and time.ParseDuration syntax for duration fields.
//
// Sections:
//
//	server:
//	  http_addr: "localhost:8080"
//
//	auth:
//	  jwt_secret: "${BRIDGE_JWT_SECRET}"  # empty selects the unverified decoder
//
//	session:
//	  queue_limit: 100
//	  idle_timeout: "5m"
//	  sweep_interval: "30s"
//	  call_timeout: "15s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Zero-valued fields fall back to the reference defaults above.
package config
