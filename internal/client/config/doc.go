// Package config loads runtime configuration for the sessionkeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string     address:port of the backend gRPC endpoint
//	-db string    local session database file
//	-t duration   per-request timeout
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "localhost:50051",
//	  "session_db_path": "/home/me/.sessionkeeper.db",
//	  "request_timeout": "5s"
//	}
package config
