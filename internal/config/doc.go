// Package config handles configuration loading for parley-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/gateway.yaml
//  3. ~/.config/parley/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  api_key: "${PARLEY_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":8080"   # Inbound turn endpoint
//
// Agent backend:
//
//	backend:
//	  endpoint: "https://foundry.example.com/api"
//	  agent_name: "helpdesk-agent"
//	  api_key: "${PARLEY_API_KEY}"
//
// Database:
//
//	database:
//	  path: "/var/lib/parley/gateway.db"
//
// Dialog behavior:
//
//	dialog:
//	  suppressed_action_ids:
//	    - "router-agent-node"
//
// Redelivery suppression:
//
//	dedupe:
//	  ttl: "5m"
//	  max_size: 10000
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() requires backend.endpoint, backend.agent_name, and database.path;
// everything else has a default.
package config
