// Package config loads keystone configuration.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file, and KEYSTONE_* environment variables.
//
// Server settings:
//
//	KEYSTONE_HOST="0.0.0.0"
//	KEYSTONE_PORT="8080"
//	KEYSTONE_HEALTH_PORT="9090"
//	KEYSTONE_SHUTDOWN_TIMEOUT="30s"
//
// Store settings:
//
//	KEYSTONE_STORE_TYPE="postgres"  # memory, postgres
//	KEYSTONE_POSTGRES_URL="postgres://localhost/keystone?sslmode=disable"
//	KEYSTONE_POSTGRES_MAX_CONNS="20"
//
// Resolver cache settings:
//
//	KEYSTONE_RESOLVER_TTL="30s"
//	KEYSTONE_RESOLVER_SIZE="10000"
//	KEYSTONE_REDIS_URL="redis://localhost:6379/0"
//
// Auth settings:
//
//	KEYSTONE_OIDC_ISSUER="https://id.example.com"
//	KEYSTONE_OIDC_CLIENT_ID="keystone"
//	KEYSTONE_HOOK_SECRET="..."
//
// The YAML file mirrors the same structure:
//
//	server:
//	  port: "8080"
//	database:
//	  type: postgres
//	  postgres_url: postgres://localhost/keystone
//	observability:
//	  log_level: debug
//
// Watch reloads the file on change; the servers use it to hot-swap the log
// level without a restart.
package config
