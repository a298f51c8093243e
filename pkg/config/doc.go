// Package config loads the sign-in service configuration.
//
// Values start from Default, are overlaid by the YAML file named in
// AUTOHUB_CONFIG_FILE (if set) and finally by environment variables.
//
// Server settings:
//
//	AUTOHUB_HOST="0.0.0.0"
//	AUTOHUB_PORT="8080"
//	AUTOHUB_HEALTH_PORT="9090"
//	AUTOHUB_READ_TIMEOUT="15s"
//	AUTOHUB_WRITE_TIMEOUT="60s"
//
// Identity settings:
//
//	AUTOHUB_FIREBASE_API_KEY="AIza..."      # required
//	AUTOHUB_FIREBASE_PROJECT_ID="autohub-ai"
//	AUTOHUB_FIREBASE_VERIFY_ID_TOKENS="true"
//	AUTOHUB_GITHUB_CLIENT_ID="Iv1.abc"
//	AUTOHUB_GITHUB_CLIENT_SECRET="..."
//	AUTOHUB_GITHUB_REDIRECT_URL="https://autohub.example.com/login/github/callback"
//
// Screen settings:
//
//	AUTOHUB_SUCCESS_URL="/"
//	AUTOHUB_COOKIE_SECURE="true"
//	AUTOHUB_DEVICE_TTL="24h"
//	AUTOHUB_POPUP_TIMEOUT="10m"
//	AUTOHUB_TEMPLATE_DIR="/etc/autohub/templates"
//
// Key-value store settings:
//
//	AUTOHUB_STORE_TYPE="redis"  # memory, redis, postgres, sqlite
//	AUTOHUB_REDIS_URL="redis://localhost:6379/0"
//	AUTOHUB_POSTGRES_URL="postgres://localhost/autohub"
//	AUTOHUB_SQLITE_PATH="/var/lib/autohub/kv.db"
//
// Observability settings:
//
//	AUTOHUB_LOG_LEVEL="info"  # debug, info, warn, error
//	AUTOHUB_METRICS_ENABLED="true"
//	AUTOHUB_OTEL_ENABLED="true"
//	AUTOHUB_OTEL_ENDPOINT="otel-collector:4317"
//	AUTOHUB_OTEL_ENVIRONMENT="production"
//	AUTOHUB_OTEL_SAMPLE_RATIO="0.25"  # share of new traces kept
//	AUTOHUB_OTEL_EXPORT_INTERVAL="10s"
//
// The same keys in YAML:
//
//	firebase:
//	  api_key: AIza...
//	store:
//	  type: sqlite
//	  sqlite_path: /var/lib/autohub/kv.db
//	login:
//	  popup_timeout: 5m
package config
