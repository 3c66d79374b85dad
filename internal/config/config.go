package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the full service configuration, loaded from environment
// variables with sensible defaults for local development.
type Config struct {
	HTTP struct {
		Addr string
	}

	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Meraki struct {
		BaseURL string
		APIKey  string
		OrgID   string
	}

	ServiceNow struct {
		Enabled  bool
		Instance string
		Username string
		Password string
	}

	Webhook struct {
		SharedSecret string
		// TargetNetworks limits processing to the listed network names.
		// Empty means all networks are accepted.
		TargetNetworks []string
	}

	Remediation struct {
		// DelayTime is the wait between a down alert and the status
		// re-check, and between the port cycle and the second re-check.
		DelayTime time.Duration
	}

	Tickets struct {
		// AllowDuplicates disables the one-open-ticket-per-root-device rule.
		AllowDuplicates bool
		// CleanupEnabled toggles the lifecycle sweeper.
		CleanupEnabled bool
		// RemovalTime is how long a root device must stay up before its
		// open ticket is auto-resolved.
		RemovalTime   time.Duration
		SweepInterval time.Duration
		// SinkMaxAttempts bounds ticket sink retries before falling back
		// to the local ledger.
		SinkMaxAttempts int
		LedgerPath      string
	}

	AuditLogDir string

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":5000")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "mvdebugger")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Meraki.BaseURL = getEnv("MERAKI_BASE_URL", "https://api.meraki.com/api/v1")
	cfg.Meraki.APIKey = getEnv("MERAKI_API_KEY", "")
	cfg.Meraki.OrgID = getEnv("MERAKI_ORG_ID", "")

	cfg.ServiceNow.Enabled = getEnvBool("SERVICE_NOW_ENABLED", true)
	cfg.ServiceNow.Instance = getEnv("SNOW_INSTANCE", "")
	cfg.ServiceNow.Username = getEnv("SNOW_USERNAME", "")
	cfg.ServiceNow.Password = getEnv("SNOW_PASSWORD", "")

	// An empty secret would make webhook validation accept any payload that
	// omits sharedSecret, so its absence is a startup error.
	cfg.Webhook.SharedSecret = getEnv("SHARED_SECRET", "")
	if cfg.Webhook.SharedSecret == "" {
		return nil, fmt.Errorf("SHARED_SECRET must be set")
	}
	if networks := getEnv("TARGET_NETWORKS", ""); networks != "" {
		for _, n := range strings.Split(networks, ",") {
			if n = strings.TrimSpace(n); n != "" {
				cfg.Webhook.TargetNetworks = append(cfg.Webhook.TargetNetworks, n)
			}
		}
	}

	cfg.Remediation.DelayTime = time.Duration(getEnvInt("DELAY_TIME", 5)) * time.Minute

	cfg.Tickets.AllowDuplicates = getEnvBool("ALLOW_DUPLICATE_TICKETS", false)
	cfg.Tickets.CleanupEnabled = getEnvBool("TICKET_CLEANUP", true)
	cfg.Tickets.RemovalTime = time.Duration(getEnvInt("TICKET_REMOVAL_TIME", 60)) * time.Minute
	cfg.Tickets.SweepInterval = time.Duration(getEnvInt("SWEEP_INTERVAL", 300)) * time.Second
	cfg.Tickets.SinkMaxAttempts = getEnvInt("SINK_MAX_ATTEMPTS", 3)
	cfg.Tickets.LedgerPath = getEnv("LEDGER_PATH", "tickets.csv")

	cfg.AuditLogDir = getEnv("AUDIT_LOG_DIR", "logs")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
