package config

import "fmt"

var validRateLimitStores = map[string]bool{"memory": true, "shared": true}
var validAuditBackends = map[string]bool{"memory": true, "postgres": true}
var validStoreBackends = map[string]bool{"memory": true, "postgres": true}
var validRevocationStores = map[string]bool{"memory": true, "redis": true}

// Validate checks a Config for internal consistency.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Ingress.Workers <= 0 {
		return fmt.Errorf("ingress.workers must be positive")
	}
	if cfg.Ingress.MaxInFlight <= 0 {
		return fmt.Errorf("ingress.max_inflight must be positive")
	}
	if cfg.Ingress.Queue.Enabled {
		if cfg.Ingress.Queue.URL == "" {
			return fmt.Errorf("ingress.queue.url is required when ingress.queue.enabled")
		}
		if cfg.Ingress.Queue.Queue == "" {
			return fmt.Errorf("ingress.queue.queue is required when ingress.queue.enabled")
		}
	}

	if !validRateLimitStores[cfg.RateLimit.Store] {
		return fmt.Errorf("rate_limit.store must be one of memory|shared, got %q", cfg.RateLimit.Store)
	}
	if cfg.RateLimit.Store == "shared" && cfg.RateLimit.Redis.Addr == "" {
		return fmt.Errorf("rate_limit.redis.addr is required when rate_limit.store is shared")
	}
	for name, class := range cfg.RateLimit.Classes {
		if class.Rate <= 0 {
			return fmt.Errorf("rate_limit.classes[%s].rate must be positive", name)
		}
		if class.Period <= 0 {
			return fmt.Errorf("rate_limit.classes[%s].period must be positive", name)
		}
		if class.Burst <= 0 {
			return fmt.Errorf("rate_limit.classes[%s].burst must be positive", name)
		}
	}

	if cfg.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}

	if cfg.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if cfg.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be positive")
	}
	if cfg.Breaker.MaxCooldown < cfg.Breaker.Cooldown {
		return fmt.Errorf("breaker.max_cooldown must be >= breaker.cooldown")
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative")
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1")
	}

	if !validAuditBackends[cfg.Audit.Backend] {
		return fmt.Errorf("audit.backend must be one of memory|postgres, got %q", cfg.Audit.Backend)
	}
	if cfg.Audit.Backend == "postgres" && cfg.Audit.Postgres.DSN == "" {
		return fmt.Errorf("audit.postgres.dsn is required when audit.backend is postgres")
	}

	if !validStoreBackends[cfg.Store.Backend] {
		return fmt.Errorf("store.backend must be one of memory|postgres, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.Postgres.DSN == "" {
		return fmt.Errorf("store.postgres.dsn is required when store.backend is postgres")
	}

	if !validRevocationStores[cfg.Permission.Revocation.Store] {
		return fmt.Errorf("permission.revocation.store must be one of memory|redis, got %q", cfg.Permission.Revocation.Store)
	}
	if cfg.Permission.Revocation.Store == "redis" && cfg.Permission.Revocation.Redis.Addr == "" {
		return fmt.Errorf("permission.revocation.redis.addr is required when permission.revocation.store is redis")
	}

	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("admin.port must be between 1 and 65535, got %d", cfg.Admin.Port)
	}
	if cfg.Admin.Enabled && cfg.Admin.Port == cfg.Server.Port {
		return fmt.Errorf("admin.port must differ from server.port")
	}

	return nil
}
