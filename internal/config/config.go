package config

import "time"

// Config is the complete router configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingress    IngressConfig    `yaml:"ingress"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Cache      CacheConfig      `yaml:"cache"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	Adapters   AdaptersConfig   `yaml:"adapters"`
	Egress     EgressConfig     `yaml:"egress"`
	Audit      AuditConfig      `yaml:"audit"`
	Store      StoreConfig      `yaml:"store"`
	Permission PermissionConfig `yaml:"permission"`
	Logging    LoggingConfig    `yaml:"logging"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ServerConfig controls the synchronous HTTP ingress listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// IngressConfig controls backpressure and the optional queue consumer.
type IngressConfig struct {
	Workers       int           `yaml:"workers"`        // ROUTER_WORKERS
	MaxInFlight   int           `yaml:"max_inflight"`    // ROUTER_MAX_INFLIGHT
	EventDeadline time.Duration `yaml:"event_deadline"` // default per-event deadline
	Queue         QueueConfig   `yaml:"queue"`
}

// QueueConfig configures the durable AMQP ingress path.
type QueueConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url" redact:"true"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

// RateLimitConfig controls the token-bucket limiter and its backing store.
type RateLimitConfig struct {
	Store    string                    `yaml:"store"` // memory | shared
	FailOpen bool                      `yaml:"fail_open"`
	Redis    RedisConfig               `yaml:"redis"`
	Classes  map[string]RateLimitClass `yaml:"classes"` // chatty, expensive, admin, ...
}

// RateLimitClass defines a named bucket shape referenced from routes.
type RateLimitClass struct {
	Rate   int           `yaml:"rate"`
	Period time.Duration `yaml:"period"`
	Burst  int           `yaml:"burst"`
}

// RedisConfig is shared by the rate limiter and revocation list.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password" redact:"true"`
	DB       int    `yaml:"db"`
}

// CacheConfig controls the response cache + single-flight coalescer.
type CacheConfig struct {
	MaxEntries          int           `yaml:"max_entries"`
	DefaultTTL          time.Duration `yaml:"default_ttl"`
	SingleFlightTimeout time.Duration `yaml:"single_flight_timeout"`
}

// BreakerConfig provides default circuit-breaker parameters, overridable per adapter endpoint.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	HalfOpenTrials   int           `yaml:"half_open_trials"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
	SnapshotPath     string        `yaml:"snapshot_path"`
}

// RetryConfig provides default retry parameters, overridable per adapter.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// AdaptersConfig holds default timeouts per adapter variant.
type AdaptersConfig struct {
	DefaultTimeout    time.Duration            `yaml:"default_timeout"`
	DefaultMaxRetries int                      `yaml:"default_max_retries"`
	Webhook           WebhookAdapterConfig     `yaml:"webhook"`
	GRPC              GRPCAdapterConfig        `yaml:"grpc"`
	Lambda            LambdaAdapterConfig      `yaml:"lambda"`
	GCPFunction       GCPFunctionAdapterConfig `yaml:"gcp_function"`
	OpenWhisk         OpenWhiskAdapterConfig   `yaml:"openwhisk"`
}

// WebhookAdapterConfig controls the signed-HTTP adapter variant.
type WebhookAdapterConfig struct {
	SigningKey string        `yaml:"signing_key" redact:"true"`
	Timeout    time.Duration `yaml:"timeout"`
}

// GRPCAdapterConfig controls the unary-RPC adapter variant.
type GRPCAdapterConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LambdaAdapterConfig controls the AWS Lambda adapter variant.
type LambdaAdapterConfig struct {
	Region      string        `yaml:"region"`
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// GCPFunctionAdapterConfig controls the GCP Functions adapter variant.
type GCPFunctionAdapterConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// OpenWhiskAdapterConfig controls the REST/basic-auth adapter variant.
type OpenWhiskAdapterConfig struct {
	APIHost string        `yaml:"api_host"`
	Timeout time.Duration `yaml:"timeout"`
}

// EgressConfig controls the outbound fan-out worker pool and its per-target
// HTTP delivery defaults.
type EgressConfig struct {
	Workers   int                        `yaml:"workers"`
	QueueSize int                        `yaml:"queue_size"`
	Timeout   time.Duration              `yaml:"timeout"`
	Breaker   BreakerConfig              `yaml:"breaker"`
	Retry     RetryConfig                `yaml:"retry"`
	Targets   map[string]EgressTargetCfg `yaml:"targets"` // keyed by platform, e.g. "discord"
}

// EgressTargetCfg is one platform's outbound webhook coordinates.
type EgressTargetCfg struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret" redact:"true"`
}

// AuditConfig controls batching of the append-only audit sink.
type AuditConfig struct {
	BatchSize  int            `yaml:"batch_size"`
	FlushEvery time.Duration  `yaml:"flush_every"`
	Backend    string         `yaml:"backend"` // memory | postgres
	Postgres   PostgresConfig `yaml:"postgres"`
}

// PostgresConfig is shared by the audit sink and the route store.
type PostgresConfig struct {
	DSN           string `yaml:"dsn" redact:"true"`
	MaxConns      int32  `yaml:"max_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// StoreConfig selects and configures the RouteStore backing the resolver/permission gate.
type StoreConfig struct {
	Backend      string         `yaml:"backend"` // memory | postgres
	Postgres     PostgresConfig `yaml:"postgres"`
	PollInterval time.Duration  `yaml:"poll_interval"`
}

// PermissionConfig controls scope-envelope verification.
type PermissionConfig struct {
	EnvelopeSecret string           `yaml:"envelope_secret" redact:"true"` // SCOPE_ENVELOPE_SECRET
	Revocation     RevocationConfig `yaml:"revocation"`
}

// RevocationConfig selects the revocation-list backing store.
type RevocationConfig struct {
	Store string      `yaml:"store"` // memory | redis
	Redis RedisConfig `yaml:"redis"`
}

// LoggingConfig controls the structured zap logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// AdminConfig controls the thin operator HTTP surface (/healthz, /metrics, breaker snapshots).
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultConfig returns a Config populated with the router's operational defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Ingress: IngressConfig{
			Workers:       32,
			MaxInFlight:   1024,
			EventDeadline: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Store:    "memory",
			FailOpen: false,
		},
		Cache: CacheConfig{
			MaxEntries:          10000,
			DefaultTTL:          0,
			SingleFlightTimeout: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			HalfOpenTrials:   1,
			Cooldown:         30 * time.Second,
			MaxCooldown:      5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:        2,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Adapters: AdaptersConfig{
			DefaultTimeout:    5 * time.Second,
			DefaultMaxRetries: 2,
			Webhook:           WebhookAdapterConfig{Timeout: 5 * time.Second},
			GRPC:              GRPCAdapterConfig{Timeout: 5 * time.Second},
			Lambda:            LambdaAdapterConfig{Region: "us-east-1", SyncTimeout: 30 * time.Second},
			GCPFunction:       GCPFunctionAdapterConfig{Timeout: 30 * time.Second},
			OpenWhisk:         OpenWhiskAdapterConfig{Timeout: 30 * time.Second},
		},
		Egress: EgressConfig{
			Workers:   16,
			QueueSize: 2000,
			Timeout:   5 * time.Second,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				HalfOpenTrials:   1,
				Cooldown:         15 * time.Second,
				MaxCooldown:      2 * time.Minute,
			},
			Retry: RetryConfig{
				MaxRetries:        2,
				InitialBackoff:    100 * time.Millisecond,
				MaxBackoff:        5 * time.Second,
				BackoffMultiplier: 2.0,
			},
		},
		Audit: AuditConfig{
			BatchSize:  100,
			FlushEvery: 500 * time.Millisecond,
			Backend:    "memory",
		},
		Store: StoreConfig{
			Backend:      "memory",
			PollInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}
