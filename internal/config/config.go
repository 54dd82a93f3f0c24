package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/forgo/queuedesk/internal/model"
)

// Store drivers
const (
	DriverSurrealDB = "surrealdb"
	DriverSQLite    = "sqlite"
	DriverMemory    = "memory"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Discord  DiscordConfig
	AMQP     AMQPConfig
	OTel     OTelConfig
	Dispatch DispatchConfig
	Policy   PolicyConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string
	Env            string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
	IdempotencyTTL time.Duration
	// StreamHeartbeat is the SSE keep-alive interval
	StreamHeartbeat time.Duration
}

// StoreConfig selects and bounds the persistent store
type StoreConfig struct {
	Driver     string
	SQLitePath string
	// OpTimeout bounds every store call
	OpTimeout time.Duration
}

// DatabaseConfig holds SurrealDB connection settings
type DatabaseConfig struct {
	Host      string
	Port      string
	Namespace string
	Database  string
	User      string
	Password  string
}

// JWTConfig holds JWT signing settings
type JWTConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	ExpirationMins int
	Issuer         string
}

// DiscordConfig holds the gateway bot settings. An empty token disables
// the Discord adapter.
type DiscordConfig struct {
	Token string
	// TicketCategory is the channel category new ticket channels go under
	TicketCategory string
}

// AMQPConfig holds broker settings. An empty URL disables the broker.
type AMQPConfig struct {
	URL                 string
	EventExchange       string
	EventQueue          string
	InstructionExchange string
	DeadLetterExchange  string
	ContentType         string
	Prefetch            int
}

// OTelConfig holds tracing settings
type OTelConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// DispatchConfig holds event dispatch settings
type DispatchConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	TaskTimeout  time.Duration
}

// PolicyConfig holds the deployment-wide ticket policy. Community profiles
// override it per community.
type PolicyConfig struct {
	EvidencePolicy     model.EvidencePolicy
	CloseAction        model.CloseAction
	ClaimNoticeDelay   time.Duration
	ClaimTeardownDelay time.Duration
	StaffRoleRef       string
	MarkerRoleRef      string
	StaffUserIDs       []string
	IdleTimeout        time.Duration
	SweepInterval      time.Duration
	ProfilesPath       string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("SERVER_ENV", "development"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getSliceEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:       getIntEnv("RATE_LIMIT_REQUESTS", 120),
			RateWindow:      getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			IdempotencyTTL:  getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
			StreamHeartbeat: getDurationEnv("STREAM_HEARTBEAT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver:     getEnv("STORE_DRIVER", DriverSurrealDB),
			SQLitePath: getEnv("SQLITE_PATH", "./queuedesk.db"),
			OpTimeout:  getDurationEnv("STORE_OP_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:      getEnv("DB_HOST", "localhost"),
			Port:      getEnv("DB_PORT", "8000"),
			Namespace: getEnv("DB_NAMESPACE", "queuedesk"),
			Database:  getEnv("DB_DATABASE", "main"),
			User:      getEnv("DB_USER", "root"),
			Password:  getEnv("DB_PASSWORD", "root"),
		},
		JWT: JWTConfig{
			PrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./keys/private.pem"),
			PublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./keys/public.pem"),
			ExpirationMins: getIntEnv("JWT_EXPIRATION_MINS", 15),
			Issuer:         getEnv("JWT_ISSUER", "queuedesk.forgo.software"),
		},
		Discord: DiscordConfig{
			Token:          getEnv("DISCORD_TOKEN", ""),
			TicketCategory: getEnv("DISCORD_TICKET_CATEGORY", ""),
		},
		AMQP: AMQPConfig{
			URL:                 getEnv("AMQP_URL", ""),
			EventExchange:       getEnv("AMQP_EVENT_EXCHANGE", "queuedesk.events"),
			EventQueue:          getEnv("AMQP_EVENT_QUEUE", "queuedesk.controller"),
			InstructionExchange: getEnv("AMQP_INSTRUCTION_EXCHANGE", "queuedesk.instructions"),
			DeadLetterExchange:  getEnv("AMQP_DEAD_LETTER_EXCHANGE", "queuedesk.dead"),
			ContentType:         getEnv("AMQP_CONTENT_TYPE", "application/json"),
			Prefetch:            getIntEnv("AMQP_PREFETCH", 8),
		},
		OTel: OTelConfig{
			Enabled:     getBoolEnv("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "queuedesk"),
		},
		Dispatch: DispatchConfig{
			MaxAttempts:  getIntEnv("DISPATCH_MAX_ATTEMPTS", 3),
			RetryBackoff: getDurationEnv("DISPATCH_RETRY_BACKOFF", 50*time.Millisecond),
			TaskTimeout:  getDurationEnv("DISPATCH_TASK_TIMEOUT", 30*time.Second),
		},
		Policy: PolicyConfig{
			EvidencePolicy:     model.EvidencePolicy(getEnv("EVIDENCE_POLICY", string(model.EvidencePolicyExplicitIdentifier))),
			CloseAction:        model.CloseAction(getEnv("CLOSE_ACTION", string(model.CloseActionDestroy))),
			ClaimNoticeDelay:   getDurationEnv("CLAIM_NOTICE_DELAY", 5*time.Second),
			ClaimTeardownDelay: getDurationEnv("CLAIM_TEARDOWN_DELAY", 60*time.Second),
			StaffRoleRef:       getEnv("STAFF_ROLE_REF", ""),
			MarkerRoleRef:      getEnv("MARKER_ROLE_REF", ""),
			StaffUserIDs:       getSliceEnv("STAFF_USER_IDS", nil),
			IdleTimeout:        getDurationEnv("TICKET_IDLE_TIMEOUT", 24*time.Hour),
			SweepInterval:      getDurationEnv("TICKET_SWEEP_INTERVAL", time.Minute),
			ProfilesPath:       getEnv("COMMUNITY_PROFILES_PATH", ""),
		},
	}, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// DefaultPolicy returns the deployment-wide community policy
func (c *Config) DefaultPolicy() model.CommunityPolicy {
	return model.CommunityPolicy{
		EvidencePolicy:     c.Policy.EvidencePolicy,
		CloseAction:        c.Policy.CloseAction,
		ClaimNoticeDelay:   c.Policy.ClaimNoticeDelay,
		ClaimTeardownDelay: c.Policy.ClaimTeardownDelay,
		StaffRoleRef:       c.Policy.StaffRoleRef,
		MarkerRoleRef:      c.Policy.MarkerRoleRef,
		StaffUserIDs:       c.Policy.StaffUserIDs,
	}
}

// Validate checks that all required configuration values are present and valid.
// It returns an error describing all validation failures, or nil if valid.
func (c *Config) Validate() error {
	var errs []error

	// Server validation
	if c.Server.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	if c.Server.Env != "development" && c.Server.Env != "production" && c.Server.Env != "test" {
		errs = append(errs, fmt.Errorf("SERVER_ENV must be 'development', 'production', or 'test', got '%s'", c.Server.Env))
	}
	if len(c.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must have at least one origin"))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}

	// Store validation
	switch c.Store.Driver {
	case DriverSurrealDB:
		errs = append(errs, c.Database.validate()...)
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_DRIVER is sqlite"))
		}
	case DriverMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_DRIVER memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be 'surrealdb', 'sqlite', or 'memory', got '%s'", c.Store.Driver))
	}
	if c.Store.OpTimeout <= 0 {
		errs = append(errs, errors.New("STORE_OP_TIMEOUT must be positive"))
	}

	// JWT validation - critical for production
	if c.IsProduction() {
		if c.JWT.PrivateKeyPath == "" {
			errs = append(errs, errors.New("JWT_PRIVATE_KEY_PATH is required in production"))
		}
		if c.JWT.PublicKeyPath == "" {
			errs = append(errs, errors.New("JWT_PUBLIC_KEY_PATH is required in production"))
		}
	}
	if c.JWT.ExpirationMins <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRATION_MINS must be positive"))
	}

	// Broker validation
	if c.AMQP.URL != "" {
		if c.AMQP.EventExchange == "" || c.AMQP.EventQueue == "" || c.AMQP.InstructionExchange == "" {
			errs = append(errs, errors.New("AMQP exchanges and queue are required when AMQP_URL is set"))
		}
		if ct := c.AMQP.ContentType; ct != "application/json" && ct != "application/cbor" {
			errs = append(errs, fmt.Errorf("AMQP_CONTENT_TYPE must be 'application/json' or 'application/cbor', got '%s'", ct))
		}
	}

	if c.OTel.Enabled && c.OTel.Endpoint == "" {
		errs = append(errs, errors.New("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED is true"))
	}

	// Dispatch validation
	if c.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_ATTEMPTS must be positive"))
	}
	if c.Dispatch.RetryBackoff < 0 {
		errs = append(errs, errors.New("DISPATCH_RETRY_BACKOFF must not be negative"))
	}

	// Policy validation
	if !c.Policy.EvidencePolicy.IsValid() {
		errs = append(errs, fmt.Errorf("EVIDENCE_POLICY must be 'explicit_identifier' or 'attachment', got '%s'", c.Policy.EvidencePolicy))
	}
	if !c.Policy.CloseAction.IsValid() {
		errs = append(errs, fmt.Errorf("CLOSE_ACTION must be 'destroy' or 'archive', got '%s'", c.Policy.CloseAction))
	}
	if c.Policy.ClaimNoticeDelay < 0 || c.Policy.ClaimTeardownDelay < 0 {
		errs = append(errs, errors.New("CLAIM_NOTICE_DELAY and CLAIM_TEARDOWN_DELAY must not be negative"))
	}
	if c.Policy.IdleTimeout < 0 {
		errs = append(errs, errors.New("TICKET_IDLE_TIMEOUT must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (d DatabaseConfig) validate() []error {
	var missing []string
	if d.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if d.Port == "" {
		missing = append(missing, "DB_PORT")
	}
	if d.Namespace == "" {
		missing = append(missing, "DB_NAMESPACE")
	}
	if d.Database == "" {
		missing = append(missing, "DB_DATABASE")
	}
	if len(missing) > 0 {
		return []error{fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))}
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
