package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // For durations

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration. Every component receives the
// section it needs at construction; nothing reads the environment at runtime.
type Config struct {
	AppPort    string // Application port
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment

	Nonce      NonceConfig      // Nonce issuance/consumption
	Biometric  BiometricConfig  // Signature + attestation validation
	Risk       RiskConfig       // Fraud scoring thresholds
	Compliance ComplianceConfig // Spend limits and KYC policy
	Queue      QueueConfig      // Transaction queue tuning
	RateLimits RateLimitConfig  // Per-action sliding windows
}

// NonceConfig controls challenge token issuance.
type NonceConfig struct {
	TTL time.Duration // Lifetime of an unused nonce
}

// BiometricConfig controls signature and attestation validation.
type BiometricConfig struct {
	MinKeyBits      int           // Minimum RSA key size accepted
	FreshnessWindow time.Duration // Max age (and max future skew) of attestation timestamps
	ExpectedPackage string        // Package identity the attestation must carry
	MinNonceBytes   int           // Minimum decoded attestation nonce length
	MinDigestLength int           // Minimum app digest length
}

// RiskConfig holds fraud scorer weights and decision thresholds.
type RiskConfig struct {
	PatternWeight  float64 // Weight of transaction-pattern analysis
	DeviceWeight   float64 // Weight of device-behavior analysis
	NetworkWeight  float64 // Weight of network-graph analysis
	BlockThreshold float64 // Overall score at or above which a payment is blocked
	ReviewLevel    float64 // Overall score at or above which a payment needs review
	MonitorLevel   float64 // Overall score at or above which a payment is flagged
}

// ComplianceConfig holds regulatory gating limits.
type ComplianceConfig struct {
	DailyLimitMinor   int64         // Max debits per calendar day, minor units
	MonthlyLimitMinor int64         // Max debits per calendar month, minor units
	SuspiciousMinor   int64         // Amount at which a high_amount flag is attached
	KYCValidity       time.Duration // Age at which identity verification expires
}

// QueueConfig tunes the deferred-settlement queue.
type QueueConfig struct {
	ProcessingLimit int           // Max items processing concurrently
	RetryLimit      int           // Attempts before an item is terminally failed
	RetryDelay      time.Duration // Base backoff; multiplied by attempt count
	Retention       time.Duration // Age at which completed/failed items are reaped
	TickInterval    time.Duration // Scheduler polling interval
}

// RateLimitRule is one sliding-window limit.
type RateLimitRule struct {
	Window      time.Duration // Window length
	MaxAttempts int64         // Max attempts inside the window
}

// RateLimitConfig maps action names to their rules.
type RateLimitConfig struct {
	Rules map[string]RateLimitRule
}

// LoadConfig loads configuration from environment variables with production
// defaults for all engine tunables.
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return &Config{
		AppPort:    os.Getenv("APP_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBName:     os.Getenv("DB_NAME"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		RedisPass:  os.Getenv("REDIS_PASS"),
		RedisDB:    redisDB,
		IsProd:     os.Getenv("IS_PROD") == "true",

		Nonce: NonceConfig{
			TTL: 60 * time.Second,
		},
		Biometric: BiometricConfig{
			MinKeyBits:      2048,
			FreshnessWindow: 300 * time.Second,
			ExpectedPackage: envOr("EXPECTED_PACKAGE", "com.bipay.app"),
			MinNonceBytes:   16,
			MinDigestLength: 32,
		},
		Risk: RiskConfig{
			PatternWeight:  0.4,
			DeviceWeight:   0.3,
			NetworkWeight:  0.3,
			BlockThreshold: 0.8,
			ReviewLevel:    0.6,
			MonitorLevel:   0.3,
		},
		Compliance: ComplianceConfig{
			DailyLimitMinor:   1_000_000, // 10,000.00 in minor units
			MonthlyLimitMinor: 5_000_000, // 50,000.00 in minor units
			SuspiciousMinor:   500_000,   // 5,000.00 in minor units
			KYCValidity:       365 * 24 * time.Hour,
		},
		Queue: QueueConfig{
			ProcessingLimit: 100,
			RetryLimit:      3,
			RetryDelay:      5 * time.Second,
			Retention:       7 * 24 * time.Hour,
			TickInterval:    time.Second,
		},
		RateLimits: RateLimitConfig{
			Rules: map[string]RateLimitRule{
				"login":          {Window: 300 * time.Second, MaxAttempts: 5},
				"biometric":      {Window: 60 * time.Second, MaxAttempts: 3},
				"payment":        {Window: 60 * time.Second, MaxAttempts: 10},
				"api_general":    {Window: 60 * time.Second, MaxAttempts: 100},
				"password_reset": {Window: 3600 * time.Second, MaxAttempts: 3},
			},
		},
	}
}

// envOr returns the environment value for key, or def when unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
