package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	keyVar   = "ASKDB_KEY"
	envFile  = ".env"
	keyBytes = 32
)

// MaxQueryTimeout is the hard ceiling for a single statement.
const MaxQueryTimeout = 2 * time.Minute

type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	Key      string `validate:"min=32"`
	DBPath   string `validate:"required"`
	LogDir   string `validate:"required"`
	LogLevel string `validate:"omitempty,oneof=trace debug info warn error"`

	AnthropicAPIKey string
	LLMModel        string `validate:"required"`

	SchemaMaxAge time.Duration `validate:"gt=0"`

	PoolMaxConns       int           `validate:"min=1,max=100"`
	PoolIdleTimeout    time.Duration `validate:"gt=0"`
	PoolConnectTimeout time.Duration `validate:"gt=0"`

	QueryDefaultTimeout time.Duration `validate:"gt=0"`
	QueryMaxRows        int           `validate:"min=1"`

	RateLimitPerMinute int `validate:"min=1"`
	RateLimitBurst     int `validate:"min=1"`
}

func Load() (*Config, error) {
	return load(envFile)
}

func load(filename string) (*Config, error) {
	// Try loading .env file, but don't fail if it doesn't exist
	_ = godotenv.Load(filename)

	key := os.Getenv(keyVar)
	if len(key) < 32 {
		fmt.Println(keyVar + " not found or too short. Generating a new secure key...")
		newKey, err := generateRandomKey(keyBytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate key")
		}

		if err := saveKeyToEnv(filename, newKey); err != nil {
			fmt.Printf("Warning: Failed to save generated key to %s: %v\n", filename, err)
		} else {
			fmt.Printf("New %s saved to %s file.\n", keyVar, filename)
		}
		key = newKey
	}

	cfg := &Config{
		Port:                envInt("PORT", 8080),
		Key:                 key,
		DBPath:              envString("ASKDB_DB_PATH", "askdb.db"),
		LogDir:              envString("LOG_DIR", "logs"),
		LogLevel:            envString("LOG_LEVEL", "info"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		LLMModel:            envString("LLM_MODEL", "claude-3-5-haiku-20241022"),
		SchemaMaxAge:        time.Duration(envInt("SCHEMA_MAX_AGE_HOURS", 24)) * time.Hour,
		PoolMaxConns:        envInt("POOL_MAX_CONNS", 5),
		PoolIdleTimeout:     envDuration("POOL_IDLE_TIMEOUT", 30*time.Second),
		PoolConnectTimeout:  envDuration("POOL_CONNECT_TIMEOUT", 10*time.Second),
		QueryDefaultTimeout: envDuration("QUERY_DEFAULT_TIMEOUT", 30*time.Second),
		QueryMaxRows:        envInt("QUERY_MAX_ROWS", 1000),
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBurst:      envInt("RATE_LIMIT_BURST", 5),
	}
	if cfg.QueryDefaultTimeout > MaxQueryTimeout {
		cfg.QueryDefaultTimeout = MaxQueryTimeout
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// envDuration accepts Go durations ("45s") or a bare number of seconds.
func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func generateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// Printable, and still 32 bytes of entropy
	return base64.StdEncoding.EncodeToString(b), nil
}

// saveKeyToEnv sets the key in filename, keeping every other entry.
func saveKeyToEnv(filename, key string) error {
	env, err := godotenv.Read(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{"PORT": "8080"}
	}
	env[keyVar] = key
	return godotenv.Write(env, filename)
}
