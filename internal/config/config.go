// Package config loads the orchestrator's runtime configuration from the
// environment, following the teacher's env-var-first convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every address, topic name, and timeout the orchestrator needs
// to reach the bus, keyed store, and MCP subprocess.
type Config struct {
	// Bus
	KafkaBrokers      []string
	KafkaJobsTopic    string
	KafkaResponseTopic string
	KafkaConsumerGroup string

	// Keyed store
	RedisAddr string

	// MCP
	MCPServerCommand string
	MCPServerArgs    []string

	// Timing
	PollInterval time.Duration // ping cadence, default 30s
	StepTimeout  time.Duration // per-step LLM wait, default 60s

	// Logging
	LogLevel string
	LogPretty bool

	// Metrics
	MetricsAddr string
}

// Load reads a .env file if present (ignoring a missing file) then builds a
// Config from environment variables, applying defaults for anything unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		KafkaBrokers:       splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
		KafkaJobsTopic:     getenv("KAFKA_JOBS_TOPIC", "llm.jobs"),
		KafkaResponseTopic: getenv("KAFKA_RESPONSE_TOPIC", "llm.responses"),
		KafkaConsumerGroup: getenv("KAFKA_CONSUMER_GROUP", "orchestrator"),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		MCPServerCommand:   getenv("MCP_SERVER_COMMAND", ""),
		MCPServerArgs:      splitCSV(getenv("MCP_SERVER_ARGS", "")),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogPretty:          getenvBool("LOG_PRETTY", false),
		MetricsAddr:        getenv("METRICS_ADDR", ":9090"),
	}

	pollSeconds, err := getenvInt("POLL_INTERVAL_SECONDS", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	stepSeconds, err := getenvInt("STEP_TIMEOUT_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.StepTimeout = time.Duration(stepSeconds) * time.Second

	if cfg.MCPServerCommand == "" {
		return Config{}, fmt.Errorf("MCP_SERVER_COMMAND is required")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
