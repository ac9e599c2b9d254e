package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the uro node
type Config struct {
	// Network
	Network string

	// Logging
	LogLevel string
	LogFile  string

	// P2P
	P2PAddr        string
	MaxPeers       int
	MaxInbound     int
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	DialRate       float64
	SeedNodes      []string
	DNSSeeds       bool

	// Peer engine
	RequestTimeout    time.Duration
	BroadcastTimeout  time.Duration
	BroadcastInterval time.Duration
	PingInterval      time.Duration
	Relay             bool
	WatchList         []string
	StartHeight       int32

	// RPC
	RPCAddr      string
	RPCRateLimit float64

	// Database
	DataDir string

	// Tor
	TorEnabled   bool
	TorProxyAddr string
	TorIsolation bool
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Network: getEnv("NETWORK", "mainnet"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		P2PAddr:        getEnv("P2P_ADDR", "0.0.0.0:36348"),
		MaxPeers:       getEnvInt("MAX_PEERS", 8),
		MaxInbound:     getEnvInt("MAX_INBOUND", 117),
		ConnectTimeout: getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		ReconnectDelay: getEnvDuration("RECONNECT_DELAY", 5*time.Second),
		DialRate:       getEnvFloat("DIAL_RATE", 2),
		SeedNodes:      getEnvList("SEED_NODES", nil),
		DNSSeeds:       getEnvBool("DNS_SEEDS_ENABLED", true),

		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		BroadcastTimeout:  getEnvDuration("BROADCAST_TIMEOUT", 30*time.Second),
		BroadcastInterval: getEnvDuration("BROADCAST_INTERVAL", 3*time.Second),
		PingInterval:      getEnvDuration("PING_INTERVAL", 30*time.Second),
		Relay:             getEnvBool("RELAY", false),
		WatchList:         getEnvList("WATCH_LIST", nil),
		StartHeight:       int32(getEnvInt("START_HEIGHT", 0)),

		RPCAddr:      getEnv("RPC_ADDR", "127.0.0.1:36349"),
		RPCRateLimit: getEnvFloat("RPC_RATE_LIMIT", 20),

		DataDir: getEnv("DATA_DIR", "."),

		TorEnabled:   getEnvBool("TOR_ENABLED", false),
		TorProxyAddr: getEnv("TOR_PROXY_ADDR", "127.0.0.1:9050"),
		TorIsolation: getEnvBool("TOR_ISOLATION", false),
	}
}

// getEnv gets an environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int or returns default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as bool or returns default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as duration or returns default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, skipping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
