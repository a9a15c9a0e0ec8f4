package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds daemon configuration. Everything here belongs to bootstrap;
// the core components receive plain values, never viper handles.
type Config struct {
	SocketPath    string
	DatabasePath  string
	Passphrase    string // optional; empty means prompt interactively
	PoolSize      int    // 0 selects the 4x-cores default
	QueueSize     int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ReplyTimeout  time.Duration
	DisputeWindow time.Duration
}

// LoadConfig loads configuration from environment variables and a .env file
// if present. Environment variables win over .env values.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("RTCOIN_SOCKET", "/tmp/rtcoin.sock")
	viper.SetDefault("RTCOIN_DB", "ledger.db")
	viper.SetDefault("RTCOIN_PASSPHRASE", "")
	viper.SetDefault("RTCOIN_POOL_SIZE", 0)
	viper.SetDefault("RTCOIN_QUEUE_SIZE", 64)
	viper.SetDefault("RTCOIN_READ_TIMEOUT", "5m")
	viper.SetDefault("RTCOIN_WRITE_TIMEOUT", "30s")
	viper.SetDefault("RTCOIN_REPLY_TIMEOUT", "30s")
	viper.SetDefault("RTCOIN_DISPUTE_WINDOW", "720h")

	viper.AutomaticEnv()

	cfg := &Config{
		SocketPath:   viper.GetString("RTCOIN_SOCKET"),
		DatabasePath: viper.GetString("RTCOIN_DB"),
		Passphrase:   viper.GetString("RTCOIN_PASSPHRASE"),
		PoolSize:     viper.GetInt("RTCOIN_POOL_SIZE"),
		QueueSize:    viper.GetInt("RTCOIN_QUEUE_SIZE"),
	}

	cfg.ReadTimeout = parseDuration("RTCOIN_READ_TIMEOUT", 5*time.Minute)
	cfg.WriteTimeout = parseDuration("RTCOIN_WRITE_TIMEOUT", 30*time.Second)
	cfg.ReplyTimeout = parseDuration("RTCOIN_REPLY_TIMEOUT", 30*time.Second)
	cfg.DisputeWindow = parseDuration("RTCOIN_DISPUTE_WINDOW", 30*24*time.Hour)

	return cfg, nil
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: invalid value for %s (%q). Defaulting to %s.\n", key, raw, fallback)
		return fallback
	}
	return d
}
