package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ChannelSeed struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

type SweepConfig struct {
	Grace    time.Duration `mapstructure:"grace"`
	Interval time.Duration `mapstructure:"interval"`
}

type SignalRateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

// ClientConfig drives cmd/client: where the server lives and how the mesh
// coordinator and activity monitor behave.
type ClientConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	CandidateTTL       time.Duration `mapstructure:"candidate_ttl"`
	SpeakingThreshold  float64       `mapstructure:"speaking_threshold"`
	SpeakingHold       time.Duration `mapstructure:"speaking_hold"`
}

type Config struct {
	Mode       string           `mapstructure:"mode"`
	Port       int              `mapstructure:"port"`
	Secret     string           `mapstructure:"secret"`
	ReadLimit  int64            `mapstructure:"read_limit"`
	PingPeriod time.Duration    `mapstructure:"ping_period"`
	ICEServers []string         `mapstructure:"ice_servers"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	SignalRate SignalRateConfig `mapstructure:"signal_rate"`
	Channels   []ChannelSeed    `mapstructure:"channels"`
	Client     ClientConfig     `mapstructure:"client"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("sweep.grace", "45s")
	v.SetDefault("sweep.interval", "15s")
	v.SetDefault("signal_rate.limit", 120)
	v.SetDefault("signal_rate.interval", "10s")
	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.negotiation_timeout", "20s")
	v.SetDefault("client.candidate_ttl", "30s")
	v.SetDefault("client.speaking_threshold", 0.04)
	v.SetDefault("client.speaking_hold", "300ms")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
