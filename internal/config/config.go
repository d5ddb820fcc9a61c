// Package config loads runtracker settings from defaults, an optional
// runtracker.yaml and RUNTRACKER_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/viper"

	"nuha.dev/runtracker/internal/geo"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	DbUrl       string `mapstructure:"db_url"`
	HashidsSalt string `mapstructure:"hashids_salt"`
	HashidsMin  int    `mapstructure:"hashids_min_length"`
	InitSchema  bool   `mapstructure:"init_schema"`
	BusNode     uint64 `mapstructure:"bus_node"`
	NatsUrl     string `mapstructure:"nats_url"`
	NatsPrefix  string `mapstructure:"nats_prefix"`

	DeviceAddr   string        `mapstructure:"device_address"`
	LoginTimeout time.Duration `mapstructure:"device_login_timeout"`
	ApiAddr      string        `mapstructure:"api_address"`
	ApiToken     string        `mapstructure:"api_token"`
	WsAddr       string        `mapstructure:"ws_address"`
	WsToken      string        `mapstructure:"ws_token"`
	WsMockToken  bool          `mapstructure:"ws_mock_token"`
	MonAddr      string        `mapstructure:"mon_address"`

	TickInterval    time.Duration `mapstructure:"tick_interval"`
	UseDefaultStart bool          `mapstructure:"use_default_start"`
	DefaultStartLat float64       `mapstructure:"default_start_lat"`
	DefaultStartLon float64       `mapstructure:"default_start_lon"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("db_url", "")
	v.SetDefault("hashids_salt", "runtracker")
	v.SetDefault("hashids_min_length", 6)
	v.SetDefault("init_schema", false)
	v.SetDefault("bus_node", 1)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_prefix", "runtracker")
	v.SetDefault("device_address", ":6000")
	v.SetDefault("device_login_timeout", 2*time.Second)
	v.SetDefault("api_address", ":3333")
	v.SetDefault("api_token", "")
	v.SetDefault("ws_address", ":7000")
	v.SetDefault("ws_token", "")
	v.SetDefault("ws_mock_token", false)
	v.SetDefault("mon_address", "localhost:3334")
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("use_default_start", true)
	v.SetDefault("default_start_lat", 37.78825)
	v.SetDefault("default_start_lon", -122.4324)
}

// New returns a viper instance with defaults and env binding set up.
// When path is empty the config file is searched in . and /etc/runtracker.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RUNTRACKER")
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("runtracker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/runtracker")
	}
	return v
}

func Load(path string) (*Config, error) {
	v := New(path)
	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return Decode(v)
}

func Decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	err := v.Unmarshal(c)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if c.TickInterval <= 0 {
		return nil, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.DefaultStartLat < -90 || c.DefaultStartLat > 90 || c.DefaultStartLon < -180 || c.DefaultStartLon > 180 {
		return nil, fmt.Errorf("default start %f,%f out of range", c.DefaultStartLat, c.DefaultStartLon)
	}
	return c, nil
}

// DefaultStart is the point a run is seeded with, or nil when the device's
// current fix should be used instead.
func (c *Config) DefaultStart() *geo.Point {
	if !c.UseDefaultStart {
		return nil
	}
	p := geo.NewPoint(c.DefaultStartLat, c.DefaultStartLon, time.Time{})
	return &p
}

func (c *Config) Level() log.Level {
	return log.ParseLevel(c.LogLevel)
}
