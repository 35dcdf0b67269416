package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Panorama  PanoramaConfig  `mapstructure:"panorama"`
	Gazetteer GazetteerConfig `mapstructure:"gazetteer"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Flyover   FlyoverConfig   `mapstructure:"flyover"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns       int32         `mapstructure:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// GeocoderConfig points at the batch geocoding service.
type GeocoderConfig struct {
	URL      string        `mapstructure:"url"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// PanoramaConfig points at the panorama-availability service.
type PanoramaConfig struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RadiusMeters float64       `mapstructure:"radius_meters"`
}

// GazetteerConfig selects where named places are loaded from: "file" or "postgres".
type GazetteerConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// FlyoverConfig holds the resolution and playback tuning constants.
type FlyoverConfig struct {
	// Resolver
	RoundPrecision  int           `mapstructure:"round_precision"`
	JitterMagnitude float64       `mapstructure:"jitter_magnitude"`
	JitterSeed      int64         `mapstructure:"jitter_seed"`
	BatchSize       int           `mapstructure:"batch_size"`
	GeocodeTimeout  time.Duration `mapstructure:"geocode_timeout"`
	LoadCeiling     time.Duration `mapstructure:"load_ceiling"`

	// Camera
	ProbeWindow   time.Duration `mapstructure:"probe_window"`
	Grace         time.Duration `mapstructure:"grace"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
	ZoomBase      float64       `mapstructure:"zoom_base"`
	SettleMaxWait time.Duration `mapstructure:"settle_max_wait"`

	// Director
	SplashDwell      time.Duration `mapstructure:"splash_dwell"`
	HoldWithNotes    time.Duration `mapstructure:"hold_with_notes"`
	Hold             time.Duration `mapstructure:"hold"`
	OrbitRevolutions float64       `mapstructure:"orbit_revolutions"`
	FirstLeg         time.Duration `mapstructure:"first_leg"`
	MinLeg           time.Duration `mapstructure:"min_leg"`
	MaxLeg           time.Duration `mapstructure:"max_leg"`
	MetersPerMilli   float64       `mapstructure:"meters_per_milli"`
	PullBack         time.Duration `mapstructure:"pull_back"`
	FinalLeg         time.Duration `mapstructure:"final_leg"`
	StopRange        float64       `mapstructure:"stop_range"`
	StopTilt         float64       `mapstructure:"stop_tilt"`
	PullBackRange    float64       `mapstructure:"pull_back_range"`
	PullBackTilt     float64       `mapstructure:"pull_back_tilt"`
	FinalPadding     float64       `mapstructure:"final_padding"`
	FinalMinRange    float64       `mapstructure:"final_min_range"`
	FinalTilt        float64       `mapstructure:"final_tilt"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
}

// DefaultFlyover returns the tuning constants used when nothing is configured.
func DefaultFlyover() FlyoverConfig {
	return FlyoverConfig{
		RoundPrecision:   4,
		JitterMagnitude:  0.008,
		BatchSize:        25,
		GeocodeTimeout:   6 * time.Second,
		LoadCeiling:      8 * time.Second,
		ProbeWindow:      3 * time.Second,
		Grace:            600 * time.Millisecond,
		FrameInterval:    16 * time.Millisecond,
		ZoomBase:         35200000,
		SettleMaxWait:    2 * time.Second,
		SplashDwell:      1800 * time.Millisecond,
		HoldWithNotes:    4200 * time.Millisecond,
		Hold:             3000 * time.Millisecond,
		OrbitRevolutions: 0.06,
		FirstLeg:         1500 * time.Millisecond,
		MinLeg:           1800 * time.Millisecond,
		MaxLeg:           4500 * time.Millisecond,
		MetersPerMilli:   60,
		PullBack:         1200 * time.Millisecond,
		FinalLeg:         3000 * time.Millisecond,
		StopRange:        1200,
		StopTilt:         62,
		PullBackRange:    9000,
		PullBackTilt:     35,
		FinalPadding:     1.8,
		FinalMinRange:    50000,
		FinalTilt:        20,
		SessionTTL:       2 * time.Hour,
	}
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "flyover")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "flyover")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.connect_timeout", 5*time.Second)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("geocoder.url", "http://localhost:8090/v1/geocode/batch")
	v.SetDefault("geocoder.timeout", 6*time.Second)
	v.SetDefault("geocoder.cache_ttl", 24*time.Hour)
	v.SetDefault("panorama.url", "http://localhost:8091/v1/panorama")
	v.SetDefault("panorama.timeout", 3*time.Second)
	v.SetDefault("panorama.radius_meters", 200.0)
	v.SetDefault("gazetteer.source", "file")
	v.SetDefault("gazetteer.path", "configs/gazetteer.yaml")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "flyover-prewarm")
	setFlyoverDefaults(v)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: FLYOVER_DATABASE_HOST → database.host
	v.SetEnvPrefix("FLYOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setFlyoverDefaults(v *viper.Viper) {
	d := DefaultFlyover()
	v.SetDefault("flyover.round_precision", d.RoundPrecision)
	v.SetDefault("flyover.jitter_magnitude", d.JitterMagnitude)
	v.SetDefault("flyover.jitter_seed", d.JitterSeed)
	v.SetDefault("flyover.batch_size", d.BatchSize)
	v.SetDefault("flyover.geocode_timeout", d.GeocodeTimeout)
	v.SetDefault("flyover.load_ceiling", d.LoadCeiling)
	v.SetDefault("flyover.probe_window", d.ProbeWindow)
	v.SetDefault("flyover.grace", d.Grace)
	v.SetDefault("flyover.frame_interval", d.FrameInterval)
	v.SetDefault("flyover.zoom_base", d.ZoomBase)
	v.SetDefault("flyover.settle_max_wait", d.SettleMaxWait)
	v.SetDefault("flyover.splash_dwell", d.SplashDwell)
	v.SetDefault("flyover.hold_with_notes", d.HoldWithNotes)
	v.SetDefault("flyover.hold", d.Hold)
	v.SetDefault("flyover.orbit_revolutions", d.OrbitRevolutions)
	v.SetDefault("flyover.first_leg", d.FirstLeg)
	v.SetDefault("flyover.min_leg", d.MinLeg)
	v.SetDefault("flyover.max_leg", d.MaxLeg)
	v.SetDefault("flyover.meters_per_milli", d.MetersPerMilli)
	v.SetDefault("flyover.pull_back", d.PullBack)
	v.SetDefault("flyover.final_leg", d.FinalLeg)
	v.SetDefault("flyover.stop_range", d.StopRange)
	v.SetDefault("flyover.stop_tilt", d.StopTilt)
	v.SetDefault("flyover.pull_back_range", d.PullBackRange)
	v.SetDefault("flyover.pull_back_tilt", d.PullBackTilt)
	v.SetDefault("flyover.final_padding", d.FinalPadding)
	v.SetDefault("flyover.final_min_range", d.FinalMinRange)
	v.SetDefault("flyover.final_tilt", d.FinalTilt)
	v.SetDefault("flyover.session_ttl", d.SessionTTL)
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Gazetteer.Source != "file" && c.Gazetteer.Source != "postgres" {
		errs = append(errs, fmt.Sprintf("gazetteer.source must be file or postgres, got %q", c.Gazetteer.Source))
	}
	if c.Panorama.RadiusMeters <= 0 {
		errs = append(errs, "panorama.radius_meters must be positive")
	}
	errs = append(errs, c.Flyover.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (f FlyoverConfig) validate() []string {
	var errs []string
	if f.RoundPrecision < 0 || f.RoundPrecision > 8 {
		errs = append(errs, fmt.Sprintf("flyover.round_precision must be 0-8, got %d", f.RoundPrecision))
	}
	if f.JitterMagnitude < 0 {
		errs = append(errs, "flyover.jitter_magnitude must not be negative")
	}
	if f.BatchSize <= 0 {
		errs = append(errs, "flyover.batch_size must be positive")
	}
	if f.MinLeg <= 0 || f.MaxLeg < f.MinLeg {
		errs = append(errs, "flyover.min_leg must be positive and not exceed flyover.max_leg")
	}
	if f.MetersPerMilli <= 0 {
		errs = append(errs, "flyover.meters_per_milli must be positive")
	}
	if f.ZoomBase <= 0 {
		errs = append(errs, "flyover.zoom_base must be positive")
	}
	if f.FrameInterval <= 0 {
		errs = append(errs, "flyover.frame_interval must be positive")
	}
	return errs
}
