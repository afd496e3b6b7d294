package config

import (
	"time"

	"limitgate/internal/storage"
)

// Config holds the full service configuration
type Config struct {
	Server      Server      `yaml:"server"`
	Management  Management  `yaml:"management"`
	Auth        Auth        `yaml:"auth"`
	Redis       Redis       `yaml:"redis"`
	Database    Database    `yaml:"database"`
	Cache       Cache       `yaml:"cache"`
	Limits      Limits      `yaml:"limits"`
	Plans       []PlanSpec  `yaml:"plans"`
	Maintenance Maintenance `yaml:"maintenance"`
	Telemetry   Telemetry   `yaml:"telemetry"`
}

// Server configures the API listener
type Server struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// Management configures the metrics/health listener
type Management struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Auth configures bearer token validation
type Auth struct {
	// SigningMethod is the JWT signing algorithm (HS256, RS256)
	SigningMethod string `yaml:"signingMethod"`
	// Secret for HS256/HS512 validation
	Secret string `yaml:"secret"`
	// PublicKey (PEM) for RS256/RS512 validation
	PublicKey string `yaml:"publicKey"`
	// Issuer is the expected token issuer
	Issuer string `yaml:"issuer"`
	// Audience is the expected audience
	Audience []string `yaml:"audience"`
}

// Redis configures the rate-limit counter backend
type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Database configures the SQLite usage store
type Database struct {
	Path string `yaml:"path"`
}

// Cache configures the in-process TTL cache
type Cache struct {
	SweepInterval int `yaml:"sweepInterval"` // seconds
	MaxEntries    int `yaml:"maxEntries"`
	AnalyticsTTL  int `yaml:"analyticsTTL"` // seconds
}

// Limits configures the rate-limit classes
type Limits struct {
	Classes []LimitClass `yaml:"classes"`
}

// LimitClass is one named rate-limit configuration
type LimitClass struct {
	Name          string `yaml:"name"`
	MaxRequests   int    `yaml:"maxRequests"`
	WindowMinutes int    `yaml:"windowMinutes"`
	// KeyBy selects the identifier: "user" or "ip"
	KeyBy string `yaml:"keyBy"`
}

// Window returns the class's window as a duration
func (c *LimitClass) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// PlanSpec declares one plan's ceilings. Omitted fields mean no ceiling.
type PlanSpec struct {
	Plan           string `yaml:"plan"`
	MaxSites       *int   `yaml:"maxSites"`
	MaxPrompts     *int   `yaml:"maxPrompts"`
	MaxScans       *int   `yaml:"maxScans"`
	MaxCompetitors *int   `yaml:"maxCompetitors"`
	MaxReports     *int   `yaml:"maxReports"`
}

// ToPlanLimits converts to the storage representation
func (p *PlanSpec) ToPlanLimits() *storage.PlanLimits {
	return &storage.PlanLimits{
		Plan:           storage.Plan(p.Plan),
		MaxSites:       p.MaxSites,
		MaxPrompts:     p.MaxPrompts,
		MaxScans:       p.MaxScans,
		MaxCompetitors: p.MaxCompetitors,
		MaxReports:     p.MaxReports,
	}
}

// Maintenance configures the scheduled jobs
type Maintenance struct {
	// PurgeSchedule is the cron spec for rate-limit record purging
	PurgeSchedule string `yaml:"purgeSchedule"`
	// ResetSchedule is the cron spec for the billing-cycle usage reset
	ResetSchedule string `yaml:"resetSchedule"`
	// ResetAfterDays is how stale a user's last_reset must be before the
	// cycle reset touches it
	ResetAfterDays int `yaml:"resetAfterDays"`
}

// Telemetry configures tracing
type Telemetry struct {
	Tracing Tracing `yaml:"tracing"`
}

// Tracing configures the OTLP trace exporter
type Tracing struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// Class returns the limit class with the given name, or nil
func (c *Config) Class(name string) *LimitClass {
	for i := range c.Limits.Classes {
		if c.Limits.Classes[i].Name == name {
			return &c.Limits.Classes[i]
		}
	}
	return nil
}
