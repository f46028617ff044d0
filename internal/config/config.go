package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"screepsapi/internal/models"
)

// User is one account whose stats are collected.
type User struct {
	Username  string   `mapstructure:"username"`
	Type      string   `mapstructure:"type"` // "private" or "mmo"/"public"
	Password  string   `mapstructure:"password"`
	Token     string   `mapstructure:"token"`
	Shards    []string `mapstructure:"shards"`
	StatsPath string   `mapstructure:"stats_path"`
}

// Kind maps the configured account type onto a target kind.
func (u User) Kind() models.TargetKind {
	if strings.EqualFold(u.Type, string(models.KindPrivate)) {
		return models.KindPrivate
	}
	return models.KindPublic
}

// Config holds the application's configuration values.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	HTTPPort       string
	ShutdownGrace  time.Duration

	LogFile  string
	LogLevel string

	PublicHost     string
	PublicPort     int
	PrivatePort    int
	RequestTimeout time.Duration

	ProbeCandidates []string
	ProbeTimeout    time.Duration
	ProbeInterval   time.Duration
	ProbeMaxRounds  int

	PollInterval     time.Duration
	MaxConcurrency   int
	FetchGlobalStats bool

	Users []User
}

// NeedsPrivateHost reports whether any configured user targets a private server.
func (c *Config) NeedsPrivateHost() bool {
	for _, u := range c.Users {
		if u.Kind() == models.KindPrivate {
			return true
		}
	}
	return false
}

// Load loads configuration from environment variables with sane defaults.
// When USERS_FILE is set, the users list is read from that YAML file.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		DatabaseDriver:   v.GetString("DATABASE_DRIVER"),
		DatabaseURL:      v.GetString("DATABASE_URL"),
		HTTPPort:         v.GetString("HTTP_PORT"),
		ShutdownGrace:    v.GetDuration("SHUTDOWN_GRACE"),
		LogFile:          v.GetString("LOG_FILE"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		PublicHost:       v.GetString("PUBLIC_HOST"),
		PublicPort:       v.GetInt("PUBLIC_PORT"),
		PrivatePort:      v.GetInt("PRIVATE_PORT"),
		RequestTimeout:   v.GetDuration("REQUEST_TIMEOUT"),
		ProbeCandidates:  splitList(v.GetString("PROBE_CANDIDATES")),
		ProbeTimeout:     v.GetDuration("PROBE_TIMEOUT"),
		ProbeInterval:    v.GetDuration("PROBE_INTERVAL"),
		ProbeMaxRounds:   v.GetInt("PROBE_MAX_ROUNDS"),
		PollInterval:     v.GetDuration("POLL_INTERVAL"),
		MaxConcurrency:   v.GetInt("MAX_CONCURRENCY"),
		FetchGlobalStats: v.GetBool("FETCH_GLOBAL_STATS"),
	}

	for name, d := range map[string]time.Duration{
		"SHUTDOWN_GRACE":  cfg.ShutdownGrace,
		"REQUEST_TIMEOUT": cfg.RequestTimeout,
		"PROBE_TIMEOUT":   cfg.ProbeTimeout,
		"PROBE_INTERVAL":  cfg.ProbeInterval,
		"POLL_INTERVAL":   cfg.PollInterval,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if path := v.GetString("USERS_FILE"); path != "" {
		users, err := loadUsers(path)
		if err != nil {
			return nil, err
		}
		cfg.Users = users
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_URL", "screepsapi.db")
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("SHUTDOWN_GRACE", 10*time.Second)
	v.SetDefault("LOG_FILE", "api.log")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUBLIC_HOST", "screeps.com")
	v.SetDefault("PUBLIC_PORT", 443)
	v.SetDefault("PRIVATE_PORT", 21025)
	v.SetDefault("REQUEST_TIMEOUT", 10*time.Second)
	v.SetDefault("PROBE_CANDIDATES", "localhost,host.docker.internal,172.17.0.1")
	v.SetDefault("PROBE_TIMEOUT", 2500*time.Millisecond)
	v.SetDefault("PROBE_INTERVAL", 60*time.Second)
	v.SetDefault("PROBE_MAX_ROUNDS", 0)
	v.SetDefault("POLL_INTERVAL", 60*time.Second)
	v.SetDefault("MAX_CONCURRENCY", 4)
	v.SetDefault("FETCH_GLOBAL_STATS", false)
}

// loadUsers reads the users list from a YAML file of the form:
//
//	users:
//	  - username: alice
//	    type: private
//	    password: secret
//	    shards: [screeps]
func loadUsers(path string) ([]User, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}

	var users []User
	if err := v.UnmarshalKey("users", &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	for i, u := range users {
		if u.Username == "" {
			return nil, fmt.Errorf("user %d: username is required", i)
		}
		if len(u.Shards) == 0 {
			users[i].Shards = []string{"shard0"}
		}
		if u.StatsPath == "" {
			users[i].StatsPath = "stats"
		}
	}
	return users, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
