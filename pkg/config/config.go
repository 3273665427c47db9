package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
		// BlobDir is where the local dev presigner stores uploaded bytes
		BlobDir string `yaml:"blob_dir"`
	} `yaml:"storage"`
	Limits struct {
		// Governor sliding windows and caps; zero values fall back to
		// governor defaults
		SendWindowSec  int `yaml:"send_window_sec"`
		SendPerActor   int `yaml:"send_per_actor"`
		SendPerThread  int `yaml:"send_per_thread"`
		SendGlobal     int `yaml:"send_global"`
		PollWindowSec  int `yaml:"poll_window_sec"`
		PollPerActor   int `yaml:"poll_per_actor"`
		PollPerThread  int `yaml:"poll_per_thread"`
		PollGlobal     int `yaml:"poll_global"`
		PageSize       int `yaml:"page_size"`
		MaxBodyLen     int `yaml:"max_body_len"`
		MaxAttachBytes int `yaml:"max_attach_bytes"`
		// Edge limiter pool (requests per second per caller)
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"limits"`
	Features struct {
		AudioAttachments bool `yaml:"audio_attachments"`
	} `yaml:"features"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		// MaxAgeDays bounds how long soft-deleted messages and closed
		// threads are kept before purge
		MaxAgeDays int `yaml:"max_age_days"`
	} `yaml:"retention"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	host := c.Server.Address
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Load reads the YAML config at path and applies environment overrides.
// A missing path yields a config of pure defaults and env values.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COURIER_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = p
			}
		}
	}
	if v := os.Getenv("COURIER_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("COURIER_BLOB_DIR"); v != "" {
		cfg.Storage.BlobDir = v
	}
	if v := os.Getenv("COURIER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ParseCommandFlags centralizes flag parsing for the server binary so main
// stays small. It returns raw flag values plus a set of which flags the
// user explicitly provided (explicit flags win over file/env).
func ParseCommandFlags() (addr, db, cfgPath string, set map[string]bool) {
	addrFlag := flag.String("addr", "127.0.0.1:8080", "listen address")
	dbFlag := flag.String("db", "./courier-data", "path to the conversation store")
	cfgFlag := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, set
}

// ResolveConfigPath picks the config file path: explicit flag wins, then
// COURIER_CONFIG, then empty (defaults only).
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("COURIER_CONFIG"); v != "" {
		return v
	}
	return flagVal
}
