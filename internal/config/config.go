package config

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "NOS_WIZARD_CONFIG"
	DefaultPath   = "/etc/nos/wizard.yaml"
)

type Config struct {
	Bind            string
	BackendURL      string
	BackendSocket   string
	Token           string
	BackendTimeout  time.Duration
	StateBackend    string
	StateDir        string
	DiskSource      string
	DiskPoll        string
	TaskPacing      time.Duration
	SyncInterval    time.Duration
	SyncMaxAttempts int
	WaitForSync     bool
	CORSOrigin      string
	MetricsEnabled  bool
	SessionHashKey  []byte
	SessionBlockKey []byte
	LogLevel        zerolog.Level
}

type fileConfig struct {
	HTTP struct {
		Bind string `yaml:"bind"`
	} `yaml:"http"`
	Backend struct {
		URL     string `yaml:"url"`
		Socket  string `yaml:"socket"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`
	State struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
	} `yaml:"state"`
	Disks struct {
		Source string `yaml:"source"`
		Poll   string `yaml:"poll"`
	} `yaml:"disks"`
	Provision struct {
		Pacing          string `yaml:"pacing"`
		SyncInterval    string `yaml:"syncInterval"`
		SyncMaxAttempts int    `yaml:"syncMaxAttempts"`
		WaitForSync     *bool  `yaml:"waitForSync"`
	} `yaml:"provision"`
	CORS struct {
		Origin string `yaml:"origin"`
	} `yaml:"cors"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Sessions struct {
		HashKey  string `yaml:"hashKey"`
		BlockKey string `yaml:"blockKey"`
	} `yaml:"sessions"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func Defaults() Config {
	return Config{
		Bind:            "127.0.0.1:9100",
		BackendURL:      "http://127.0.0.1:9000",
		BackendTimeout:  30 * time.Second,
		StateBackend:    "file",
		StateDir:        "/var/lib/nos/wizard",
		DiskSource:      "backend",
		DiskPoll:        "@every 10s",
		TaskPacing:      400 * time.Millisecond,
		SyncInterval:    5 * time.Second,
		SyncMaxAttempts: 120,
		WaitForSync:     true,
		MetricsEnabled:  true,
		LogLevel:        zerolog.InfoLevel,
	}
}

// FromEnv loads the file named by NOS_WIZARD_CONFIG, or the default path.
func FromEnv() Config {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

// Load reads the YAML file at path, if present, then applies NOS_*
// environment overrides. Unparseable values keep the previous setting.
func Load(path string) Config {
	cfg := Defaults()
	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			var fc fileConfig
			if yaml.Unmarshal(b, &fc) == nil {
				cfg.applyFile(fc)
			}
		}
	}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyFile(fc fileConfig) {
	setStr(&c.Bind, fc.HTTP.Bind)
	setStr(&c.BackendURL, fc.Backend.URL)
	setStr(&c.BackendSocket, fc.Backend.Socket)
	setStr(&c.Token, fc.Backend.Token)
	setDur(&c.BackendTimeout, fc.Backend.Timeout)
	setStr(&c.StateBackend, fc.State.Backend)
	setStr(&c.StateDir, fc.State.Dir)
	setStr(&c.DiskSource, fc.Disks.Source)
	setStr(&c.DiskPoll, fc.Disks.Poll)
	setDur(&c.TaskPacing, fc.Provision.Pacing)
	setDur(&c.SyncInterval, fc.Provision.SyncInterval)
	if fc.Provision.SyncMaxAttempts > 0 {
		c.SyncMaxAttempts = fc.Provision.SyncMaxAttempts
	}
	if fc.Provision.WaitForSync != nil {
		c.WaitForSync = *fc.Provision.WaitForSync
	}
	setStr(&c.CORSOrigin, fc.CORS.Origin)
	if fc.Metrics.Enabled != nil {
		c.MetricsEnabled = *fc.Metrics.Enabled
	}
	setKey(&c.SessionHashKey, fc.Sessions.HashKey)
	setKey(&c.SessionBlockKey, fc.Sessions.BlockKey)
	setLevel(&c.LogLevel, fc.Logging.Level)
}

func (c *Config) applyEnv() {
	setStr(&c.Bind, os.Getenv("NOS_WIZARD_BIND"))
	setStr(&c.BackendURL, os.Getenv("NOS_BACKEND_URL"))
	setStr(&c.BackendSocket, os.Getenv("NOS_BACKEND_SOCKET"))
	setStr(&c.Token, os.Getenv("NOS_TOKEN"))
	setDur(&c.BackendTimeout, os.Getenv("NOS_BACKEND_TIMEOUT"))
	setStr(&c.StateBackend, os.Getenv("NOS_STATE_BACKEND"))
	setStr(&c.StateDir, os.Getenv("NOS_STATE_DIR"))
	setStr(&c.DiskSource, os.Getenv("NOS_DISK_SOURCE"))
	setStr(&c.DiskPoll, os.Getenv("NOS_DISK_POLL"))
	setDur(&c.TaskPacing, os.Getenv("NOS_TASK_PACING"))
	setDur(&c.SyncInterval, os.Getenv("NOS_SYNC_POLL_INTERVAL"))
	if v := os.Getenv("NOS_SYNC_POLL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SyncMaxAttempts = n
		}
	}
	setBool(&c.WaitForSync, os.Getenv("NOS_SYNC_WAIT"))
	setStr(&c.CORSOrigin, os.Getenv("NOS_CORS_ORIGIN"))
	setBool(&c.MetricsEnabled, os.Getenv("NOS_METRICS"))
	setKey(&c.SessionHashKey, os.Getenv("NOS_SESSION_HASH_KEY"))
	setKey(&c.SessionBlockKey, os.Getenv("NOS_SESSION_BLOCK_KEY"))
	setLevel(&c.LogLevel, os.Getenv("NOS_LOG"))
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDur(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		*dst = d
	}
}

func setBool(dst *bool, v string) {
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setKey(dst *[]byte, v string) {
	if v == "" {
		return
	}
	if b, err := hex.DecodeString(v); err == nil && len(b) > 0 {
		*dst = b
	}
}

func setLevel(dst *zerolog.Level, v string) {
	if v == "" {
		return
	}
	if l, err := zerolog.ParseLevel(v); err == nil {
		*dst = l
	}
}
