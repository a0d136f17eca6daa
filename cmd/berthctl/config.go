package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of a berthctl config file. Durations
// are strings in time.ParseDuration syntax.
type fileConfig struct {
	Backend        string `yaml:"backend"`
	ConnectTimeout string `yaml:"connectTimeout"`
	ZooKeeper      struct {
		Servers        []string `yaml:"servers"`
		SessionTimeout string   `yaml:"sessionTimeout"`
	} `yaml:"zookeeper"`
	Redis struct {
		Addr       string `yaml:"addr"`
		DB         int    `yaml:"db"`
		KeyPrefix  string `yaml:"keyPrefix"`
		SessionTTL string `yaml:"sessionTTL"`
	} `yaml:"redis"`
}

type ctlConfig struct {
	backend        string
	connectTimeout time.Duration

	zkServers        []string
	zkSessionTimeout time.Duration

	redisAddr   string
	redisDB     int
	redisPrefix string
	redisTTL    time.Duration
}

func defaultCtlConfig() ctlConfig {
	return ctlConfig{
		backend:        "zookeeper",
		connectTimeout: 10 * time.Second,
		zkServers:      []string{"127.0.0.1:2181"},
		redisAddr:      "127.0.0.1:6379",
	}
}

// loadConfig reads the file over the defaults. An empty path is just
// the defaults.
func loadConfig(path string) (ctlConfig, error) {
	cfg := defaultCtlConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ctlConfig{}, fmt.Errorf("load config: %w", err)
	}
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return ctlConfig{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.Backend); v != "" {
		cfg.backend = v
	}
	if err := overrideDuration(&cfg.connectTimeout, raw.ConnectTimeout, "connectTimeout"); err != nil {
		return ctlConfig{}, err
	}
	if len(raw.ZooKeeper.Servers) > 0 {
		cfg.zkServers = normalizeServers(raw.ZooKeeper.Servers)
	}
	if err := overrideDuration(&cfg.zkSessionTimeout, raw.ZooKeeper.SessionTimeout, "zookeeper.sessionTimeout"); err != nil {
		return ctlConfig{}, err
	}
	if v := strings.TrimSpace(raw.Redis.Addr); v != "" {
		cfg.redisAddr = v
	}
	if raw.Redis.DB != 0 {
		cfg.redisDB = raw.Redis.DB
	}
	if v := strings.TrimSpace(raw.Redis.KeyPrefix); v != "" {
		cfg.redisPrefix = v
	}
	if err := overrideDuration(&cfg.redisTTL, raw.Redis.SessionTTL, "redis.sessionTTL"); err != nil {
		return ctlConfig{}, err
	}
	return cfg, nil
}

func overrideDuration(dst *time.Duration, raw, name string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func normalizeServers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		v := strings.TrimSpace(s)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
