package global

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexport/chatlink/tools/errs"
	"github.com/lexport/chatlink/tools/ids"
)

// Config is the static configuration of the chat coordination layer. A
// client library loads this once at startup; there is no config-center
// watcher here.
type Config struct {
	Realtime RealtimeConf `yaml:"realtime"`
	Redis    RedisConf    `yaml:"redis"`
	Postgres PostgresConf `yaml:"postgres"`
	Manage   ManageConf   `yaml:"manage"`
	Chat     ChatConf     `yaml:"chat"`
	NodeID   int64        `yaml:"node_id"`
}

type RealtimeConf struct {
	Driver            string        `yaml:"driver"` // nats | websocket
	Servers           []string      `yaml:"servers"`
	Name              string        `yaml:"name"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
}

type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConf struct {
	DSN string `yaml:"dsn"`
}

type ManageConf struct {
	BaseURL   string        `yaml:"base_url"`
	Listen    string        `yaml:"listen"`
	JWTSecret string        `yaml:"jwt_secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ChatConf struct {
	PageSize     int           `yaml:"page_size"`
	TypingExpiry time.Duration `yaml:"typing_expiry"`
	PresenceTTL  time.Duration `yaml:"presence_ttl"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
}

// Norm fills defaults in place; zero values never leak into components.
func (c *Config) Norm() {
	if c.Realtime.Driver == "" {
		c.Realtime.Driver = "nats"
	}
	if c.Realtime.ConnectTimeout <= 0 {
		c.Realtime.ConnectTimeout = 20 * time.Second
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		c.Realtime.HeartbeatInterval = 30 * time.Second
	}
	if c.Realtime.SubjectPrefix == "" {
		c.Realtime.SubjectPrefix = "chat"
	}
	if c.Realtime.Name == "" {
		c.Realtime.Name = "chatlink"
	}
	if c.Manage.Timeout <= 0 {
		c.Manage.Timeout = 10 * time.Second
	}
	if c.Manage.Listen == "" {
		c.Manage.Listen = ":8480"
	}
	if c.Chat.PageSize <= 0 {
		c.Chat.PageSize = 50
	}
	if c.Chat.TypingExpiry <= 0 {
		c.Chat.TypingExpiry = 3 * time.Second
	}
	if c.Chat.PresenceTTL <= 0 {
		c.Chat.PresenceTTL = 90 * time.Second
	}
	if c.Chat.SendTimeout <= 0 {
		c.Chat.SendTimeout = 10 * time.Second
	}
	if c.NodeID <= 0 {
		c.NodeID = 1
	}
}

// Load reads and normalizes a YAML config file, and seeds the id generator
// with the configured node id.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WrapMsg(err, "read config", "path", path)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errs.WrapMsg(err, "parse config", "path", path)
	}
	c.Norm()
	ids.SetNodeID(c.NodeID)
	return &c, nil
}
