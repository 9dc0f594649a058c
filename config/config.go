package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // admin-chat
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

// Client configures the admin chat client.
type Client struct {
	UserID      int64  `yaml:"userId"`
	Name        string `yaml:"name"`
	Avatar      string `yaml:"avatar"`
	Token       string `yaml:"token"`       // bearer token for REST and the broker
	Broker      string `yaml:"broker"`      // ws|nats
	WSURL       string `yaml:"wsURL"`       // ws://localhost:8080/ws
	NATSURL     string `yaml:"natsURL"`     // nats://localhost:4222
	NATSPrefix  string `yaml:"natsPrefix"`  // admin-chat.
	RESTBaseURL string `yaml:"restBaseURL"` // http://localhost:8080
	InitialRoom string `yaml:"initialRoom"`
	Timezone    string `yaml:"timezone"` // IANA name used for display

	PollInterval time.Duration `yaml:"pollInterval"` // 30s
	MaxRetries   int           `yaml:"maxRetries"`   // 5
	DialTimeout  time.Duration `yaml:"dialTimeout"`  // 10s
	RESTTimeout  time.Duration `yaml:"restTimeout"`  // 15s
	PingEvery    time.Duration `yaml:"pingEvery"`    // 15s
}

type HTTP struct {
	Addr         string        `yaml:"addr"`         // ":8080"
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // "15s"
	WriteTimeout time.Duration `yaml:"writeTimeout"` // "30s"
	IdleTimeout  time.Duration `yaml:"idleTimeout"`  // "60s"
}

type JWT struct {
	Secret string        `yaml:"secret"` // empty turns auth off
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"maxConns"`
	MinConns        int32         `yaml:"minConns"`
	MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime time.Duration `yaml:"maxConnIdleTime"`
}

type NATS struct {
	URL    string `yaml:"url"` // empty disables the bridge
	Prefix string `yaml:"prefix"`
}

type SeedMember struct {
	UserID  int64 `yaml:"userId"`
	IsAdmin bool  `yaml:"isAdmin"`
}

type SeedRoom struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name"`
	IsGroup bool         `yaml:"isGroup"`
	Members []SeedMember `yaml:"members"`
}

type SeedUser struct {
	ID       int64  `yaml:"id"`
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Avatar   string `yaml:"avatar"`
	IsAdmin  bool   `yaml:"isAdmin"`
}

// Seed is loaded into the relay store at startup.
type Seed struct {
	Users []SeedUser `yaml:"users"`
	Rooms []SeedRoom `yaml:"rooms"`
}

// Relay configures the development relay server.
type Relay struct {
	HTTP           HTTP          `yaml:"http"`
	Store          string        `yaml:"store"` // memory|postgres
	Postgres       Postgres      `yaml:"postgres"`
	NATS           NATS          `yaml:"nats"`
	JWT            JWT           `yaml:"jwt"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	PingEvery      time.Duration `yaml:"pingEvery"`
	Seed           Seed          `yaml:"seed"`
}

type Config struct {
	Logging Logging `yaml:"logging"`
	Client  Client  `yaml:"client"`
	Relay   Relay   `yaml:"relay"`
}

// Load reads the YAML file named by CONFIG_PATH, or
// ./config/config.yaml. Defaults are applied by the Validate methods.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	return &cfg, nil
}

func (c *Config) defaultLogging(service string) {
	if c.Logging.Service == "" {
		c.Logging.Service = service
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
}

// ValidateClient checks the client section and fills its defaults.
func (c *Config) ValidateClient() error {
	c.defaultLogging("admin-chat")
	cl := &c.Client

	if cl.UserID <= 0 {
		return errors.New("client.userId is required")
	}
	if cl.RESTBaseURL == "" {
		return errors.New("client.restBaseURL is required")
	}
	if cl.Broker == "" {
		cl.Broker = "ws"
	}
	switch cl.Broker {
	case "ws":
		if cl.WSURL == "" {
			return errors.New("client.wsURL is required for the ws broker")
		}
	case "nats":
		if cl.NATSURL == "" {
			return errors.New("client.natsURL is required for the nats broker")
		}
	default:
		return fmt.Errorf("client.broker: unknown broker %q", cl.Broker)
	}
	if cl.Timezone != "" {
		if _, err := time.LoadLocation(cl.Timezone); err != nil {
			return fmt.Errorf("client.timezone: %w", err)
		}
	}

	if cl.PollInterval <= 0 {
		cl.PollInterval = 30 * time.Second
	}
	if cl.MaxRetries <= 0 {
		cl.MaxRetries = 5
	}
	if cl.DialTimeout <= 0 {
		cl.DialTimeout = 10 * time.Second
	}
	if cl.RESTTimeout <= 0 {
		cl.RESTTimeout = 15 * time.Second
	}
	if cl.PingEvery <= 0 {
		cl.PingEvery = 15 * time.Second
	}
	return nil
}

// ValidateRelay checks the relay section and fills its defaults.
func (c *Config) ValidateRelay() error {
	c.defaultLogging("admin-chat-relay")
	r := &c.Relay

	if r.HTTP.Addr == "" {
		r.HTTP.Addr = ":8080"
	}
	if r.HTTP.ReadTimeout == 0 {
		r.HTTP.ReadTimeout = 15 * time.Second
	}
	if r.HTTP.WriteTimeout == 0 {
		r.HTTP.WriteTimeout = 30 * time.Second
	}
	if r.HTTP.IdleTimeout == 0 {
		r.HTTP.IdleTimeout = 60 * time.Second
	}
	if r.PingEvery <= 0 {
		r.PingEvery = 15 * time.Second
	}

	if r.Store == "" {
		r.Store = "memory"
	}
	switch r.Store {
	case "memory":
	case "postgres":
		if r.Postgres.DSN == "" {
			return errors.New("relay.postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("relay.store: unknown store %q", r.Store)
	}

	if r.JWT.Secret != "" && r.JWT.TTL <= 0 {
		r.JWT.TTL = 24 * time.Hour
	}
	if r.JWT.Issuer == "" {
		r.JWT.Issuer = "admin-chat-relay"
	}

	users := map[int64]bool{}
	for _, u := range r.Seed.Users {
		if u.ID <= 0 || u.Username == "" {
			return fmt.Errorf("relay.seed.users: id and username are required (got id %d)", u.ID)
		}
		users[u.ID] = true
	}
	for _, room := range r.Seed.Rooms {
		if room.ID == "" {
			return errors.New("relay.seed.rooms: id is required")
		}
		for _, m := range room.Members {
			if !users[m.UserID] {
				return fmt.Errorf("relay.seed.rooms[%s]: unknown member %d", room.ID, m.UserID)
			}
		}
	}
	return nil
}
