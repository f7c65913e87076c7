// Package config loads the relay configuration from the environment
// (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kkyr/fig"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const EnvPrefix = "PEERLINK"

type Config struct {
	Debug   bool `fig:"debug"`
	Console bool `fig:"console"`

	HTTP        HTTP        `fig:"http"`
	DB          DB          `fig:"db"`
	Redis       Redis       `fig:"redis"`
	Relay       Relay       `fig:"relay"`
	Matchmaking Matchmaking `fig:"matchmaking"`
	Auth        Auth        `fig:"auth"`
	ICE         ICE         `fig:"ice"`
}

type HTTP struct {
	Addr         string        `fig:"addr" default:":8080"`
	ReadTimeout  time.Duration `fig:"read_timeout" default:"10s"`
	WriteTimeout time.Duration `fig:"write_timeout" default:"10s"`
}

type DB struct {
	// Driver is "postgres" or "sqlite".
	Driver string `fig:"driver" default:"postgres"`
	DSN    string `fig:"dsn" default:"host=localhost user=user password=password dbname=peerlinkdb port=5432 sslmode=disable"`
}

type Redis struct {
	Enabled  bool   `fig:"enabled"`
	Addr     string `fig:"addr" default:"localhost:6380"`
	Password string `fig:"password"`
	DB       int    `fig:"db"`
	// Fanout mirrors hub publishes through Redis so several relay instances
	// share groups.
	Fanout bool `fig:"fanout"`
}

type Relay struct {
	MaxFrameBytes     int     `fig:"max_frame_bytes"`
	HardReadLimit     int64   `fig:"hard_read_limit"`
	SendBuffer        int     `fig:"send_buffer"`
	MessagesPerSecond float64 `fig:"messages_per_second"`
	MessageBurst      int     `fig:"message_burst"`
}

type Matchmaking struct {
	RequestTTL     time.Duration `fig:"request_ttl"`
	ReaperInterval time.Duration `fig:"reaper_interval"`
}

type Auth struct {
	// JWTSecret enables token issuing and the matchmaking token check when set.
	JWTSecret string        `fig:"jwt_secret"`
	TokenTTL  time.Duration `fig:"token_ttl" default:"72h"`
}

type ICE struct {
	StunURLs       string `fig:"stun_urls"`
	TurnURLs       string `fig:"turn_urls"`
	TurnUsername   string `fig:"turn_username"`
	TurnCredential string `fig:"turn_credential"`
}

// Load reads envFile (ignored when missing) and then PEERLINK_* variables.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	var cfg Config
	if err := fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix)); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Relay.MaxFrameBytes <= 0 {
		c.Relay.MaxFrameBytes = MaxFrameBytes
	}
	if c.Relay.HardReadLimit <= 0 {
		c.Relay.HardReadLimit = HardReadLimit
	}
	if c.Relay.SendBuffer <= 0 {
		c.Relay.SendBuffer = SendBufferSize
	}
	if c.Relay.MessagesPerSecond == 0 {
		c.Relay.MessagesPerSecond = MessagesPerSecond
	}
	if c.Relay.MessageBurst <= 0 {
		c.Relay.MessageBurst = MessageBurst
	}
	if c.Matchmaking.RequestTTL <= 0 {
		c.Matchmaking.RequestTTL = RequestTTL
	}
	if c.Matchmaking.ReaperInterval <= 0 {
		c.Matchmaking.ReaperInterval = ReaperInterval
	}
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("db.driver: unsupported driver %q", c.DB.Driver)
	}
	if c.Relay.HardReadLimit < int64(c.Relay.MaxFrameBytes) {
		return errors.New("relay.hard_read_limit must not be below relay.max_frame_bytes")
	}
	if c.Redis.Fanout && !c.Redis.Enabled {
		return errors.New("redis.fanout requires redis.enabled")
	}
	if _, err := c.ICEServers(); err != nil {
		return err
	}
	return nil
}

// ICEServers builds the STUN/TURN list handed to browsers.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if urls, err := parseURLs(c.ICE.StunURLs, "stun"); err != nil {
		return nil, err
	} else if len(urls) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}
	urls, err := parseURLs(c.ICE.TurnURLs, "turn")
	if err != nil {
		return nil, err
	}
	if len(urls) > 0 {
		if c.ICE.TurnUsername == "" || c.ICE.TurnCredential == "" {
			return nil, errors.New("ice.turn_urls requires ice.turn_username and ice.turn_credential")
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       urls,
			Username:   c.ICE.TurnUsername,
			Credential: c.ICE.TurnCredential,
		})
	}
	return servers, nil
}

func parseURLs(raw, scheme string) ([]string, error) {
	var out []string
	for _, u := range strings.Split(raw, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		uri, err := stun.ParseURI(u)
		if err != nil {
			return nil, fmt.Errorf("ice: invalid %s url %q: %w", scheme, u, err)
		}
		if !strings.HasPrefix(uri.Scheme.String(), scheme) {
			return nil, fmt.Errorf("ice: %q is not a %s url", u, scheme)
		}
		out = append(out, u)
	}
	return out, nil
}
