package livereload

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/assetflow/internal/pipeline"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the development server port.
	DefaultPort = 5050
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes. Upgraded sockets clear it.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultPingInterval keeps idle reload sockets alive through proxies.
	DefaultPingInterval = 30 * time.Second
)

// Settings captures runtime configuration for the development server.
type Settings struct {
	Enabled bool
	Host    string
	Port    int
	// Root is the directory served statically, normally the build output.
	Root         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	PingInterval time.Duration
}

// SettingsFromConfig builds Settings from the definition's server block and
// environment overrides.
func SettingsFromConfig(cfg pipeline.ServerConfig, root string) Settings {
	settings := Settings{
		Enabled:      true,
		Host:         DefaultHost,
		Port:         DefaultPort,
		Root:         root,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
		PingInterval: DefaultPingInterval,
	}
	if cfg.Enabled != nil {
		settings.Enabled = *cfg.Enabled
	}
	if host := strings.TrimSpace(cfg.Host); host != "" {
		settings.Host = host
	}
	if isValidPort(cfg.Port) {
		settings.Port = cfg.Port
	}
	settings.applyEnvOverrides()
	settings.normalize()
	return settings
}

func (s *Settings) applyEnvOverrides() {
	if s == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("ASSETFLOW_SERVER_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			s.Enabled = enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv("ASSETFLOW_HOST")); host != "" {
		s.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("ASSETFLOW_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			s.Port = parsed
		}
	}
}

func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.PingInterval <= 0 {
		s.PingInterval = DefaultPingInterval
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
