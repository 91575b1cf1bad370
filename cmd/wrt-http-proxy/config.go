package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wrtkit/router-command/pkg/proxy"
)

const defaultListen = "localhost:8443"

// Duration wraps time.Duration so config fields accept values like "25ms" or "1h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %s", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// TLSConfig points at the server certificate pair. Both files must be set to enable TLS.
type TLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// AuthConfig configures bearer-token verification. The secret may be inlined or read from a
// file; the file wins when both are set.
type AuthConfig struct {
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`
	Issuer     string `yaml:"issuer"`
}

func (a *AuthConfig) secret() ([]byte, error) {
	if a.SecretFile != "" {
		data, err := os.ReadFile(a.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("could not read auth secret: %s", err)
		}
		return []byte(strings.TrimSpace(string(data))), nil
	}
	if a.Secret != "" {
		return []byte(a.Secret), nil
	}
	return nil, fmt.Errorf("no auth secret configured")
}

// RouterConfig describes one device the proxy serves.
type RouterConfig struct {
	Host         string   `yaml:"host"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	PasswordFile string   `yaml:"password_file"`
	InsecureTLS  bool     `yaml:"insecure_tls"`
	Timeout      Duration `yaml:"timeout"`

	// Coordinator tuning. Zero values select the package defaults.
	Window      Duration            `yaml:"window"`
	StaleFactor int                 `yaml:"stale_factor"`
	MaxBatch    int                 `yaml:"max_batch"`
	TTL         map[string]Duration `yaml:"ttl"`
}

func (r *RouterConfig) username() string {
	if r.Username != "" {
		return r.Username
	}
	return "root"
}

func (r *RouterConfig) password() (string, error) {
	if r.PasswordFile != "" {
		data, err := os.ReadFile(r.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("could not read password file: %s", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return r.Password, nil
}

// ProxyConfig is the daemon's YAML configuration file.
type ProxyConfig struct {
	Listen    string                  `yaml:"listen"`
	Timeout   Duration                `yaml:"timeout"`
	TLS       TLSConfig               `yaml:"tls"`
	Auth      AuthConfig              `yaml:"auth"`
	Snapshots string                  `yaml:"snapshots"`
	Routers   map[string]RouterConfig `yaml:"routers"`
}

// LoadConfig reads and validates the config file at path. Unknown fields are rejected so typos
// fail loudly instead of silently running with defaults.
func LoadConfig(path string) (*ProxyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates raw YAML configuration.
func ParseConfig(data []byte) (*ProxyConfig, error) {
	var config ProxyConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("malformed config: %s", err)
	}
	if config.Listen == "" {
		config.Listen = defaultListen
	}
	if config.Timeout <= 0 {
		config.Timeout = Duration(proxy.DefaultTimeout)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *ProxyConfig) validate() error {
	if len(c.Routers) == 0 {
		return fmt.Errorf("no routers configured")
	}
	for name, router := range c.Routers {
		if router.Host == "" {
			return fmt.Errorf("router %q: host is required", name)
		}
	}
	if c.Auth.Secret == "" && c.Auth.SecretFile == "" {
		return fmt.Errorf("auth: a secret or secret_file is required")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("tls: cert and key must be set together")
	}
	return nil
}
