/*
Package cli facilitates building command-line applications that talk to OpenWrt routers. It
defines a [Config] type that registers common command-line flags (using the Golang flag package)
and environment variable equivalents, resolves the router password from a file, the system
keyring, or an interactive prompt, and connects a ready-to-use cache coordinator.

The package uses [keyring]'s platform-agnostic interface so that the router password can live in
an OS-dependent credential store instead of a plaintext file.

# Example

	import flag

	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds -host, -username, -password-file, etc.
	flag.Parse()
	config.ReadFromEnvironment() // Fills in missing fields from WRT_* variables
	config.LoadCredentials()     // Prompts for passwords before any timeout starts

	router, err := config.Connect(context.Background())
	if err != nil {
		panic(err)
	}
	defer config.UpdateCachedSessions()

Connect performs the ubus login eagerly so that bad credentials surface immediately. When a
session cache file is configured and holds a live token for the endpoint, the login round-trip
is skipped entirely.
*/
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/99designs/keyring"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/cache"
	"github.com/wrtkit/router-command/pkg/connector/inet"
	"github.com/wrtkit/router-command/pkg/coordinator"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/ubus"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvHost         = "WRT_HOST"
	EnvUsername     = "WRT_USERNAME"
	EnvPasswordFile = "WRT_PASSWORD_FILE"
	EnvPasswordName = "WRT_PASSWORD_NAME"
	EnvSessionCache = "WRT_SESSION_CACHE"
	EnvTimeout      = "WRT_TIMEOUT"
	EnvKeyringType  = "WRT_KEYRING_TYPE"
	EnvKeyringPass  = "WRT_KEYRING_PASSWORD"
	EnvKeyringPath  = "WRT_KEYRING_PATH"
	EnvKeyringDebug = "WRT_KEYRING_DEBUG"
)

// DefaultUsername is the login username used when none is configured. OpenWrt ships with a
// root-only ubus ACL, so this is what nearly everyone uses.
const DefaultUsername = "root"

// Flag controls what options should be scanned from the command line and/or environment
// variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagHost         Flag = 1 // Enable router host and timeout options.
	FlagCredentials  Flag = 2 // Enable username/password and keyring options.
	FlagSessionCache Flag = 4 // Enable session cache options.
	FlagAll          Flag = FlagHost | FlagCredentials | FlagSessionCache
)

var (
	ErrNoHost        = errors.New("router host not provided")
	ErrNoCredentials = errors.New("router credentials not provided")
	ErrKeyNotFound   = keyring.ErrKeyNotFound
)

// Config fields determine how a client locates and authenticates to a router.
type Config struct {
	Flags               Flag   // Controls which set of environment variables/CLI flags to use.
	Host                string // Router hostname or full ubus endpoint URL.
	Username            string // Login username; DefaultUsername when empty.
	PasswordFilename    string
	KeyringPasswordName string // Name of the password entry in the system keyring.
	CacheFilename       string
	Timeout             time.Duration
	Backend             keyring.Config
	BackendType         backendType
	Debug               bool // Enable keyring debug messages

	password       *string // Keyring file/keychain password, not the router password.
	routerPassword string
	sessions       *cache.SessionCache
	client         *ubus.Client
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	if c.Flags.isSet(FlagHost) {
		flag.StringVar(&c.Host, "host", "", "Router hostname or ubus endpoint `URL`. Defaults to $WRT_HOST.")
		flag.DurationVar(&c.Timeout, "timeout", 0, "HTTP request timeout. Defaults to $WRT_TIMEOUT.")
	}
	if c.Flags.isSet(FlagCredentials) {
		flag.StringVar(&c.Username, "username", "", "Login `username`. Defaults to $WRT_USERNAME, then "+DefaultUsername+".")
		flag.StringVar(&c.PasswordFilename, "password-file", "", "A `file` containing the login password. Defaults to $WRT_PASSWORD_FILE.")
		flag.StringVar(&c.KeyringPasswordName, "password-name", "", "System keyring `name` for the login password. Defaults to $WRT_PASSWORD_NAME.")
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $WRT_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagSessionCache) {
		flag.StringVar(&c.CacheFilename, "session-cache", "", "Load session cache from `file`. Defaults to $WRT_SESSION_CACHE.")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent
// the environment from overriding explicit command-line parameters.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagHost) {
		if c.Host == "" {
			c.Host = os.Getenv(EnvHost)
			log.Debug("Set host to '%s'", c.Host)
		}
		if c.Timeout == 0 {
			if value := os.Getenv(EnvTimeout); value != "" {
				timeout, err := time.ParseDuration(value)
				if err != nil || timeout <= 0 {
					log.Warning("Ignoring invalid %s value '%s'", EnvTimeout, value)
				} else {
					c.Timeout = timeout
					log.Debug("Set timeout to %s", c.Timeout)
				}
			}
		}
	}
	if c.Flags.isSet(FlagCredentials) {
		if c.Username == "" {
			c.Username = os.Getenv(EnvUsername)
			log.Debug("Set username to '%s'", c.Username)
		}
		if c.PasswordFilename == "" && c.KeyringPasswordName == "" {
			c.PasswordFilename = os.Getenv(EnvPasswordFile)
			log.Debug("Set password file to '%s'", c.PasswordFilename)

			c.KeyringPasswordName = os.Getenv(EnvPasswordName)
			log.Debug("Set password name to '%s'", c.KeyringPasswordName)
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring password from environment")
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
			log.Debug("Set keyring file path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring debug logging to '%v'", c.Debug)
		}
	}
	if c.Flags.isSet(FlagSessionCache) {
		if c.CacheFilename == "" {
			c.CacheFilename = os.Getenv(EnvSessionCache)
			log.Debug("Set session cache file to '%s'", c.CacheFilename)
		}
	}
}

// LoadCredentials resolves the router password, prompting interactively if required. Call this
// method before [Config.Connect] to prevent interactive prompts from counting against timeouts.
func (c *Config) LoadCredentials() error {
	if c.Flags.isSet(FlagCredentials) {
		if _, err := c.Password(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) user() string {
	if c.Username != "" {
		return c.Username
	}
	return DefaultUsername
}

// Password resolves the router login password: an explicit file first, then the system keyring,
// then an interactive prompt. The resolved password is cached for subsequent calls.
func (c *Config) Password() (string, error) {
	if c.routerPassword != "" {
		return c.routerPassword, nil
	}
	if !c.Flags.isSet(FlagCredentials) {
		return "", ErrNoCredentials
	}
	if c.PasswordFilename != "" {
		data, err := os.ReadFile(c.PasswordFilename)
		if err != nil {
			return "", fmt.Errorf("could not read password file: %s", err)
		}
		c.routerPassword = strings.TrimSpace(string(data))
		return c.routerPassword, nil
	}
	if c.KeyringPasswordName != "" {
		password, err := c.LoadPasswordFromKeyring()
		if err != nil {
			return "", err
		}
		c.routerPassword = password
		return c.routerPassword, nil
	}
	password, err := PromptSecret(fmt.Sprintf("Password for %s@%s", c.user(), c.Host))
	if err != nil {
		return "", err
	}
	c.routerPassword = password
	return c.routerPassword, nil
}

func (c *Config) loadCache() error {
	if c.CacheFilename == "" || c.sessions != nil {
		return nil
	}
	log.Debug("Loading session cache from %s...", c.CacheFilename)
	var err error
	c.sessions, err = cache.ImportFromFile(c.CacheFilename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load session cache: %s", err)
		}
		// Create a new cache if one couldn't be loaded from the file.
		c.sessions = cache.New(0)
	}
	return nil
}

// Client returns a ubus client for the configured router, creating it on first use. When the
// session cache holds a live token for the endpoint, the client resumes it instead of logging
// in.
func (c *Config) Client() (*ubus.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	if c.Host == "" {
		return nil, ErrNoHost
	}
	password, err := c.Password()
	if err != nil {
		return nil, err
	}
	if err := c.loadCache(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: inet.DefaultTimeout}
	if c.Timeout > 0 {
		httpClient.Timeout = c.Timeout
	}
	conn := inet.NewConnectionWithClient(c.Host, httpClient)
	client := ubus.NewClient(conn, ubus.Config{Username: c.user(), Password: password})

	if c.sessions != nil {
		if entry, ok := c.sessions.GetEntry(client.Endpoint()); ok {
			log.Debug("Resuming cached session with %s", client.Endpoint())
			client.ResumeSession(entry.SessionID, entry.ExpiresAt)
		}
	}
	c.client = client
	return client, nil
}

// Connect authenticates to the configured router and returns a coordinator serving its data.
// Bad credentials and unreachable devices surface here rather than on the first read.
func (c *Config) Connect(ctx context.Context) (*coordinator.Coordinator, error) {
	client, err := c.Client()
	if err != nil {
		return nil, err
	}
	if _, err := client.EnsureSession(ctx); err != nil {
		return nil, err
	}
	return coordinator.New(client, registry.Builtin(), coordinator.Config{}), nil
}

// UpdateCachedSessions writes current session state back to c.CacheFilename.
//
// If c.CacheFilename is not set or no connection was made, this method does nothing.
func (c *Config) UpdateCachedSessions() {
	if c.CacheFilename == "" || c.sessions == nil || c.client == nil {
		return
	}
	entry := cache.Entry{
		SessionID: c.client.SessionID(),
		IssuedAt:  time.Now(),
		ExpiresAt: c.client.SessionExpiresAt(),
	}
	if err := c.sessions.Update(c.client.Endpoint(), entry); err != nil {
		log.Error("Error updating session cache: %s", err)
		return
	}
	if err := c.sessions.ExportToFile(c.CacheFilename); err != nil {
		log.Error("Error writing session cache: %s", err)
	}
}

// Logout destroys the router session and removes it from the session cache.
func (c *Config) Logout(ctx context.Context) error {
	client, err := c.Client()
	if err != nil {
		return err
	}
	logoutErr := client.Logout(ctx)
	if c.sessions != nil {
		if err := c.sessions.Update(client.Endpoint(), cache.Entry{}); err == nil && c.CacheFilename != "" {
			if err := c.sessions.ExportToFile(c.CacheFilename); err != nil {
				log.Error("Error writing session cache: %s", err)
			}
		}
	}
	return logoutErr
}
