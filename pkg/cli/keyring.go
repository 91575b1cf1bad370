package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "com.wrtkit.router-command"
	keyringPasswordService = "routerPassword"
	keyringDirectory       = "~/.wrt_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

// PromptSecret reads a secret from the terminal without echoing it. The prompt is written to
// stdout when stdout is a terminal, falling back to stderr so prompts stay visible when output
// is redirected.
func PromptSecret(prompt string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		} else {
			w = os.Stderr
		}
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

// getPassword supplies the keyring backend's unlock password. This is the password protecting
// the keyring itself, not the router password stored inside it.
func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}
	password, err := PromptSecret(prompt)
	if err != nil {
		return "", err
	}
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	keyring.Debug = c.Debug
	return keyring.Open(c.Backend)
}

func (c *Config) fullPasswordName() string {
	return keyringPasswordService + "." + c.KeyringPasswordName
}

// LoadPasswordFromKeyring loads a router password from the system keyring.
//
// The configured name must match the value provided to SavePasswordToKeyring.
func (c *Config) LoadPasswordFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}

	item, err := kr.Get(c.fullPasswordName())
	if err != nil {
		return "", fmt.Errorf("could not load password: %s", err)
	}
	return string(item.Data), nil
}

// SavePasswordToKeyring writes a router password to the system keyring.
//
// The name identifies the password for future use with LoadPasswordFromKeyring and does not
// necessarily need to match the router's login username.
func (c *Config) SavePasswordToKeyring(password string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}

	if err := kr.Set(keyring.Item{
		Key:  c.fullPasswordName(),
		Data: []byte(password),
	}); err != nil {
		return fmt.Errorf("failed to enroll password in keyring: %s", err)
	}
	return nil
}

// DeletePasswordFromKeyring removes a stored router password from the system keyring.
func (c *Config) DeletePasswordFromKeyring() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullPasswordName())
}
